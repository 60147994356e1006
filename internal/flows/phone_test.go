package flows

import (
	"context"
	"errors"
	"testing"

	"github.com/identitykit/identitykit/internal/apierr"
	"github.com/identitykit/identitykit/internal/store"
)

func TestSendVerificationCode(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	resp, err := svc.SendVerificationCode(ctx, realm, SendVerificationCodeRequest{
		PhoneNumber: "+15555550100",
	})
	if err != nil {
		t.Fatalf("SendVerificationCode: %v", err)
	}
	if resp.SessionInfo == "" {
		t.Fatal("no sessionInfo returned")
	}
	if code := latestPhoneCode(t, svc, realm, resp.SessionInfo); code == "" {
		t.Fatal("no code recorded for session")
	}
}

func TestSendVerificationCodeErrors(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	for _, phone := range []string{"", "555-0100", "not a phone"} {
		if _, err := svc.SendVerificationCode(ctx, realm, SendVerificationCodeRequest{PhoneNumber: phone}); !errors.Is(err, apierr.ErrInvalidPhoneNumber) {
			t.Errorf("phone %q: err = %v", phone, err)
		}
	}

	ps.EnsureTenant("tenant-1")
	tenant, err := ps.TenantRealm("tenant-1")
	if err != nil {
		t.Fatalf("TenantRealm: %v", err)
	}
	if _, err := svc.SendVerificationCode(ctx, tenant, SendVerificationCodeRequest{PhoneNumber: "+15555550100"}); !errors.Is(err, apierr.ErrUnsupportedTenantOperation) {
		t.Errorf("tenant realm err = %v", err)
	}
}

func TestSignInWithPhoneNumber(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	sent, err := svc.SendVerificationCode(ctx, realm, SendVerificationCodeRequest{PhoneNumber: "+15555550123"})
	if err != nil {
		t.Fatalf("SendVerificationCode: %v", err)
	}
	code := latestPhoneCode(t, svc, realm, sent.SessionInfo)

	resp, err := svc.SignInWithPhoneNumber(ctx, realm, SignInWithPhoneNumberRequest{
		SessionInfo: sent.SessionInfo,
		Code:        code,
	})
	if err != nil {
		t.Fatalf("SignInWithPhoneNumber: %v", err)
	}
	if !resp.IsNewUser {
		t.Error("first sign-in should create the account")
	}
	if resp.PhoneNumber != "+15555550123" || resp.IDToken == "" || resp.RefreshToken == "" {
		t.Errorf("response = %+v", resp)
	}

	user := realm.UserByPhoneNumber("+15555550123")
	if user == nil || user.LocalID != resp.LocalID {
		t.Fatal("phone index does not resolve the new account")
	}

	// A second round trip signs in the same account.
	sent2, err := svc.SendVerificationCode(ctx, realm, SendVerificationCodeRequest{PhoneNumber: "+15555550123"})
	if err != nil {
		t.Fatalf("second SendVerificationCode: %v", err)
	}
	resp2, err := svc.SignInWithPhoneNumber(ctx, realm, SignInWithPhoneNumberRequest{
		SessionInfo: sent2.SessionInfo,
		Code:        latestPhoneCode(t, svc, realm, sent2.SessionInfo),
	})
	if err != nil {
		t.Fatalf("second sign-in: %v", err)
	}
	if resp2.IsNewUser || resp2.LocalID != resp.LocalID {
		t.Errorf("second sign-in = %+v", resp2)
	}
}

func TestSignInWithPhoneNumberCodeMismatch(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	sent, err := svc.SendVerificationCode(ctx, realm, SendVerificationCodeRequest{PhoneNumber: "+15555550124"})
	if err != nil {
		t.Fatalf("SendVerificationCode: %v", err)
	}

	if _, err := svc.SignInWithPhoneNumber(ctx, realm, SignInWithPhoneNumberRequest{
		SessionInfo: sent.SessionInfo,
		Code:        "000000",
	}); !errors.Is(err, apierr.ErrInvalidCode) {
		t.Errorf("wrong code err = %v", err)
	}
	if _, err := svc.SignInWithPhoneNumber(ctx, realm, SignInWithPhoneNumberRequest{
		SessionInfo: "no-such-session",
		Code:        "000000",
	}); !errors.Is(err, apierr.ErrInvalidSessionInfo) {
		t.Errorf("unknown session err = %v", err)
	}
	if _, err := svc.SignInWithPhoneNumber(ctx, realm, SignInWithPhoneNumberRequest{
		SessionInfo: sent.SessionInfo,
	}); !errors.Is(err, apierr.ErrMissingCode) {
		t.Errorf("missing code err = %v", err)
	}
	if _, err := svc.SignInWithPhoneNumber(ctx, realm, SignInWithPhoneNumberRequest{
		Code: "000000",
	}); !errors.Is(err, apierr.ErrMissingSessionInfo) {
		t.Errorf("missing session err = %v", err)
	}
}

func TestSignInWithPhoneNumberTemporaryProof(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	// Account A owns the phone number.
	sent, err := svc.SendVerificationCode(ctx, realm, SendVerificationCodeRequest{PhoneNumber: "+15555550125"})
	if err != nil {
		t.Fatalf("SendVerificationCode: %v", err)
	}
	if _, err := svc.SignInWithPhoneNumber(ctx, realm, SignInWithPhoneNumberRequest{
		SessionInfo: sent.SessionInfo,
		Code:        latestPhoneCode(t, svc, realm, sent.SessionInfo),
	}); err != nil {
		t.Fatalf("owner sign-in: %v", err)
	}

	// Account B tries to claim the same number while signed in.
	other := createPasswordUser(t, svc, realm, "other@example.com", "hunter22")
	sent2, err := svc.SendVerificationCode(ctx, realm, SendVerificationCodeRequest{PhoneNumber: "+15555550125"})
	if err != nil {
		t.Fatalf("second SendVerificationCode: %v", err)
	}
	resp, err := svc.SignInWithPhoneNumber(ctx, realm, SignInWithPhoneNumberRequest{
		SessionInfo: sent2.SessionInfo,
		Code:        latestPhoneCode(t, svc, realm, sent2.SessionInfo),
		IDToken:     other.IDToken,
	})
	if err != nil {
		t.Fatalf("conflicting sign-in: %v", err)
	}
	if resp.TemporaryProof == "" || resp.IDToken != "" {
		t.Fatalf("expected a temporary proof and no tokens, got %+v", resp)
	}

	// Replaying the proof with the same conflicting idToken is a hard error.
	if _, err := svc.SignInWithPhoneNumber(ctx, realm, SignInWithPhoneNumberRequest{
		TemporaryProof: resp.TemporaryProof,
		PhoneNumber:    "+15555550125",
		IDToken:        other.IDToken,
	}); !errors.Is(err, apierr.ErrPhoneNumberExists) {
		t.Errorf("proof replay err = %v", err)
	}

	// Without the idToken the proof signs in the number's owner.
	owner, err := svc.SignInWithPhoneNumber(ctx, realm, SignInWithPhoneNumberRequest{
		TemporaryProof: resp.TemporaryProof,
		PhoneNumber:    "+15555550125",
	})
	if err != nil {
		t.Fatalf("proof sign-in: %v", err)
	}
	if owner.IDToken == "" || owner.IsNewUser {
		t.Errorf("proof sign-in = %+v", owner)
	}

	if _, err := svc.SignInWithPhoneNumber(ctx, realm, SignInWithPhoneNumberRequest{
		TemporaryProof: "bogus",
		PhoneNumber:    "+15555550125",
	}); !errors.Is(err, apierr.ErrInvalidTemporaryProof) {
		t.Errorf("bogus proof err = %v", err)
	}
}

func TestSignInWithPhoneNumberLinksToIDToken(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	signedIn := createPasswordUser(t, svc, realm, "linker@example.com", "hunter22")
	sent, err := svc.SendVerificationCode(ctx, realm, SendVerificationCodeRequest{PhoneNumber: "+15555550126"})
	if err != nil {
		t.Fatalf("SendVerificationCode: %v", err)
	}
	resp, err := svc.SignInWithPhoneNumber(ctx, realm, SignInWithPhoneNumberRequest{
		SessionInfo: sent.SessionInfo,
		Code:        latestPhoneCode(t, svc, realm, sent.SessionInfo),
		IDToken:     signedIn.IDToken,
	})
	if err != nil {
		t.Fatalf("SignInWithPhoneNumber: %v", err)
	}
	if resp.IsNewUser || resp.LocalID != signedIn.LocalID {
		t.Errorf("link response = %+v", resp)
	}
	user := realm.UserByLocalID(signedIn.LocalID)
	if user.PhoneNumber != "+15555550126" {
		t.Errorf("phone not linked: %+v", user)
	}
	found := false
	for _, info := range user.ProviderUserInfo {
		if info.ProviderID == store.ProviderPhone {
			found = true
		}
	}
	if !found {
		t.Error("phone provider entry missing")
	}
}
