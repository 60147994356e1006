package flows

import (
	"context"
	"errors"
	"testing"

	"github.com/identitykit/identitykit/internal/apierr"
)

func TestSignUpAnonymous(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()

	resp, err := svc.SignUp(context.Background(), realm, SignUpRequest{})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if resp.LocalID == "" {
		t.Error("localId is empty")
	}
	if resp.IDToken == "" || resp.RefreshToken == "" {
		t.Error("anonymous sign-up did not issue tokens")
	}
	if user := realm.UserByLocalID(resp.LocalID); user == nil {
		t.Error("user was not stored")
	}
}

func TestSignUpPassword(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	resp := createPasswordUser(t, svc, realm, "Jane@Example.COM", "hunter22")
	if resp.Email != "jane@example.com" {
		t.Errorf("email not canonicalized: %q", resp.Email)
	}
	if resp.IDToken == "" {
		t.Error("no idToken issued")
	}

	user := realm.UserByEmail("jane@example.com")
	if user == nil {
		t.Fatal("user not indexed by canonical email")
	}
	if user.PasswordHash == "" || user.Salt == "" {
		t.Error("password hash or salt missing")
	}
	if !user.HasPassword() {
		t.Error("password provider not recorded")
	}

	if _, err := svc.SignUp(ctx, realm, SignUpRequest{Email: "jane@example.com", Password: "other123"}); !errors.Is(err, apierr.ErrEmailExists) {
		t.Errorf("duplicate email error = %v", err)
	}
	if _, err := svc.SignUp(ctx, realm, SignUpRequest{Email: "short@example.com", Password: "abc"}); !errors.Is(err, apierr.ErrWeakPassword) {
		t.Errorf("weak password error = %v", err)
	}
	if _, err := svc.SignUp(ctx, realm, SignUpRequest{Email: "nopass@example.com"}); !errors.Is(err, apierr.ErrMissingPassword) {
		t.Errorf("missing password error = %v", err)
	}
}

func TestSignUpPrivileged(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, realm, SignUpRequest{
		LocalID:       "fixed-id",
		Email:         "admin-made@example.com",
		EmailVerified: true,
		PhoneNumber:   "+15555550123",
		Privileged:    true,
	})
	if err != nil {
		t.Fatalf("privileged SignUp: %v", err)
	}
	if resp.LocalID != "fixed-id" {
		t.Errorf("localId = %q", resp.LocalID)
	}
	if resp.IDToken != "" {
		t.Error("privileged sign-up should not issue tokens")
	}
	user := realm.UserByLocalID("fixed-id")
	if user == nil || !user.EmailVerified || user.PhoneNumber != "+15555550123" {
		t.Errorf("stored user = %+v", user)
	}

	if _, err := svc.SignUp(ctx, realm, SignUpRequest{LocalID: "fixed-id", Privileged: true}); !errors.Is(err, apierr.ErrDuplicateLocalID) {
		t.Errorf("duplicate localId error = %v", err)
	}
	if _, err := svc.SignUp(ctx, realm, SignUpRequest{LocalID: "client-chosen"}); err == nil {
		t.Error("non-privileged localId should be rejected")
	}
}
