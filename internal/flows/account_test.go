package flows

import (
	"context"
	"errors"
	"testing"

	"github.com/identitykit/identitykit/internal/apierr"
	"github.com/identitykit/identitykit/internal/store"
)

func strptr(s string) *string { return &s }

func TestSetAccountInfoProfile(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	created := createPasswordUser(t, svc, realm, "jane@example.com", "hunter22")

	resp, err := svc.SetAccountInfo(ctx, realm, SetAccountInfoRequest{
		IDToken:     created.IDToken,
		DisplayName: strptr("Jane Doe"),
		PhotoURL:    strptr("http://localhost/jane.png"),
	})
	if err != nil {
		t.Fatalf("SetAccountInfo: %v", err)
	}
	if resp.DisplayName != "Jane Doe" {
		t.Errorf("displayName = %q", resp.DisplayName)
	}
	if resp.IDToken != "" {
		t.Error("profile change should not rotate tokens")
	}

	// An explicitly empty pointer clears the field.
	if _, err := svc.SetAccountInfo(ctx, realm, SetAccountInfoRequest{
		IDToken:     created.IDToken,
		DisplayName: strptr(""),
	}); err != nil {
		t.Fatalf("clear displayName: %v", err)
	}
	if user := realm.UserByLocalID(created.LocalID); user.DisplayName != "" {
		t.Errorf("displayName not cleared: %q", user.DisplayName)
	}
}

func TestSetAccountInfoPasswordRotatesTokens(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	created := createPasswordUser(t, svc, realm, "jane@example.com", "hunter22")
	before := realm.UserByLocalID(created.LocalID)

	resp, err := svc.SetAccountInfo(ctx, realm, SetAccountInfoRequest{
		IDToken:  created.IDToken,
		Password: "NewPassword9",
	})
	if err != nil {
		t.Fatalf("SetAccountInfo: %v", err)
	}
	if resp.IDToken == "" || resp.RefreshToken == "" {
		t.Error("password change should issue fresh tokens")
	}
	after := realm.UserByLocalID(created.LocalID)
	if after.PasswordHash == before.PasswordHash {
		t.Error("password hash unchanged")
	}

	if _, err := svc.SignInWithPassword(ctx, realm, SignInWithPasswordRequest{
		Email:    "jane@example.com",
		Password: "NewPassword9",
	}); err != nil {
		t.Errorf("sign-in with new password: %v", err)
	}
	if _, err := svc.SignInWithPassword(ctx, realm, SignInWithPasswordRequest{
		Email:    "jane@example.com",
		Password: "hunter22",
	}); !errors.Is(err, apierr.ErrInvalidPassword) {
		t.Errorf("old password error = %v", err)
	}
}

func TestSetAccountInfoEmailChange(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	created := createPasswordUser(t, svc, realm, "old@example.com", "hunter22")
	createPasswordUser(t, svc, realm, "taken@example.com", "hunter22")

	if _, err := svc.SetAccountInfo(ctx, realm, SetAccountInfoRequest{
		IDToken: created.IDToken,
		Email:   "taken@example.com",
	}); !errors.Is(err, apierr.ErrEmailExists) {
		t.Errorf("taken email error = %v", err)
	}
	if _, err := svc.SetAccountInfo(ctx, realm, SetAccountInfoRequest{
		IDToken: created.IDToken,
		Email:   "not-an-email",
	}); !errors.Is(err, apierr.ErrInvalidEmail) {
		t.Errorf("invalid email error = %v", err)
	}

	resp, err := svc.SetAccountInfo(ctx, realm, SetAccountInfoRequest{
		IDToken: created.IDToken,
		Email:   "new@example.com",
	})
	if err != nil {
		t.Fatalf("email change: %v", err)
	}
	if resp.Email != "new@example.com" {
		t.Errorf("email = %q", resp.Email)
	}
	user := realm.UserByLocalID(created.LocalID)
	if user.Email != "new@example.com" {
		t.Errorf("stored email = %q", user.Email)
	}
	// The original address is kept for recovery.
	if user.InitialEmail != "old@example.com" {
		t.Errorf("initialEmail = %q", user.InitialEmail)
	}
	if realm.UserByEmail("old@example.com") != nil {
		t.Error("old email still indexed")
	}
}

func TestSetAccountInfoPrivileged(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	created := createPasswordUser(t, svc, realm, "jane@example.com", "hunter22")

	if _, err := svc.SetAccountInfo(ctx, realm, SetAccountInfoRequest{
		LocalID:          created.LocalID,
		CustomAttributes: `{"role": "admin"}`,
		Privileged:       true,
	}); err != nil {
		t.Fatalf("privileged update: %v", err)
	}
	user := realm.UserByLocalID(created.LocalID)
	if user.CustomAttributes != `{"role": "admin"}` {
		t.Errorf("customAttributes = %q", user.CustomAttributes)
	}

	// Reserved claims are rejected.
	if _, err := svc.SetAccountInfo(ctx, realm, SetAccountInfoRequest{
		LocalID:          created.LocalID,
		CustomAttributes: `{"sub": "x"}`,
		Privileged:       true,
	}); err == nil {
		t.Error("reserved claim should be rejected")
	}
}

func TestDeleteAccount(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	created := createPasswordUser(t, svc, realm, "jane@example.com", "hunter22")

	if err := svc.DeleteAccount(ctx, realm, DeleteAccountRequest{IDToken: created.IDToken}); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if realm.UserByLocalID(created.LocalID) != nil {
		t.Error("user still present")
	}

	// The refresh token died with the account.
	if _, err := svc.GrantToken(ctx, realm, GrantTokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: created.RefreshToken,
	}); !errors.Is(err, apierr.ErrInvalidRefreshToken) {
		t.Errorf("refresh after delete error = %v", err)
	}
}

func TestLookup(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	created := createPasswordUser(t, svc, realm, "jane@example.com", "hunter22")

	resp, err := svc.Lookup(ctx, realm, LookupRequest{IDToken: created.IDToken})
	if err != nil {
		t.Fatalf("Lookup by idToken: %v", err)
	}
	if len(resp.Users) != 1 || resp.Users[0].LocalID != created.LocalID {
		t.Errorf("users = %+v", resp.Users)
	}

	priv, err := svc.Lookup(ctx, realm, LookupRequest{
		Email:      []string{"jane@example.com", "ghost@example.com"},
		LocalID:    []string{created.LocalID},
		Privileged: true,
	})
	if err != nil {
		t.Fatalf("privileged Lookup: %v", err)
	}
	// The same account matched twice is reported once; the unknown email
	// is skipped silently.
	if len(priv.Users) != 1 {
		t.Errorf("got %d users", len(priv.Users))
	}

	if _, err := svc.Lookup(ctx, realm, LookupRequest{}); !errors.Is(err, apierr.ErrMissingIDToken) {
		t.Errorf("missing idToken error = %v", err)
	}
}

func TestSetAccountInfoDeleteProvider(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	created := createPasswordUser(t, svc, realm, "jane@example.com", "hunter22")

	if _, err := svc.SetAccountInfo(ctx, realm, SetAccountInfoRequest{
		LocalID:        created.LocalID,
		DeleteProvider: []string{store.ProviderPassword},
		Privileged:     true,
	}); err != nil {
		t.Fatalf("delete provider: %v", err)
	}
	user := realm.UserByLocalID(created.LocalID)
	if user.Email != "" || user.PasswordHash != "" {
		t.Errorf("password provider fields not cleared: %+v", user)
	}
}
