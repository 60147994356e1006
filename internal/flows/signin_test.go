package flows

import (
	"context"
	"errors"
	"testing"

	"github.com/identitykit/identitykit/idtoken"
	"github.com/identitykit/identitykit/internal/apierr"
	"github.com/identitykit/identitykit/internal/codes"
	"github.com/identitykit/identitykit/internal/store"
)

func TestSignInWithPassword(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	created := createPasswordUser(t, svc, realm, "jane@example.com", "hunter22")

	resp, err := svc.SignInWithPassword(ctx, realm, SignInWithPasswordRequest{
		Email:    "JANE@example.com",
		Password: "hunter22",
	})
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if !resp.Registered || resp.LocalID != created.LocalID {
		t.Errorf("response = %+v", resp)
	}
	decoded, err := idtoken.Decode(resp.IDToken)
	if err != nil {
		t.Fatalf("decode idToken: %v", err)
	}
	if decoded.Payload.Firebase.SignInProvider != store.ProviderPassword {
		t.Errorf("signInProvider = %q", decoded.Payload.Firebase.SignInProvider)
	}
}

func TestSignInWithPasswordErrors(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	createPasswordUser(t, svc, realm, "jane@example.com", "hunter22")

	tests := []struct {
		name string
		req  SignInWithPasswordRequest
		want error
	}{
		{"wrong password", SignInWithPasswordRequest{Email: "jane@example.com", Password: "nope123"}, apierr.ErrInvalidPassword},
		{"unknown email", SignInWithPasswordRequest{Email: "ghost@example.com", Password: "hunter22"}, apierr.ErrEmailNotFound},
		{"missing email", SignInWithPasswordRequest{Password: "hunter22"}, apierr.ErrMissingEmail},
		{"missing password", SignInWithPasswordRequest{Email: "jane@example.com"}, apierr.ErrMissingPassword},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.SignInWithPassword(ctx, realm, tc.req); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSignInWithPasswordDisabledUser(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, realm, SignUpRequest{
		Email:      "locked@example.com",
		Password:   "hunter22",
		Disabled:   true,
		Privileged: true,
	}); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if _, err := svc.SignInWithPassword(ctx, realm, SignInWithPasswordRequest{
		Email:    "locked@example.com",
		Password: "hunter22",
	}); !errors.Is(err, apierr.ErrUserDisabled) {
		t.Errorf("err = %v", err)
	}
}

func TestSignInWithCustomToken(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	// The emulator accepts a strict-JSON object in place of a JWT.
	resp, err := svc.SignInWithCustomToken(ctx, realm, SignInWithCustomTokenRequest{
		Token: `{"uid": "custom-user-1", "claims": {"role": "admin"}}`,
	})
	if err != nil {
		t.Fatalf("SignInWithCustomToken: %v", err)
	}
	if !resp.IsNewUser {
		t.Error("first exchange should create the user")
	}
	decoded, err := idtoken.Decode(resp.IDToken)
	if err != nil {
		t.Fatalf("decode idToken: %v", err)
	}
	if decoded.Payload.Firebase.SignInProvider != store.ProviderCustom {
		t.Errorf("signInProvider = %q", decoded.Payload.Firebase.SignInProvider)
	}

	again, err := svc.SignInWithCustomToken(ctx, realm, SignInWithCustomTokenRequest{
		Token: `{"uid": "custom-user-1"}`,
	})
	if err != nil {
		t.Fatalf("second exchange: %v", err)
	}
	if again.IsNewUser {
		t.Error("second exchange should reuse the user")
	}

	if _, err := svc.SignInWithCustomToken(ctx, realm, SignInWithCustomTokenRequest{}); !errors.Is(err, apierr.ErrMissingCustomToken) {
		t.Errorf("missing token error = %v", err)
	}
	if _, err := svc.SignInWithCustomToken(ctx, realm, SignInWithCustomTokenRequest{Token: `{"claims": {}}`}); !errors.Is(err, apierr.ErrMissingIdentifier) {
		t.Errorf("missing uid error = %v", err)
	}
}

func TestSignInWithEmailLink(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	sent, err := svc.SendOobCode(ctx, realm, SendOobCodeRequest{
		RequestType:   codes.OobRequestEmailSignIn,
		Email:         "link@example.com",
		ReturnOobLink: true,
		Privileged:    true,
	})
	if err != nil {
		t.Fatalf("SendOobCode: %v", err)
	}
	if sent.OobCode == "" {
		t.Fatal("no oobCode returned")
	}

	resp, err := svc.SignInWithEmailLink(ctx, realm, SignInWithEmailLinkRequest{
		Email:   "link@example.com",
		OobCode: sent.OobCode,
	})
	if err != nil {
		t.Fatalf("SignInWithEmailLink: %v", err)
	}
	if !resp.IsNewUser {
		t.Error("first link sign-in should create the user")
	}
	user := realm.UserByEmail("link@example.com")
	if user == nil {
		t.Fatal("user not created")
	}
	if !user.EmailVerified {
		t.Error("email-link sign-in should verify the email")
	}

	// The code is single use.
	if _, err := svc.SignInWithEmailLink(ctx, realm, SignInWithEmailLinkRequest{
		Email:   "link@example.com",
		OobCode: sent.OobCode,
	}); !errors.Is(err, apierr.ErrInvalidOobCode) {
		t.Errorf("reused code error = %v", err)
	}
}
