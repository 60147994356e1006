package flows

import (
	"context"
	"errors"
	"testing"

	"github.com/identitykit/identitykit/idtoken"
	"github.com/identitykit/identitykit/internal/apierr"
)

func TestGrantToken(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	signedUp := createPasswordUser(t, svc, realm, "refresh@example.com", "hunter22")

	resp, err := svc.GrantToken(ctx, realm, GrantTokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: signedUp.RefreshToken,
	})
	if err != nil {
		t.Fatalf("GrantToken: %v", err)
	}
	if resp.IDToken == "" || resp.AccessToken != resp.IDToken {
		t.Errorf("token fields = %+v", resp)
	}
	if resp.TokenType != "Bearer" || resp.ProjectID != "12345" {
		t.Errorf("wire fields = %+v", resp)
	}
	if resp.UserID != signedUp.LocalID {
		t.Errorf("user_id = %q, want %q", resp.UserID, signedUp.LocalID)
	}
	if resp.RefreshToken == "" || resp.RefreshToken == signedUp.RefreshToken {
		t.Error("refresh token should rotate")
	}

	decoded, err := idtoken.Decode(resp.IDToken)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Payload.Firebase.SignInProvider != "password" {
		t.Errorf("signInProvider = %q", decoded.Payload.Firebase.SignInProvider)
	}

	// The rotated token keeps working.
	if _, err := svc.GrantToken(ctx, realm, GrantTokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: resp.RefreshToken,
	}); err != nil {
		t.Errorf("rotated grant: %v", err)
	}
}

func TestGrantTokenErrors(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	tests := []struct {
		name string
		req  GrantTokenRequest
		want error
	}{
		{"missing grant type", GrantTokenRequest{RefreshToken: "x"}, apierr.ErrMissingGrantType},
		{"wrong grant type", GrantTokenRequest{GrantType: "password", RefreshToken: "x"}, apierr.ErrInvalidGrantType},
		{"missing refresh token", GrantTokenRequest{GrantType: "refresh_token"}, apierr.ErrMissingRefreshToken},
		{"unknown refresh token", GrantTokenRequest{GrantType: "refresh_token", RefreshToken: "bogus"}, apierr.ErrInvalidRefreshToken},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.GrantToken(ctx, realm, tc.req); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestGrantTokenDisabledUser(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	signedUp := createPasswordUser(t, svc, realm, "soon-disabled@example.com", "hunter22")
	disabled := true
	if _, err := svc.SetAccountInfo(ctx, realm, SetAccountInfoRequest{
		LocalID:      signedUp.LocalID,
		DisableUser:  &disabled,
		Privileged:   true,
	}); err != nil {
		t.Fatalf("disable: %v", err)
	}

	if _, err := svc.GrantToken(ctx, realm, GrantTokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: signedUp.RefreshToken,
	}); !errors.Is(err, apierr.ErrUserDisabled) {
		t.Errorf("disabled grant err = %v", err)
	}
}

func TestCreateSessionCookie(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	signedUp := createPasswordUser(t, svc, realm, "cookie@example.com", "hunter22")

	resp, err := svc.CreateSessionCookie(ctx, realm, CreateSessionCookieRequest{
		IDToken:       signedUp.IDToken,
		ValidDuration: "3600",
	})
	if err != nil {
		t.Fatalf("CreateSessionCookie: %v", err)
	}
	if resp.SessionCookie == "" {
		t.Fatal("no cookie minted")
	}
	decoded, err := idtoken.Decode(resp.SessionCookie)
	if err != nil {
		t.Fatalf("Decode cookie: %v", err)
	}
	if decoded.Payload.Subject != signedUp.LocalID {
		t.Errorf("cookie subject = %q", decoded.Payload.Subject)
	}

	// An omitted duration falls back to the fourteen-day maximum.
	if _, err := svc.CreateSessionCookie(ctx, realm, CreateSessionCookieRequest{
		IDToken: signedUp.IDToken,
	}); err != nil {
		t.Errorf("default duration: %v", err)
	}
}

func TestCreateSessionCookieErrors(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	signedUp := createPasswordUser(t, svc, realm, "cookie2@example.com", "hunter22")

	if _, err := svc.CreateSessionCookie(ctx, realm, CreateSessionCookieRequest{}); !errors.Is(err, apierr.ErrMissingIDToken) {
		t.Errorf("missing idToken err = %v", err)
	}
	for _, duration := range []string{"1", "299", "1209601"} {
		if _, err := svc.CreateSessionCookie(ctx, realm, CreateSessionCookieRequest{
			IDToken:       signedUp.IDToken,
			ValidDuration: duration,
		}); !errors.Is(err, apierr.ErrInvalidDuration) {
			t.Errorf("duration %s err = %v", duration, err)
		}
	}
	if _, err := svc.CreateSessionCookie(ctx, realm, CreateSessionCookieRequest{
		IDToken:       "garbage",
		ValidDuration: "3600",
	}); !errors.Is(err, apierr.ErrInvalidIDToken) {
		t.Errorf("bad idToken err = %v", err)
	}
}
