package idtoken

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/identitykit/identitykit/internal/apierr"
	"github.com/identitykit/identitykit/internal/store"
)

func testUser() *store.UserInfo {
	return &store.UserInfo{
		LocalID:       "user1",
		Email:         "a@example.com",
		EmailVerified: true,
		DisplayName:   "Alice",
		LastLoginAt:   time.Now().UnixMilli(),
		ProviderUserInfo: []store.ProviderUserInfo{
			{ProviderID: store.ProviderPassword, RawID: "a@example.com"},
			{ProviderID: "google.com", RawID: "g-raw-1"},
		},
	}
}

func TestMintAndDecode(t *testing.T) {
	token, err := Mint(testUser(), MintOptions{
		ProjectID:      "demo-project",
		SignInProvider: store.ProviderPassword,
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if !strings.HasSuffix(token, ".") {
		t.Fatal("unsigned token should end with an empty signature segment")
	}

	decoded, err := Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Signed {
		t.Fatal("token should report alg none")
	}
	p := decoded.Payload
	if p.Issuer != "https://securetoken.google.com/demo-project" {
		t.Fatalf("unexpected issuer %q", p.Issuer)
	}
	if p.Audience != "demo-project" || p.Subject != "user1" || p.UserID != "user1" {
		t.Fatalf("unexpected identity claims: %+v", p)
	}
	if p.Firebase.SignInProvider != store.ProviderPassword {
		t.Fatalf("unexpected sign_in_provider %q", p.Firebase.SignInProvider)
	}
	if got := p.Firebase.Identities["email"]; len(got) != 1 || got[0] != "a@example.com" {
		t.Fatalf("unexpected email identities %v", got)
	}
	// Password provider raw ids stay out of identities; federated ones go in.
	if _, found := p.Firebase.Identities[store.ProviderPassword]; found {
		t.Fatal("password provider should not appear in identities")
	}
	if got := p.Firebase.Identities["google.com"]; len(got) != 1 || got[0] != "g-raw-1" {
		t.Fatalf("unexpected google identities %v", got)
	}
	if p.ExpiresAt-p.IssuedAt != DefaultExpiresInSeconds {
		t.Fatalf("unexpected lifetime %d", p.ExpiresAt-p.IssuedAt)
	}
	if p.ProviderID != "" {
		t.Fatalf("provider_id should only be set for anonymous users, got %q", p.ProviderID)
	}
}

func TestMintAnonymousSetsProviderID(t *testing.T) {
	user := &store.UserInfo{LocalID: "anon1", LastLoginAt: time.Now().UnixMilli()}
	token, err := Mint(user, MintOptions{ProjectID: "p", SignInProvider: store.ProviderAnonymous})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	decoded, err := Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Payload.ProviderID != store.ProviderAnonymous {
		t.Fatalf("provider_id = %q", decoded.Payload.ProviderID)
	}
}

func TestMintReservedClaimsWinOverCustomAttributes(t *testing.T) {
	user := testUser()
	user.CustomAttributes = `{"role":"admin","email":"spoofed@example.com"}`
	token, err := Mint(user, MintOptions{ProjectID: "p", SignInProvider: store.ProviderPassword})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	decoded, err := Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Payload.Email != "a@example.com" {
		t.Fatalf("reserved email claim overridden: %q", decoded.Payload.Email)
	}
	if decoded.Raw["role"] != "admin" {
		t.Fatalf("custom claim missing: %v", decoded.Raw["role"])
	}
}

func TestSessionCookie(t *testing.T) {
	token, err := Mint(testUser(), MintOptions{ProjectID: "demo-project", SignInProvider: store.ProviderPassword})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	decoded, err := Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	cookie, err := MintSessionCookie(decoded, 3600)
	if err != nil {
		t.Fatalf("MintSessionCookie: %v", err)
	}
	cookieDecoded, err := Decode(cookie)
	if err != nil {
		t.Fatalf("Decode cookie: %v", err)
	}
	p := cookieDecoded.Payload
	if p.Issuer != "https://session.firebase.google.com/demo-project" {
		t.Fatalf("unexpected cookie issuer %q", p.Issuer)
	}
	if p.ExpiresAt-p.IssuedAt != 3600 {
		t.Fatalf("unexpected cookie lifetime %d", p.ExpiresAt-p.IssuedAt)
	}
	if p.UserID != "user1" {
		t.Fatalf("cookie lost identity claims: %+v", p)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode("not-a-jwt"); !errors.Is(err, apierr.ErrInvalidIDToken) {
		t.Fatalf("expected INVALID_ID_TOKEN, got %v", err)
	}
}

func TestDecodeCustomTokenJSON(t *testing.T) {
	payload, err := DecodeCustomToken(`{"uid":"user1","claims":{"role":"admin"}}`)
	if err != nil {
		t.Fatalf("DecodeCustomToken: %v", err)
	}
	if !payload.FromJSON || payload.UID != "user1" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	if _, err := DecodeCustomToken(`{"uid":`); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestDecodeCustomTokenJWT(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"aud": CustomTokenAudience,
		"uid": "user1",
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	payload, err := DecodeCustomToken(signed)
	if err != nil {
		t.Fatalf("DecodeCustomToken: %v", err)
	}
	if payload.FromJSON || payload.Audience != CustomTokenAudience || payload.UID != "user1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestPendingCredentialRoundTrip(t *testing.T) {
	credential, err := EncodePendingCredential(PendingCredential{
		LocalID:        "user1",
		SignInProvider: store.ProviderPassword,
		ProjectID:      "demo-project",
	})
	if err != nil {
		t.Fatalf("EncodePendingCredential: %v", err)
	}
	pc, err := DecodePendingCredential(credential, "demo-project", "")
	if err != nil {
		t.Fatalf("DecodePendingCredential: %v", err)
	}
	if pc.LocalID != "user1" || pc.SignInProvider != store.ProviderPassword {
		t.Fatalf("unexpected credential %+v", pc)
	}

	if _, err := DecodePendingCredential(credential, "other-project", ""); err == nil {
		t.Fatal("expected project mismatch error")
	}
	if _, err := DecodePendingCredential("garbage!!", "demo-project", ""); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestValidateSerializedCustomClaims(t *testing.T) {
	if err := ValidateSerializedCustomClaims(`{"role":"admin"}`); err != nil {
		t.Fatalf("valid claims rejected: %v", err)
	}
	if err := ValidateSerializedCustomClaims(`["array"]`); !errors.Is(err, apierr.ErrInvalidClaims) {
		t.Fatalf("expected INVALID_CLAIMS, got %v", err)
	}
	if err := ValidateSerializedCustomClaims(`{"iss":"x"}`); !errors.Is(err, apierr.ErrForbiddenClaim) {
		t.Fatalf("expected FORBIDDEN_CLAIM, got %v", err)
	}
	big := `{"k":"` + strings.Repeat("a", CustomAttributesMaxLength) + `"}`
	if err := ValidateSerializedCustomClaims(big); !errors.Is(err, apierr.ErrClaimsTooLarge) {
		t.Fatalf("expected CLAIMS_TOO_LARGE, got %v", err)
	}
}
