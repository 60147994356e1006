// Package idtoken mints and decodes the unsigned JWTs used by the emulator:
// ID tokens, session cookies, custom token payloads and MFA pending
// credentials. Every token uses alg "none" so that no key material is needed
// anywhere in the system; tokens are therefore intentionally insecure and
// only meaningful against an emulator backend.
package idtoken

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/identitykit/identitykit/internal/apierr"
	"github.com/identitykit/identitykit/internal/store"
)

// CustomTokenAudience is the aud claim a JWT-shaped custom token must carry.
const CustomTokenAudience = "https://identitytoolkit.googleapis.com/google.identity.identitytoolkit.v1.IdentityToolkit"

// Session cookie duration bounds in seconds.
const (
	SessionCookieMinValidDuration = 5 * 60
	SessionCookieMaxValidDuration = 14 * 24 * 60 * 60
)

// DefaultExpiresInSeconds is the advertised ID token lifetime. Expiry is
// reported to clients but never enforced on decode; revocation goes through
// the user's validSince field instead.
const DefaultExpiresInSeconds = 60 * 60

// SecondFactor records which second factor completed a sign-in.
type SecondFactor struct {
	Identifier string `json:"identifier"`
	Provider   string `json:"provider"`
}

// FirebaseClaims is the provider-specific claim block of an ID token.
type FirebaseClaims struct {
	Identities             map[string][]string `json:"identities"`
	SignInProvider         string              `json:"sign_in_provider"`
	SecondFactorIdentifier string              `json:"second_factor_identifier,omitempty"`
	SignInSecondFactor     string              `json:"sign_in_second_factor,omitempty"`
	Tenant                 string              `json:"tenant,omitempty"`
	SignInAttributes       map[string]any      `json:"sign_in_attributes,omitempty"`
}

// Payload is the decoded view of an ID token or session cookie.
type Payload struct {
	Issuer        string         `json:"iss"`
	Audience      string         `json:"aud"`
	Subject       string         `json:"sub"`
	IssuedAt      int64          `json:"iat"`
	ExpiresAt     int64          `json:"exp"`
	AuthTime      int64          `json:"auth_time"`
	UserID        string         `json:"user_id"`
	Name          string         `json:"name,omitempty"`
	Picture       string         `json:"picture,omitempty"`
	Email         string         `json:"email,omitempty"`
	EmailVerified bool           `json:"email_verified"`
	PhoneNumber   string         `json:"phone_number,omitempty"`
	ProviderID    string         `json:"provider_id,omitempty"`
	Firebase      FirebaseClaims `json:"firebase"`
}

// MintOptions selects the claims of a freshly minted ID token.
type MintOptions struct {
	ProjectID        string
	SignInProvider   string
	ExpiresInSeconds int64
	ExtraClaims      map[string]any
	SecondFactor     *SecondFactor
	TenantID         string
	SignInAttributes map[string]any
}

// Mint builds an unsigned ID token for user. Custom attributes and extra
// claims are merged in before the reserved fields so they can never shadow
// them.
func Mint(user *store.UserInfo, opts MintOptions) (string, error) {
	identities := make(map[string][]string)
	if user.Email != "" {
		identities["email"] = []string{user.Email}
	}
	for _, info := range user.ProviderUserInfo {
		if info.ProviderID == "" || info.ProviderID == store.ProviderPassword || info.RawID == "" {
			continue
		}
		identities[info.ProviderID] = append(identities[info.ProviderID], info.RawID)
	}

	claims := jwt.MapClaims{}
	if user.CustomAttributes != "" {
		if err := json.Unmarshal([]byte(user.CustomAttributes), &claims); err != nil {
			return "", fmt.Errorf("idtoken: decode custom attributes: %w", err)
		}
	}
	if user.DisplayName != "" {
		claims["name"] = user.DisplayName
	}
	if user.PhotoURL != "" {
		claims["picture"] = user.PhotoURL
	}
	for k, v := range opts.ExtraClaims {
		claims[k] = v
	}

	expiresIn := opts.ExpiresInSeconds
	if expiresIn == 0 {
		expiresIn = DefaultExpiresInSeconds
	}
	now := time.Now().Unix()
	authTime, err := authTimeOf(user)
	if err != nil {
		return "", err
	}

	claims["iss"] = "https://securetoken.google.com/" + opts.ProjectID
	claims["aud"] = opts.ProjectID
	claims["sub"] = user.LocalID
	claims["iat"] = now
	claims["exp"] = now + expiresIn
	if user.Email != "" {
		claims["email"] = user.Email
	}
	claims["email_verified"] = user.EmailVerified
	if user.PhoneNumber != "" {
		claims["phone_number"] = user.PhoneNumber
	}
	// provider_id is only present for anonymous sign-in, matching production.
	if opts.SignInProvider == store.ProviderAnonymous {
		claims["provider_id"] = opts.SignInProvider
	}
	claims["auth_time"] = authTime
	claims["user_id"] = user.LocalID

	firebase := FirebaseClaims{
		Identities:       identities,
		SignInProvider:   opts.SignInProvider,
		Tenant:           opts.TenantID,
		SignInAttributes: opts.SignInAttributes,
	}
	if opts.SecondFactor != nil {
		firebase.SecondFactorIdentifier = opts.SecondFactor.Identifier
		firebase.SignInSecondFactor = opts.SecondFactor.Provider
	}
	claims["firebase"] = firebase

	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	return token.SignedString(jwt.UnsafeAllowNoneSignatureType)
}

func authTimeOf(user *store.UserInfo) (int64, error) {
	if user.LastLoginAt != 0 {
		return user.LastLoginAt / 1000, nil
	}
	if !user.LastRefreshAt.IsZero() {
		return user.LastRefreshAt.Unix(), nil
	}
	return 0, fmt.Errorf("idtoken: user %s has neither lastLoginAt nor lastRefreshAt", user.LocalID)
}

// Decoded carries both the typed payload and the raw claims of a decoded
// token. Raw preserves claims outside the typed schema so session cookies
// can re-sign the full original payload.
type Decoded struct {
	Payload Payload
	Raw     map[string]any
	// Signed is true when the token uses any alg other than "none",
	// meaning a production token was sent to the emulator.
	Signed bool
}

// Decode parses an unsigned ID token without verification. Expiry is not
// checked.
func Decode(idToken string) (*Decoded, error) {
	parser := jwt.NewParser()
	raw := jwt.MapClaims{}
	token, _, err := parser.ParseUnverified(idToken, raw)
	if err != nil {
		return nil, apierr.ErrInvalidIDToken
	}
	var payload Payload
	if err := remarshal(raw, &payload); err != nil {
		return nil, apierr.ErrInvalidIDToken
	}
	return &Decoded{
		Payload: payload,
		Raw:     raw,
		Signed:  token.Method.Alg() != jwt.SigningMethodNone.Alg(),
	}, nil
}

func remarshal(src any, dst any) error {
	buf, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, dst)
}

// MintSessionCookie re-signs a decoded ID token payload as a session cookie:
// same claims, fresh iat and exp, and the session issuer for the project.
func MintSessionCookie(decoded *Decoded, validDurationSeconds int64) (string, error) {
	claims := jwt.MapClaims{}
	for k, v := range decoded.Raw {
		claims[k] = v
	}
	now := time.Now().Unix()
	claims["iat"] = now
	claims["exp"] = now + validDurationSeconds
	claims["iss"] = "https://session.firebase.google.com/" + decoded.Payload.Audience
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	return token.SignedString(jwt.UnsafeAllowNoneSignatureType)
}

// CustomTokenPayload is the decoded body of a custom token.
type CustomTokenPayload struct {
	Audience string          `json:"aud"`
	UID      string          `json:"uid"`
	UserID   string          `json:"user_id"`
	TenantID string          `json:"tenant_id"`
	Claims   json.RawMessage `json:"claims,omitempty"`
	// FromJSON marks tokens given as plain JSON objects, which skip the
	// audience check to keep hand-written test tokens simple.
	FromJSON bool `json:"-"`
	Signed   bool `json:"-"`
}

// DecodeCustomToken accepts either a strict JSON object or a JWT. Production
// only accepts signed JWTs; plain JSON is an emulator convenience.
func DecodeCustomToken(token string) (*CustomTokenPayload, error) {
	if strings.HasPrefix(token, "{") {
		var payload CustomTokenPayload
		if err := json.Unmarshal([]byte(token), &payload); err != nil {
			return nil, apierr.NewBadRequestError(
				"INVALID_CUSTOM_TOKEN : ((Auth Emulator only accepts strict JSON or JWTs as fake custom tokens.))")
		}
		payload.FromJSON = true
		return &payload, nil
	}
	parser := jwt.NewParser()
	raw := jwt.MapClaims{}
	parsed, _, err := parser.ParseUnverified(token, raw)
	if err != nil {
		return nil, apierr.NewBadRequestError("INVALID_CUSTOM_TOKEN : Invalid assertion format")
	}
	var payload CustomTokenPayload
	if err := remarshal(raw, &payload); err != nil {
		return nil, apierr.NewBadRequestError("INVALID_CUSTOM_TOKEN : Invalid assertion format")
	}
	payload.Signed = parsed.Method.Alg() != jwt.SigningMethodNone.Alg()
	return &payload, nil
}

// pendingCredentialMarker guards against arbitrary base64 blobs being
// replayed as MFA pending credentials.
const pendingCredentialMarker = "DO NOT MODIFY"

type pendingCredentialPayload struct {
	Marker         string `json:"_AuthEmulatorMfaPendingCredential"`
	LocalID        string `json:"localId"`
	SignInProvider string `json:"signInProvider"`
	ProjectID      string `json:"projectId"`
	TenantID       string `json:"tenantId,omitempty"`
}

// PendingCredential identifies a first-factor-complete sign-in awaiting its
// second factor.
type PendingCredential struct {
	LocalID        string
	SignInProvider string
	ProjectID      string
	TenantID       string
}

// EncodePendingCredential serializes the pending credential as base64 JSON.
func EncodePendingCredential(pc PendingCredential) (string, error) {
	buf, err := json.Marshal(pendingCredentialPayload{
		Marker:         pendingCredentialMarker,
		LocalID:        pc.LocalID,
		SignInProvider: pc.SignInProvider,
		ProjectID:      pc.ProjectID,
		TenantID:       pc.TenantID,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// DecodePendingCredential reverses EncodePendingCredential, checking the
// embedded marker and that the credential belongs to the given project and
// tenant.
func DecodePendingCredential(credential, projectID, tenantID string) (*PendingCredential, error) {
	malformed := apierr.NewBadRequestError("((Invalid phoneVerificationInfo.mfaPendingCredential.))")
	buf, err := base64.StdEncoding.DecodeString(credential)
	if err != nil {
		return nil, malformed
	}
	var payload pendingCredentialPayload
	if err := json.Unmarshal(buf, &payload); err != nil {
		return nil, malformed
	}
	if payload.Marker == "" {
		return nil, malformed
	}
	if payload.ProjectID != projectID || payload.TenantID != tenantID {
		return nil, apierr.NewBadRequestError("INVALID_PROJECT_ID : Project ID does not match MFA pending credential.")
	}
	return &PendingCredential{
		LocalID:        payload.LocalID,
		SignInProvider: payload.SignInProvider,
		ProjectID:      payload.ProjectID,
		TenantID:       payload.TenantID,
	}, nil
}
