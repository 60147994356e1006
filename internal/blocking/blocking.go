// Package blocking invokes user-configured blocking functions before account
// creation and sign-in, and folds their responses back into pending account
// updates. Payloads travel as unsigned JWTs so local trigger code can decode
// them without key material.
package blocking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/identitykit/identitykit/idtoken"
	"github.com/identitykit/identitykit/internal/apierr"
	"github.com/identitykit/identitykit/internal/idgen"
	"github.com/identitykit/identitykit/internal/store"
)

// DefaultTimeout bounds a single blocking function call.
const DefaultTimeout = 60 * time.Second

// Options carries sign-in context forwarded inside the trigger JWT.
type Options struct {
	SignInMethod       string
	SignInSecondFactor string
	SignInAttributes   string
	RawUserInfo        string
}

// OAuthTokens holds inbound IdP credentials. Each field is forwarded only if
// the project's forwardInboundCredentials config enables its kind.
type OAuthTokens struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	TokenSecret  string
	ExpiresIn    string
}

// Result is the processed outcome of a blocking function call. Updates holds
// the account fields named by the response's updateMask; ExtraClaims, set only
// for beforeSignIn, is merged into the minted ID token.
type Result struct {
	Updates     store.UserUpdate
	ExtraClaims map[string]any
}

// Gateway posts trigger events to configured endpoints.
type Gateway struct {
	client  *http.Client
	gen     *idgen.Generator
	logger  *zap.Logger
	timeout time.Duration
}

// New builds a Gateway. Any argument may be nil or zero to take the default.
func New(client *http.Client, gen *idgen.Generator, logger *zap.Logger, timeout time.Duration) *Gateway {
	if client == nil {
		client = &http.Client{}
	}
	if gen == nil {
		gen = idgen.New(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{client: client, gen: gen, logger: logger, timeout: timeout}
}

// Run invokes the blocking function registered for event, if any, and returns
// the account updates it requested. A realm with no trigger for the event
// yields an empty Result and no error.
func (g *Gateway) Run(ctx context.Context, realm store.Realm, event string, user *store.UserInfo, opts Options, tokens OAuthTokens) (Result, error) {
	url, ok := realm.BlockingFunctionURI(event)
	if !ok {
		return Result{}, nil
	}

	token, err := g.mintJWT(realm, event, url, user, opts, tokens)
	if err != nil {
		return Result{}, err
	}

	body, err := json.Marshal(map[string]any{"data": map[string]any{"jwt": token}})
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, apierr.BlockingFunctionInternalError(fmt.Sprintf("Failed to make request to %s.", url))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			g.logger.Warn("blocking function timed out", zap.String("event", event), zap.String("url", url))
			return Result{}, apierr.BlockingFunctionInternalError(fmt.Sprintf("Deadline exceeded making request to %s.", url))
		}
		g.logger.Warn("blocking function unreachable", zap.String("event", event), zap.String("url", url), zap.Error(err))
		return Result{}, apierr.BlockingFunctionInternalError(fmt.Sprintf("Failed to make request to %s.", url))
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, apierr.BlockingFunctionInternalError(fmt.Sprintf("Failed to make request to %s.", url))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, apierr.BlockingFunctionError(fmt.Sprintf("HTTP request to %s returned HTTP error %d: %s", url, resp.StatusCode, string(text)))
	}

	var payload responsePayload
	if err := json.Unmarshal(text, &payload); err != nil {
		return Result{}, apierr.BlockingFunctionInternalError("Response body is not valid JSON.")
	}

	return processResponse(event, payload)
}

type responsePayload struct {
	UserRecord *responseUserRecord `json:"userRecord"`
}

type responseUserRecord struct {
	UpdateMask    string          `json:"updateMask"`
	DisplayName   json.RawMessage `json:"displayName"`
	PhotoURL      json.RawMessage `json:"photoUrl"`
	Disabled      bool            `json:"disabled"`
	EmailVerified bool            `json:"emailVerified"`
	CustomClaims  map[string]any  `json:"customClaims"`
	SessionClaims map[string]any  `json:"sessionClaims"`
}

// processResponse applies only the fields named by the response's updateMask.
// Session claims are honored for beforeSignIn and silently dropped otherwise.
func processResponse(event string, payload responsePayload) (Result, error) {
	var res Result
	rec := payload.UserRecord
	if rec == nil {
		return res, nil
	}
	if rec.UpdateMask == "" {
		return res, apierr.BlockingFunctionError("Response UserRecord is missing updateMask.")
	}
	for _, field := range strings.Split(rec.UpdateMask, ",") {
		switch field {
		case "displayName":
			res.Updates.DisplayName = store.Set(coerceToString(rec.DisplayName))
		case "photoUrl":
			res.Updates.PhotoURL = store.Set(coerceToString(rec.PhotoURL))
		case "disabled":
			res.Updates.Disabled = store.Set(rec.Disabled)
		case "emailVerified":
			res.Updates.EmailVerified = store.Set(rec.EmailVerified)
		case "customClaims":
			serialized, err := json.Marshal(rec.CustomClaims)
			if err != nil {
				return Result{}, apierr.BlockingFunctionError("Response has malformed session claims.")
			}
			if err := idtoken.ValidateSerializedCustomClaims(string(serialized)); err != nil {
				return Result{}, err
			}
			res.Updates.CustomAttributes = store.Set(string(serialized))
		case "sessionClaims":
			if event != store.EventBeforeSignIn {
				break
			}
			res.ExtraClaims = rec.SessionClaims
		}
	}
	return res, nil
}

// mintJWT builds the unsigned trigger payload. The expiry quirk (timeout in
// tenths of seconds added to iat) matches what production triggers observe.
func (g *Gateway) mintJWT(realm store.Realm, event, url string, user *store.UserInfo, opts Options, tokens OAuthTokens) (string, error) {
	now := time.Now().Unix()
	eventID, err := g.gen.Base64URLString(16)
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"iss":         fmt.Sprintf("https://securetoken.google.com/%s", realm.ProjectID()),
		"aud":         url,
		"iat":         now,
		"exp":         now + g.timeout.Milliseconds()/100,
		"event_id":    eventID,
		"event_type":  event,
		"user_agent":  "NotYetSupportedInFirebaseAuthEmulator",
		"ip_address":  "127.0.0.1",
		"locale":      "en",
		"sub":         user.LocalID,
		"user_record": userRecordClaim(realm, user),
	}
	if opts.SignInMethod != "" {
		claims["sign_in_method"] = opts.SignInMethod
	}
	if opts.SignInSecondFactor != "" {
		claims["sign_in_second_factor"] = opts.SignInSecondFactor
	}
	if opts.SignInAttributes != "" {
		claims["sign_in_attributes"] = opts.SignInAttributes
	}
	if opts.RawUserInfo != "" {
		claims["raw_user_info"] = opts.RawUserInfo
	}
	if realm.TenantID() != "" {
		claims["tenant_id"] = realm.TenantID()
	}

	if realm.ShouldForwardCredential("accessToken") {
		claims["oauth_access_token"] = tokens.AccessToken
		claims["oauth_token_secret"] = tokens.TokenSecret
		claims["oauth_expires_in"] = tokens.ExpiresIn
	}
	if realm.ShouldForwardCredential("idToken") {
		claims["oauth_id_token"] = tokens.IDToken
	}
	if realm.ShouldForwardCredential("refreshToken") {
		claims["oauth_refresh_token"] = tokens.RefreshToken
	}

	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	return token.SignedString(jwt.UnsafeAllowNoneSignatureType)
}

func userRecordClaim(realm store.Realm, user *store.UserInfo) map[string]any {
	customClaims := map[string]any{}
	if user.CustomAttributes != "" {
		// Stored attributes were validated on write; a decode failure here
		// just leaves the claim empty.
		_ = json.Unmarshal([]byte(user.CustomAttributes), &customClaims)
	}

	record := map[string]any{
		"uid":            user.LocalID,
		"email":          user.Email,
		"email_verified": user.EmailVerified,
		"display_name":   user.DisplayName,
		"photo_url":      user.PhotoURL,
		"disabled":       user.Disabled,
		"phone_number":   user.PhoneNumber,
		"custom_claims":  customClaims,
	}
	if realm.TenantID() != "" {
		record["tenant_id"] = realm.TenantID()
	}

	providerData := make([]map[string]any, 0, len(user.ProviderUserInfo))
	for _, info := range user.ProviderUserInfo {
		providerData = append(providerData, map[string]any{
			"provider_id":  info.ProviderID,
			"display_name": info.DisplayName,
			"photo_url":    info.PhotoURL,
			"email":        info.Email,
			"uid":          info.RawID,
			"phone_number": info.PhoneNumber,
		})
	}
	record["provider_data"] = providerData

	if len(user.MfaInfo) > 0 {
		factors := make([]map[string]any, 0, len(user.MfaInfo))
		for _, enrollment := range user.MfaInfo {
			if enrollment.MfaEnrollmentID == "" {
				continue
			}
			factors = append(factors, map[string]any{
				"uid":             enrollment.MfaEnrollmentID,
				"display_name":    enrollment.DisplayName,
				"enrollment_time": enrollment.EnrolledAt.Format(time.RFC3339),
				"phone_number":    enrollment.PhoneInfo,
				"factor_id":       store.ProviderPhone,
			})
		}
		record["multi_factor"] = map[string]any{"enrolled_factors": factors}
	}

	if user.LastLoginAt != 0 || user.CreatedAt != 0 {
		record["metadata"] = map[string]any{
			"last_sign_in_time": user.LastLoginAt,
			"creation_time":     user.CreatedAt,
		}
	}
	return record
}

// coerceToString renders a JSON primitive as its string form, matching the
// loose typing triggers are allowed in displayName and photoUrl.
func coerceToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
