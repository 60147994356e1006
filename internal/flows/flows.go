// Package flows implements the authentication operations: sign-up, the
// sign-in family, account management, out-of-band code handling, MFA and
// token exchange. Each operation works against one realm and returns
// API-shaped response structs.
package flows

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/identitykit/identitykit/idtoken"
	"github.com/identitykit/identitykit/internal/apierr"
	"github.com/identitykit/identitykit/internal/blocking"
	"github.com/identitykit/identitykit/internal/codes"
	"github.com/identitykit/identitykit/internal/idgen"
	"github.com/identitykit/identitykit/internal/metrics"
	"github.com/identitykit/identitykit/internal/store"
	"github.com/identitykit/identitykit/internal/trigger"
)

// PasswordMinLength is the minimum accepted password length.
const PasswordMinLength = 6

// ProjectNumber stands in for the automatically assigned project number that
// production returns from token exchanges.
const ProjectNumber = "12345"

// mfaIneligibleProviders are first factors that can never carry a second one.
var mfaIneligibleProviders = map[string]bool{
	store.ProviderAnonymous:  true,
	store.ProviderPhone:      true,
	store.ProviderCustom:     true,
	store.ProviderGameCenter: true,
}

// Service executes authentication flows against realm state, ephemeral code
// stores and the blocking-function gateway.
type Service struct {
	oob      *codes.OobStore
	phone    *codes.PhoneStore
	proofs   *codes.ProofStore
	refresh  *codes.RefreshStore
	blocking *blocking.Gateway
	gen      *idgen.Generator
	metrics  *metrics.Metrics
	events   *trigger.Dispatcher
	logger   *zap.Logger
	linkBase string

	// Serializes compound check-then-act flows (e.g. uniqueness probe
	// followed by create) that span multiple store calls.
	mu sync.Mutex
}

// Options configures a Service. All fields except the stores are optional.
type Options struct {
	Oob      *codes.OobStore
	Phone    *codes.PhoneStore
	Proofs   *codes.ProofStore
	Refresh  *codes.RefreshStore
	Blocking *blocking.Gateway
	Gen      *idgen.Generator
	Metrics  *metrics.Metrics
	Events   *trigger.Dispatcher
	Logger   *zap.Logger

	// LinkBase is the base URL minted into out-of-band action links,
	// e.g. "http://localhost:9099".
	LinkBase string
}

// NewService builds a flow service from opts.
func NewService(opts Options) *Service {
	gen := opts.Gen
	if gen == nil {
		gen = idgen.New(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New(false, false)
	}
	gw := opts.Blocking
	if gw == nil {
		gw = blocking.New(nil, gen, logger, 0)
	}
	linkBase := opts.LinkBase
	if linkBase == "" {
		linkBase = "http://localhost:9099"
	}
	return &Service{
		oob:      opts.Oob,
		phone:    opts.Phone,
		proofs:   opts.Proofs,
		refresh:  opts.Refresh,
		blocking: gw,
		gen:      gen,
		metrics:  m,
		events:   opts.Events,
		logger:   logger,
		linkBase: linkBase,
	}
}

func scopeOf(realm store.Realm) codes.Scope {
	return codes.Scope{ProjectID: realm.ProjectID(), TenantID: realm.TenantID()}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// canonicalizeEmail normalizes the address for use as an index key.
func canonicalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isValidEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && !strings.Contains(email[at+1:], "@")
}

func isAbsoluteURI(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// hashPassword produces the deliberately transparent emulator hash. Real
// secrets must never be entered here.
func hashPassword(password, salt string) string {
	return fmt.Sprintf("fakeHash:salt=%s:password=%s", salt, password)
}

func (s *Service) newSalt() (string, error) {
	id, err := s.gen.AlphanumericID(20)
	if err != nil {
		return "", err
	}
	return "fakeSalt" + id, nil
}

// obfuscatePhoneNumber masks every digit but the last four.
func obfuscatePhoneNumber(phoneNumber string) string {
	out := []byte(phoneNumber)
	digits := 0
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] >= '0' && out[i] <= '9' {
			digits++
			if digits > 4 {
				out[i] = '*'
			}
		}
	}
	return string(out)
}

// Tokens is the credential triple appended to successful sign-in responses.
type Tokens struct {
	IDToken      string `json:"idToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    string `json:"expiresIn,omitempty"`
}

type issueOptions struct {
	extraClaims      map[string]any
	secondFactor     *idtoken.SecondFactor
	signInAttributes map[string]any
}

// issueTokens refreshes the user's lastRefreshAt, mints an ID token and
// registers an opaque refresh token record.
func (s *Service) issueTokens(ctx context.Context, realm store.Realm, user *store.UserInfo, signInProvider string, opts issueOptions) (Tokens, error) {
	user, err := realm.UpdateUser(user.LocalID, store.UserUpdate{
		LastRefreshAt: store.Set(time.Now()),
	})
	if err != nil {
		return Tokens{}, err
	}

	idTok, err := idtoken.Mint(user, idtoken.MintOptions{
		ProjectID:        realm.ProjectID(),
		SignInProvider:   signInProvider,
		ExpiresInSeconds: idtoken.DefaultExpiresInSeconds,
		ExtraClaims:      opts.extraClaims,
		SecondFactor:     opts.secondFactor,
		TenantID:         realm.TenantID(),
		SignInAttributes: opts.signInAttributes,
	})
	if err != nil {
		return Tokens{}, err
	}

	record := &codes.RefreshTokenRecord{
		LocalID:     user.LocalID,
		Provider:    signInProvider,
		ExtraClaims: opts.extraClaims,
		ProjectID:   realm.ProjectID(),
		TenantID:    realm.TenantID(),
	}
	if opts.secondFactor != nil {
		record.SecondFactor = &codes.SecondFactorRef{
			Identifier: opts.secondFactor.Identifier,
			Provider:   opts.secondFactor.Provider,
		}
	}
	refreshToken, err := s.refresh.Create(ctx, scopeOf(realm), record)
	if err != nil {
		return Tokens{}, err
	}

	return Tokens{
		IDToken:      idTok,
		RefreshToken: refreshToken,
		ExpiresIn:    fmt.Sprintf("%d", idtoken.DefaultExpiresInSeconds),
	}, nil
}

// parsedIDToken is the realm-checked view of a presented ID token.
type parsedIDToken struct {
	user           *store.UserInfo
	payload        *idtoken.Payload
	decoded        *idtoken.Decoded
	signInProvider string
}

// parseIDToken decodes and validates a caller-presented ID token against the
// realm: tenant binding, revocation via validSince, and the disabled flag.
// Expiry is deliberately unchecked so tokens stay usable while debugging.
func (s *Service) parseIDToken(realm store.Realm, raw string) (*parsedIDToken, error) {
	decoded, err := idtoken.Decode(raw)
	if err != nil {
		return nil, err
	}
	payload := &decoded.Payload
	if decoded.Signed {
		s.logger.Warn("received a signed JWT; tokens are not validated and are not secure")
	}
	if payload.Firebase.Tenant != "" {
		if realm.TenantID() == "" {
			return nil, apierr.NewBadRequestError("((Parsed token that belongs to tenant in a non-tenant project.))")
		}
		if payload.Firebase.Tenant != realm.TenantID() {
			return nil, apierr.ErrTenantIDMismatch
		}
	}
	user := realm.UserByLocalID(payload.UserID)
	if user == nil {
		return nil, apierr.ErrUserNotFound
	}
	if user.ValidSince != 0 && payload.IssuedAt < user.ValidSince {
		return nil, apierr.ErrTokenExpired
	}
	if user.Disabled {
		return nil, apierr.ErrUserDisabled
	}
	return &parsedIDToken{
		user:           user,
		payload:        payload,
		decoded:        decoded,
		signInProvider: payload.Firebase.SignInProvider,
	}, nil
}

// checkRealm rejects operations on disabled realms.
func checkRealm(realm store.Realm) error {
	if realm.Features().DisableAuth {
		return apierr.ErrProjectDisabled
	}
	return nil
}

func isMfaEnabled(realm store.Realm, user *store.UserInfo) bool {
	st := realm.Features().MfaConfig.State
	return (st == "ENABLED" || st == "MANDATORY") && len(user.MfaInfo) > 0
}

func mfaSmsEnabled(realm store.Realm) bool {
	cfg := realm.Features().MfaConfig
	if cfg.State != "ENABLED" && cfg.State != "MANDATORY" {
		return false
	}
	for _, p := range cfg.EnabledProviders {
		if p == "PHONE_SMS" {
			return true
		}
	}
	return false
}

// MfaEnrollmentView is the redacted enrollment representation returned to
// clients during an MFA challenge.
type MfaEnrollmentView struct {
	MfaEnrollmentID string `json:"mfaEnrollmentId"`
	DisplayName     string `json:"displayName,omitempty"`
	PhoneInfo       string `json:"phoneInfo,omitempty"`
	EnrolledAt      string `json:"enrolledAt,omitempty"`
}

func redactMfaInfo(enrollments []store.MfaEnrollment) []MfaEnrollmentView {
	out := make([]MfaEnrollmentView, 0, len(enrollments))
	for _, e := range enrollments {
		view := MfaEnrollmentView{
			MfaEnrollmentID: e.MfaEnrollmentID,
			DisplayName:     e.DisplayName,
		}
		if !e.EnrolledAt.IsZero() {
			view.EnrolledAt = e.EnrolledAt.UTC().Format(time.RFC3339)
		}
		if e.UnobfuscatedPhoneInfo != "" {
			view.PhoneInfo = obfuscatePhoneNumber(e.UnobfuscatedPhoneInfo)
		}
		out = append(out, view)
	}
	return out
}

// MfaChallenge is appended to sign-in responses when a second factor is
// required instead of tokens.
type MfaChallenge struct {
	MfaPendingCredential string              `json:"mfaPendingCredential,omitempty"`
	MfaInfo              []MfaEnrollmentView `json:"mfaInfo,omitempty"`
}

func (s *Service) mfaPending(realm store.Realm, user *store.UserInfo, signInProvider string) (MfaChallenge, error) {
	credential, err := idtoken.EncodePendingCredential(idtoken.PendingCredential{
		LocalID:        user.LocalID,
		SignInProvider: signInProvider,
		ProjectID:      realm.ProjectID(),
		TenantID:       realm.TenantID(),
	})
	if err != nil {
		return MfaChallenge{}, err
	}
	s.metrics.Inc(metrics.IDMfaRequired)
	return MfaChallenge{
		MfaPendingCredential: credential,
		MfaInfo:              redactMfaInfo(user.MfaInfo),
	}, nil
}

// verifyPhoneNumber consumes a verification code and returns the phone
// number it was created for.
func (s *Service) verifyPhoneNumber(ctx context.Context, realm store.Realm, sessionInfo, code string) (string, error) {
	phoneNumber, err := s.phone.Consume(ctx, scopeOf(realm), sessionInfo, code)
	switch {
	case err == codes.ErrNotFound:
		return "", apierr.ErrInvalidSessionInfo
	case err == codes.ErrCodeMismatch:
		return "", apierr.ErrInvalidCode
	case err != nil:
		return "", err
	}
	s.metrics.Inc(metrics.IDPhoneCodeConsumed)
	return phoneNumber, nil
}

// emitUserEvent publishes a user lifecycle event, if a dispatcher is wired.
func (s *Service) emitUserEvent(ctx context.Context, realm store.Realm, eventType string, user *store.UserInfo) {
	if s.events == nil {
		return
	}
	record := trigger.UserRecord{
		LocalID:       user.LocalID,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		DisplayName:   user.DisplayName,
		PhotoURL:      user.PhotoURL,
		PhoneNumber:   user.PhoneNumber,
		Disabled:      user.Disabled,
		TenantID:      realm.TenantID(),
		CreatedAt:     user.CreatedAt,
		LastLoginAt:   user.LastLoginAt,
		CustomClaims:  user.CustomAttributes,
	}
	s.events.Emit(ctx, trigger.NewEvent(eventType, realm.ProjectID(), record))
}

// mfaEnrollmentsFromRequest validates and normalizes enrollments supplied in
// privileged create or update requests.
func (s *Service) mfaEnrollmentsFromRequest(realm store.Realm, request []MfaEnrollmentInput, generateIDs bool) ([]store.MfaEnrollment, error) {
	var enrollments []store.MfaEnrollment
	seenPhones := map[string]bool{}
	seenIDs := map[string]bool{}
	for _, in := range request {
		if in.PhoneInfo == "" || !store.IsValidPhoneNumber(in.PhoneInfo) {
			return nil, apierr.ErrInvalidMfaPhoneNumber
		}
		if seenPhones[in.PhoneInfo] {
			continue
		}
		id := in.MfaEnrollmentID
		if generateIDs {
			var err error
			id, err = s.newEnrollmentID(seenIDs)
			if err != nil {
				return nil, err
			}
		}
		if id == "" {
			return nil, apierr.ErrInvalidMfaEnrollmentID
		}
		if seenIDs[id] {
			return nil, apierr.ErrDuplicateMfaEnrollmentID
		}
		enrolledAt := in.EnrolledAt
		if enrolledAt.IsZero() {
			enrolledAt = time.Now()
		}
		enrollments = append(enrollments, store.MfaEnrollment{
			MfaEnrollmentID:       id,
			DisplayName:           in.DisplayName,
			PhoneInfo:             in.PhoneInfo,
			UnobfuscatedPhoneInfo: in.PhoneInfo,
			EnrolledAt:            enrolledAt,
		})
		seenPhones[in.PhoneInfo] = true
		seenIDs[id] = true
	}
	if err := store.ValidateMfaEnrollments(enrollments); err != nil {
		return nil, err
	}
	return enrollments, nil
}

func (s *Service) newEnrollmentID(existing map[string]bool) (string, error) {
	for i := 0; i < 10; i++ {
		id, err := s.gen.AlphanumericID(28)
		if err != nil {
			return "", err
		}
		if !existing[id] {
			return id, nil
		}
	}
	return "", apierr.NewInternalError("INTERNAL_ERROR : Failed to generate a random ID after 10 attempts")
}

// runBlocking invokes the gateway and keeps the call counters.
func (s *Service) runBlocking(ctx context.Context, realm store.Realm, event string, user *store.UserInfo, opts blocking.Options, tokens blocking.OAuthTokens) (blocking.Result, error) {
	if _, ok := realm.BlockingFunctionURI(event); !ok {
		return blocking.Result{}, nil
	}
	s.metrics.Inc(metrics.IDBlockingFunctionCall)
	result, err := s.blocking.Run(ctx, realm, event, user, opts, tokens)
	if err != nil {
		s.metrics.Inc(metrics.IDBlockingFunctionError)
		return blocking.Result{}, err
	}
	return result, nil
}

// mergeBlockingUpdates layers the fields a blocking function may change on
// top of an in-flight update.
func mergeBlockingUpdates(dst *store.UserUpdate, src store.UserUpdate) {
	if src.DisplayName.IsSet() || src.DisplayName.IsClear() {
		dst.DisplayName = src.DisplayName
	}
	if src.PhotoURL.IsSet() || src.PhotoURL.IsClear() {
		dst.PhotoURL = src.PhotoURL
	}
	if src.Disabled.IsSet() || src.Disabled.IsClear() {
		dst.Disabled = src.Disabled
	}
	if src.EmailVerified.IsSet() || src.EmailVerified.IsClear() {
		dst.EmailVerified = src.EmailVerified
	}
	if src.CustomAttributes.IsSet() || src.CustomAttributes.IsClear() {
		dst.CustomAttributes = src.CustomAttributes
	}
}

// MfaEnrollmentInput is the caller-supplied enrollment shape.
type MfaEnrollmentInput struct {
	MfaEnrollmentID string    `json:"mfaEnrollmentId,omitempty"`
	PhoneInfo       string    `json:"phoneInfo,omitempty"`
	DisplayName     string    `json:"displayName,omitempty"`
	EnrolledAt      time.Time `json:"enrolledAt,omitempty"`
}
