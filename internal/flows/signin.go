package flows

import (
	"context"
	"encoding/json"
	"time"

	"github.com/identitykit/identitykit/idtoken"
	"github.com/identitykit/identitykit/internal/apierr"
	"github.com/identitykit/identitykit/internal/blocking"
	"github.com/identitykit/identitykit/internal/codes"
	"github.com/identitykit/identitykit/internal/metrics"
	"github.com/identitykit/identitykit/internal/store"
	"github.com/identitykit/identitykit/internal/trigger"
)

// SignInWithPasswordRequest authenticates by email and password.
type SignInWithPasswordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignInWithPasswordResponse carries tokens, or an MFA challenge when the
// account has second factors enrolled.
type SignInWithPasswordResponse struct {
	Registered bool   `json:"registered"`
	LocalID    string `json:"localId"`
	Email      string `json:"email"`
	Tokens
	MfaChallenge
}

// SignInWithPassword verifies the password and issues tokens or an MFA
// challenge.
func (s *Service) SignInWithPassword(ctx context.Context, realm store.Realm, req SignInWithPasswordRequest) (*SignInWithPasswordResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if !realm.Features().AllowPasswordSignup {
		return nil, apierr.ErrPasswordLoginDisabled
	}
	if req.Email == "" {
		return nil, apierr.ErrMissingEmail
	}
	if !isValidEmail(req.Email) {
		return nil, apierr.ErrInvalidEmail
	}
	if req.Password == "" {
		return nil, apierr.ErrMissingPassword
	}

	started := time.Now()
	email := canonicalizeEmail(req.Email)
	user := realm.UserByEmail(email)
	if user == nil {
		s.metrics.Inc(metrics.IDSignInFailure)
		return nil, apierr.ErrEmailNotFound
	}
	if user.Disabled {
		s.metrics.Inc(metrics.IDSignInFailure)
		return nil, apierr.ErrUserDisabled
	}
	if user.PasswordHash == "" || user.Salt == "" || user.PasswordHash != hashPassword(req.Password, user.Salt) {
		s.metrics.Inc(metrics.IDSignInFailure)
		return nil, apierr.ErrInvalidPassword
	}

	resp := &SignInWithPasswordResponse{
		Registered: true,
		LocalID:    user.LocalID,
		Email:      email,
	}

	if isMfaEnabled(realm, user) {
		challenge, err := s.mfaPending(realm, user, store.ProviderPassword)
		if err != nil {
			return nil, err
		}
		resp.MfaChallenge = challenge
		return resp, nil
	}

	result, err := s.runBlocking(ctx, realm, store.EventBeforeSignIn, user, blocking.Options{SignInMethod: "password"}, blocking.OAuthTokens{})
	if err != nil {
		return nil, err
	}
	updates := result.Updates
	updates.LastLoginAt = store.Set(nowMillis())
	user, err = realm.UpdateUser(user.LocalID, updates)
	if err != nil {
		return nil, err
	}
	if user.Disabled {
		return nil, apierr.ErrUserDisabled
	}

	tokens, err := s.issueTokens(ctx, realm, user, store.ProviderPassword, issueOptions{extraClaims: result.ExtraClaims})
	if err != nil {
		return nil, err
	}
	resp.Tokens = tokens
	s.metrics.Inc(metrics.IDSignInSuccess)
	s.metrics.Observe(metrics.IDSignInLatency, time.Since(started))
	return resp, nil
}

// SignInWithCustomTokenRequest exchanges a developer-minted custom token.
type SignInWithCustomTokenRequest struct {
	Token string `json:"token"`
}

// SignInWithCustomTokenResponse reports whether the exchange created the
// account.
type SignInWithCustomTokenResponse struct {
	IsNewUser bool `json:"isNewUser"`
	Tokens
}

// SignInWithCustomToken accepts either a JWT or, as an emulator convenience,
// a strict-JSON object in place of one.
func (s *Service) SignInWithCustomToken(ctx context.Context, realm store.Realm, req SignInWithCustomTokenRequest) (*SignInWithCustomTokenResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if req.Token == "" {
		return nil, apierr.ErrMissingCustomToken
	}

	payload, err := idtoken.DecodeCustomToken(req.Token)
	if err != nil {
		return nil, err
	}
	if !payload.FromJSON {
		if realm.TenantID() != "" && payload.TenantID != realm.TenantID() {
			return nil, apierr.ErrTenantIDMismatch
		}
		if payload.Signed {
			s.logger.Warn("received a signed custom token; tokens are not validated and are not secure")
		}
		if payload.Audience != idtoken.CustomTokenAudience {
			return nil, apierr.NewBadRequestError(
				"INVALID_CUSTOM_TOKEN : ((Invalid aud (audience): " + payload.Audience +
					" Note: Firebase ID Tokens / third-party tokens cannot be used with signInWithCustomToken.))")
		}
	}

	localID := payload.UID
	if localID == "" {
		localID = payload.UserID
	}
	if localID == "" {
		return nil, apierr.ErrMissingIdentifier
	}

	extraClaims := map[string]any{}
	if len(payload.Claims) > 0 {
		if err := json.Unmarshal(payload.Claims, &extraClaims); err != nil {
			return nil, apierr.ErrInvalidClaims
		}
		if err := idtoken.ValidateCustomClaims(extraClaims); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	user := realm.UserByLocalID(localID)
	isNewUser := user == nil

	updates := store.UserUpdate{
		CustomAuth:  store.Set(true),
		LastLoginAt: store.Set(nowMillis()),
	}
	if user != nil {
		if user.Disabled {
			s.mu.Unlock()
			return nil, apierr.ErrUserDisabled
		}
		user, err = realm.UpdateUser(localID, updates)
	} else {
		updates.CreatedAt = store.Set(nowMillis())
		user, err = realm.CreateUser(localID, updates)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if isNewUser {
		s.emitUserEvent(ctx, realm, trigger.TypeCreate, user)
	}

	tokens, err := s.issueTokens(ctx, realm, user, store.ProviderCustom, issueOptions{extraClaims: extraClaims})
	if err != nil {
		return nil, err
	}
	s.metrics.Inc(metrics.IDSignInSuccess)
	return &SignInWithCustomTokenResponse{IsNewUser: isNewUser, Tokens: tokens}, nil
}

// SignInWithEmailLinkRequest completes an email-link sign-in, optionally
// linking the address to the account behind idToken.
type SignInWithEmailLinkRequest struct {
	Email   string `json:"email"`
	OobCode string `json:"oobCode"`
	IDToken string `json:"idToken,omitempty"`
}

// SignInWithEmailLinkResponse is the email-link sign-in result.
type SignInWithEmailLinkResponse struct {
	Email     string `json:"email"`
	LocalID   string `json:"localId"`
	IsNewUser bool   `json:"isNewUser"`
	Tokens
	MfaChallenge
}

// SignInWithEmailLink consumes an EMAIL_SIGNIN code. The resulting account
// has a verified email and emailLinkSignin set.
func (s *Service) SignInWithEmailLink(ctx context.Context, realm store.Realm, req SignInWithEmailLinkRequest) (*SignInWithEmailLinkResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if !realm.Features().EnableEmailLinkSignin {
		return nil, apierr.ErrOperationNotAllowed
	}

	var userFromIDToken *store.UserInfo
	if req.IDToken != "" {
		parsed, err := s.parseIDToken(realm, req.IDToken)
		if err != nil {
			return nil, err
		}
		userFromIDToken = parsed.user
	}
	if req.Email == "" {
		return nil, apierr.ErrMissingEmail
	}
	email := canonicalizeEmail(req.Email)
	if req.OobCode == "" {
		return nil, apierr.ErrMissingOobCode
	}

	oob, err := s.oob.Consume(ctx, scopeOf(realm), req.OobCode)
	if err == codes.ErrNotFound {
		s.metrics.Inc(metrics.IDOobCodeInvalid)
		return nil, apierr.ErrInvalidOobCode
	}
	if err != nil {
		return nil, err
	}
	if oob.RequestType != codes.OobRequestEmailSignIn {
		s.metrics.Inc(metrics.IDOobCodeInvalid)
		return nil, apierr.ErrInvalidOobCode
	}
	if email != oob.Email {
		return nil, apierr.NewBadRequestError("INVALID_EMAIL : The email provided does not match the sign-in email address.")
	}
	s.metrics.Inc(metrics.IDOobCodeConsumed)

	s.mu.Lock()
	defer s.mu.Unlock()

	userFromEmail := realm.UserByEmail(email)
	user := userFromIDToken
	if user == nil {
		user = userFromEmail
	}
	isNewUser := user == nil

	updates := store.UserUpdate{
		Email:           store.Set(email),
		EmailVerified:   store.Set(true),
		EmailLinkSignin: store.Set(true),
	}

	var extraClaims map[string]any
	if user == nil {
		updates.CreatedAt = store.Set(nowMillis())
		localID, err := realm.GenerateLocalID()
		if err != nil {
			return nil, err
		}
		result, err := s.runBlocking(ctx, realm, store.EventBeforeCreate, updates.Preview(localID), blocking.Options{SignInMethod: "emailLink"}, blocking.OAuthTokens{})
		if err != nil {
			return nil, err
		}
		mergeBlockingUpdates(&updates, result.Updates)
		user, err = realm.CreateUser(localID, updates)
		if err != nil {
			return nil, err
		}
		s.emitUserEvent(ctx, realm, trigger.TypeCreate, user)

		if !user.Disabled && !isMfaEnabled(realm, user) {
			result, err := s.runBlocking(ctx, realm, store.EventBeforeSignIn, user, blocking.Options{SignInMethod: "emailLink"}, blocking.OAuthTokens{})
			if err != nil {
				return nil, err
			}
			extraClaims = result.ExtraClaims
			user, err = realm.UpdateUser(user.LocalID, result.Updates)
			if err != nil {
				return nil, err
			}
		}
	} else {
		if user.Disabled {
			return nil, apierr.ErrUserDisabled
		}
		if userFromIDToken != nil && userFromEmail != nil && userFromIDToken.LocalID != userFromEmail.LocalID {
			return nil, apierr.ErrEmailExists
		}
		if !isMfaEnabled(realm, user) {
			preview := user.Clone()
			updates.Email.Apply(&preview.Email)
			updates.EmailVerified.Apply(&preview.EmailVerified)
			result, err := s.runBlocking(ctx, realm, store.EventBeforeSignIn, preview, blocking.Options{SignInMethod: "emailLink"}, blocking.OAuthTokens{})
			if err != nil {
				return nil, err
			}
			mergeBlockingUpdates(&updates, result.Updates)
			extraClaims = result.ExtraClaims
		}
		var err error
		user, err = realm.UpdateUser(user.LocalID, updates)
		if err != nil {
			return nil, err
		}
	}

	resp := &SignInWithEmailLinkResponse{
		Email:     email,
		LocalID:   user.LocalID,
		IsNewUser: isNewUser,
	}
	if user.Disabled {
		return nil, apierr.ErrUserDisabled
	}

	if isMfaEnabled(realm, user) {
		challenge, err := s.mfaPending(realm, user, store.ProviderPassword)
		if err != nil {
			return nil, err
		}
		resp.MfaChallenge = challenge
		return resp, nil
	}

	user, err = realm.UpdateUser(user.LocalID, store.UserUpdate{LastLoginAt: store.Set(nowMillis())})
	if err != nil {
		return nil, err
	}
	tokens, err := s.issueTokens(ctx, realm, user, store.ProviderPassword, issueOptions{extraClaims: extraClaims})
	if err != nil {
		return nil, err
	}
	resp.Tokens = tokens
	s.metrics.Inc(metrics.IDSignInSuccess)
	return resp, nil
}
