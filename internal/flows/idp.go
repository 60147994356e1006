package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/identitykit/identitykit/internal/apierr"
	"github.com/identitykit/identitykit/internal/blocking"
	"github.com/identitykit/identitykit/internal/metrics"
	"github.com/identitykit/identitykit/internal/store"
	"github.com/identitykit/identitykit/internal/trigger"
)

// SignInWithIdpRequest carries a fake IdP callback. Credentials travel in
// requestUri query parameters, the postBody form or the URI fragment.
type SignInWithIdpRequest struct {
	RequestURI          string `json:"requestUri"`
	PostBody            string `json:"postBody,omitempty"`
	IDToken             string `json:"idToken,omitempty"`
	ReturnIdpCredential bool   `json:"returnIdpCredential,omitempty"`
	ReturnRefreshToken  bool   `json:"returnRefreshToken,omitempty"`
	PendingIDToken      string `json:"pendingIdToken,omitempty"`
}

// SignInWithIdpResponse mirrors the verifyAssertion wire shape. With
// returnIdpCredential set, account conflicts surface in ErrorMessage instead
// of failing the call.
type SignInWithIdpResponse struct {
	FederatedID      string   `json:"federatedId,omitempty"`
	ProviderID       string   `json:"providerId,omitempty"`
	LocalID          string   `json:"localId,omitempty"`
	Email            string   `json:"email,omitempty"`
	EmailVerified    bool     `json:"emailVerified,omitempty"`
	EmailRecycled    bool     `json:"emailRecycled,omitempty"`
	DisplayName      string   `json:"displayName,omitempty"`
	FullName         string   `json:"fullName,omitempty"`
	FirstName        string   `json:"firstName,omitempty"`
	LastName         string   `json:"lastName,omitempty"`
	ScreenName       string   `json:"screenName,omitempty"`
	PhotoURL         string   `json:"photoUrl,omitempty"`
	Context          string   `json:"context"`
	OauthAccessToken string   `json:"oauthAccessToken,omitempty"`
	OauthIDToken     string   `json:"oauthIdToken,omitempty"`
	RawUserInfo      string   `json:"rawUserInfo,omitempty"`
	NeedConfirmation bool     `json:"needConfirmation,omitempty"`
	VerifiedProvider []string `json:"verifiedProvider,omitempty"`
	ErrorMessage     string   `json:"errorMessage,omitempty"`
	IsNewUser        bool     `json:"isNewUser,omitempty"`
	TenantID         string   `json:"tenantId,omitempty"`
	MfaChallenge
	Tokens
}

type samlSubject struct {
	NameID string `json:"nameId"`
}

type samlAssertion struct {
	Subject             *samlSubject   `json:"subject"`
	AttributeStatements map[string]any `json:"attributeStatements"`
}

type samlPayload struct {
	Assertion *samlAssertion `json:"assertion"`
}

// idpAccountUpdates is the decision-table outcome applied to the matched or
// newly created account.
type idpAccountUpdates struct {
	fields          store.UserUpdate
	deleteProviders []string
}

// SignInWithIdp links, signs in or signs up from a fake IdP credential.
func (s *Service) SignInWithIdp(ctx context.Context, realm store.Realm, req SignInWithIdpRequest) (*SignInWithIdpResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if req.ReturnRefreshToken {
		return nil, apierr.NotImplementedError("returnRefreshToken is not implemented yet.")
	}
	if req.PendingIDToken != "" {
		return nil, apierr.NotImplementedError("pendingIdToken is not implemented yet.")
	}

	normalizedURI, err := normalizedRequestURI(req.RequestURI, req.PostBody)
	if err != nil {
		return nil, err
	}
	query := normalizedURI.Query()
	providerID := strings.ToLower(query.Get("providerId"))
	if providerID == "" {
		return nil, apierr.NewBadRequestError("INVALID_CREDENTIAL_OR_PROVIDER_ID : Invalid IdP response/credential: " + normalizedURI.String())
	}
	oauthIDToken := query.Get("id_token")
	oauthAccessToken := query.Get("access_token")

	claims, err := parseIdpClaims(oauthIDToken)
	if err != nil {
		return nil, err
	}
	if claims == nil {
		claims, err = parseIdpClaims(oauthAccessToken)
		if err != nil {
			return nil, err
		}
	}
	if claims == nil {
		switch {
		case oauthIDToken != "":
			return nil, apierr.NewBadRequestError(fmt.Sprintf("INVALID_IDP_RESPONSE : Unable to parse id_token: %s ((Auth Emulator only accepts strict JSON or JWTs as fake id_tokens.))", oauthIDToken))
		case oauthAccessToken != "":
			if providerID == "google.com" || providerID == "apple.com" {
				return nil, apierr.NotImplementedError(fmt.Sprintf("The Auth Emulator only support sign-in with %s using id_token, not access_token. Please update your code to use id_token.", providerID))
			}
			return nil, apierr.NotImplementedError(fmt.Sprintf("The Auth Emulator does not support %s sign-in with credentials.", providerID))
		default:
			return nil, apierr.NotImplementedError("The Auth Emulator only supports sign-in with credentials (id_token required).")
		}
	}

	// SAML payloads are plain JSON here; nothing parses real assertions.
	var saml *samlPayload
	var signInAttributes map[string]any
	if raw := query.Get("SAMLResponse"); raw != "" {
		saml = &samlPayload{}
		if err := json.Unmarshal([]byte(raw), saml); err != nil {
			return nil, apierr.NewBadRequestError("INVALID_IDP_RESPONSE : ((Unable to parse SAMLResponse as strict JSON.))")
		}
		if saml.Assertion == nil {
			return nil, apierr.NewBadRequestError("INVALID_IDP_RESPONSE ((Missing assertion in SAMLResponse.))")
		}
		if saml.Assertion.Subject == nil {
			return nil, apierr.NewBadRequestError("INVALID_IDP_RESPONSE ((Missing assertion.subject in SAMLResponse.))")
		}
		if saml.Assertion.Subject.NameID == "" {
			return nil, apierr.NewBadRequestError("INVALID_IDP_RESPONSE ((Missing assertion.subject.nameId in SAMLResponse.))")
		}
		signInAttributes = saml.Assertion.AttributeStatements
	}

	response, rawID := fakeFetchUserInfoFromIdp(providerID, claims, saml)

	// Clients build credentials from the access token, so always return one.
	if oauthAccessToken == "" {
		oauthAccessToken = "FirebaseAuthEmulatorFakeAccessToken_" + providerID
	}
	response.OauthAccessToken = oauthAccessToken
	response.OauthIDToken = oauthIDToken

	s.mu.Lock()
	defer s.mu.Unlock()

	var userFromIDToken *store.UserInfo
	if req.IDToken != "" {
		parsed, err := s.parseIDToken(realm, req.IDToken)
		if err != nil {
			return nil, err
		}
		userFromIDToken = parsed.user
	}
	userMatchingProvider := realm.UserByProviderRawID(providerID, rawID)

	var updates idpAccountUpdates
	if userFromIDToken != nil {
		if userMatchingProvider != nil {
			err = apierr.ErrDuplicateRawID
		} else {
			updates, err = handleLinkIdp(realm, response, userFromIDToken)
		}
	} else if realm.Features().OneAccountPerEmail {
		var userMatchingEmail *store.UserInfo
		if response.Email != "" {
			userMatchingEmail = realm.UserByEmail(response.Email)
		}
		updates = handleIdpSignInEmailRequired(response, rawID, userMatchingProvider, userMatchingEmail)
	} else {
		updates = handleIdpSignInEmailNotRequired(response, userMatchingProvider)
	}
	if err != nil {
		var apiErr *apierr.Error
		if req.ReturnIdpCredential && errors.As(err, &apiErr) && apiErr.HTTPStatus == http.StatusBadRequest {
			response.ErrorMessage = err.Error()
			return response, nil
		}
		s.metrics.Inc(metrics.IDSignInFailure)
		return nil, err
	}

	if response.NeedConfirmation {
		return response, nil
	}

	providerInfo := store.ProviderUserInfo{
		ProviderID: providerID,
		RawID:      rawID,
		// Production sets federatedId to the plain rawId here, not the
		// prefixed form used elsewhere in the response.
		FederatedID: rawID,
		DisplayName: response.DisplayName,
		PhotoURL:    response.PhotoURL,
		Email:       response.Email,
		ScreenName:  response.ScreenName,
	}

	var attributesJSON string
	if signInAttributes != nil {
		if b, err := json.Marshal(signInAttributes); err == nil {
			attributesJSON = string(b)
		}
	}
	hookOpts := blocking.Options{
		SignInMethod:     response.ProviderID,
		RawUserInfo:      response.RawUserInfo,
		SignInAttributes: attributesJSON,
	}
	oauthTokens := blocking.OAuthTokens{
		IDToken:     oauthIDToken,
		AccessToken: oauthAccessToken,
	}

	var user *store.UserInfo
	var extraClaims map[string]any
	if response.IsNewUser {
		now := time.Now()
		creation := updates.fields
		creation.CreatedAt = store.Set(now.UnixMilli())
		creation.LastLoginAt = store.Set(now.UnixMilli())
		creation.UpsertProviders = []store.ProviderUserInfo{providerInfo}

		localID, err := realm.GenerateLocalID()
		if err != nil {
			return nil, err
		}
		result, err := s.runBlocking(ctx, realm, store.EventBeforeCreate, creation.Preview(localID), hookOpts, oauthTokens)
		if err != nil {
			s.metrics.Inc(metrics.IDSignInFailure)
			return nil, err
		}
		mergeBlockingUpdates(&creation, result.Updates)

		user, err = realm.CreateUser(localID, creation)
		if err != nil {
			s.metrics.Inc(metrics.IDSignInFailure)
			return nil, err
		}
		response.LocalID = user.LocalID
		s.emitUserEvent(ctx, realm, trigger.TypeCreate, user)

		if !user.Disabled && !isMfaEnabled(realm, user) {
			result, err := s.runBlocking(ctx, realm, store.EventBeforeSignIn, user, hookOpts, oauthTokens)
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
		user = realm.UserByLocalID(response.LocalID)
		if user == nil {
			return nil, apierr.ErrUserNotFound
		}

		signInUpdates := updates.fields
		if !user.Disabled && !isMfaEnabled(realm, user) {
			preview := user.Clone()
			signInUpdates.Email.Apply(&preview.Email)
			signInUpdates.EmailVerified.Apply(&preview.EmailVerified)
			signInUpdates.DisplayName.Apply(&preview.DisplayName)
			signInUpdates.PhotoURL.Apply(&preview.PhotoURL)
			result, err := s.runBlocking(ctx, realm, store.EventBeforeSignIn, preview, hookOpts, oauthTokens)
			if err != nil {
				return nil, err
			}
			extraClaims = result.ExtraClaims
			mergeBlockingUpdates(&signInUpdates, result.Updates)
		}
		signInUpdates.UpsertProviders = []store.ProviderUserInfo{providerInfo}
		signInUpdates.DeleteProviders = updates.deleteProviders
		user, err = realm.UpdateUser(response.LocalID, signInUpdates)
		if err != nil {
			return nil, err
		}
	}

	if user.Email == response.Email {
		response.EmailVerified = user.EmailVerified
	}
	response.TenantID = realm.TenantID()

	if isMfaEnabled(realm, user) {
		challenge, err := s.mfaPending(realm, user, providerID)
		if err != nil {
			return nil, err
		}
		response.MfaChallenge = challenge
		return response, nil
	}

	user, err = realm.UpdateUser(user.LocalID, store.UserUpdate{LastLoginAt: store.Set(time.Now().UnixMilli())})
	if err != nil {
		return nil, err
	}
	// A hook may have disabled the account; the write above still sticks.
	if user.Disabled {
		return nil, apierr.ErrUserDisabled
	}
	tokens, err := s.issueTokens(ctx, realm, user, providerID, issueOptions{
		extraClaims:      extraClaims,
		signInAttributes: signInAttributes,
	})
	if err != nil {
		return nil, err
	}
	response.Tokens = tokens
	s.metrics.Inc(metrics.IDSignInSuccess)
	return response, nil
}

// normalizedRequestURI folds postBody form fields and the URI fragment into
// the query string so later lookups see a single parameter set.
func normalizedRequestURI(requestURI, postBody string) (*url.URL, error) {
	if requestURI == "" {
		return nil, apierr.ErrMissingRequestURI
	}
	parsed, err := url.Parse(requestURI)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, apierr.ErrInvalidRequestURI
	}
	query := parsed.Query()
	if postBody != "" {
		form, err := url.ParseQuery(postBody)
		if err == nil {
			for key := range form {
				query.Set(key, form.Get(key))
			}
		}
	}
	if parsed.Fragment != "" {
		fragment, err := url.ParseQuery(parsed.Fragment)
		if err == nil {
			for key := range fragment {
				query.Set(key, fragment.Get(key))
			}
		}
		parsed.Fragment = ""
	}
	parsed.RawQuery = query.Encode()
	return parsed, nil
}

// parseIdpClaims accepts either strict JSON claims or an unverified JWT.
// A nil map with nil error means the input was absent or not JWT-shaped.
func parseIdpClaims(idTokenOrJSONClaims string) (map[string]any, error) {
	if idTokenOrJSONClaims == "" {
		return nil, nil
	}
	var claims map[string]any
	if strings.HasPrefix(idTokenOrJSONClaims, "{") {
		if err := json.Unmarshal([]byte(idTokenOrJSONClaims), &claims); err != nil {
			return nil, apierr.NewBadRequestError(fmt.Sprintf("INVALID_IDP_RESPONSE : Unable to parse id_token: %s ((Auth Emulator failed to parse fake id_token as strict JSON.))", idTokenOrJSONClaims))
		}
	} else {
		var mapClaims jwt.MapClaims
		if _, _, err := jwt.NewParser().ParseUnverified(idTokenOrJSONClaims, &mapClaims); err != nil {
			return nil, nil
		}
		claims = mapClaims
	}
	sub, present := claims["sub"]
	if !present || sub == nil || sub == "" {
		return nil, apierr.NewBadRequestError(`INVALID_IDP_RESPONSE : Invalid Idp Response: id_token missing required fields. ((Missing "sub" field. This field is required and must be a unique identifier.))`)
	}
	if _, ok := sub.(string); !ok {
		return nil, apierr.NewBadRequestError(`INVALID_IDP_RESPONSE : ((The "sub" field must be a string.))`)
	}
	return claims, nil
}

func claimString(claims map[string]any, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// fakeFetchUserInfoFromIdp stands in for the userinfo fetch a real IdP flow
// would perform, deriving profile fields from the supplied claims.
func fakeFetchUserInfoFromIdp(providerID string, claims map[string]any, saml *samlPayload) (*SignInWithIdpResponse, string) {
	rawID := claimString(claims, "sub")
	email := ""
	if e := claimString(claims, "email"); e != "" {
		email = canonicalizeEmail(e)
	}
	emailVerified, _ := claims["email_verified"].(bool)
	displayName := claimString(claims, "name")
	photoURL := claimString(claims, "picture")

	response := &SignInWithIdpResponse{
		ProviderID:    providerID,
		DisplayName:   displayName,
		FullName:      displayName,
		ScreenName:    claimString(claims, "screen_name"),
		Email:         email,
		EmailVerified: emailVerified,
		PhotoURL:      photoURL,
	}

	federatedID := rawID
	switch {
	case providerID == "google.com":
		federatedID = "https://accounts.google.com/" + rawID
		grantedScopes := "openid https://www.googleapis.com/auth/userinfo.profile"
		if email != "" {
			grantedScopes += " https://www.googleapis.com/auth/userinfo.email"
		}
		response.FirstName = claimString(claims, "given_name")
		response.LastName = claimString(claims, "family_name")
		raw, _ := json.Marshal(map[string]any{
			"granted_scopes": grantedScopes,
			"id":             rawID,
			"name":           displayName,
			"given_name":     response.FirstName,
			"family_name":    response.LastName,
			"verified_email": emailVerified,
			"locale":         "en",
			"email":          email,
			"picture":        photoURL,
		})
		response.RawUserInfo = string(raw)
	case strings.HasPrefix(providerID, "saml."):
		if saml != nil && saml.Assertion != nil {
			if saml.Assertion.Subject != nil && isValidEmail(saml.Assertion.Subject.NameID) {
				response.Email = saml.Assertion.Subject.NameID
			}
			raw, _ := json.Marshal(saml.Assertion.AttributeStatements)
			response.RawUserInfo = string(raw)
		}
		response.EmailVerified = true
	default:
		raw, _ := json.Marshal(claims)
		response.RawUserInfo = string(raw)
	}

	response.FederatedID = federatedID
	return response, rawID
}

func handleLinkIdp(realm store.Realm, response *SignInWithIdpResponse, userFromIDToken *store.UserInfo) (idpAccountUpdates, error) {
	if realm.Features().OneAccountPerEmail && response.Email != "" {
		matching := realm.UserByEmail(response.Email)
		if matching != nil && matching.LocalID != userFromIDToken.LocalID {
			return idpAccountUpdates{}, apierr.ErrEmailExists
		}
	}
	response.LocalID = userFromIDToken.LocalID

	var updates idpAccountUpdates
	if realm.Features().OneAccountPerEmail && response.Email != "" && userFromIDToken.Email == "" {
		updates.fields.Email = store.Set(response.Email)
		updates.fields.EmailVerified = store.Set(response.EmailVerified)
	}
	effectiveEmail := userFromIDToken.Email
	if updates.fields.Email.IsSet() {
		effectiveEmail = updates.fields.Email.Value()
	}
	if response.Email != "" && response.EmailVerified && effectiveEmail == response.Email {
		updates.fields.EmailVerified = store.Set(true)
	}
	return updates, nil
}

func handleIdpSignInEmailNotRequired(response *SignInWithIdpResponse, userMatchingProvider *store.UserInfo) idpAccountUpdates {
	if userMatchingProvider != nil {
		response.LocalID = userMatchingProvider.LocalID
		return idpAccountUpdates{}
	}
	return handleIdpSignUp(response, false)
}

func handleIdpSignInEmailRequired(response *SignInWithIdpResponse, rawID string, userMatchingProvider, userMatchingEmail *store.UserInfo) idpAccountUpdates {
	if userMatchingProvider != nil {
		response.LocalID = userMatchingProvider.LocalID
		return idpAccountUpdates{}
	}
	if userMatchingEmail == nil {
		return handleIdpSignUp(response, true)
	}

	if !response.EmailVerified {
		response.NeedConfirmation = true
		response.LocalID = userMatchingEmail.LocalID
		for _, info := range userMatchingEmail.ProviderUserInfo {
			if info.ProviderID != store.ProviderPassword && info.ProviderID != store.ProviderPhone {
				response.VerifiedProvider = append(response.VerifiedProvider, info.ProviderID)
			}
		}
		return idpAccountUpdates{}
	}

	for _, info := range userMatchingEmail.ProviderUserInfo {
		if info.ProviderID == response.ProviderID && info.RawID != rawID {
			// The IdP recycled this email to a different account.
			response.EmailRecycled = true
		}
	}
	response.LocalID = userMatchingEmail.LocalID

	var updates idpAccountUpdates
	if !userMatchingEmail.EmailVerified {
		// The stored email was never verified, so the IdP match cannot be
		// trusted to be the same person. Drop every other credential.
		updates.fields.PasswordHash = store.Clear[string]()
		updates.fields.Salt = store.Clear[string]()
		updates.fields.PhoneNumber = store.Clear[string]()
		updates.fields.ValidSince = store.Set(time.Now().Unix())
		for _, info := range userMatchingEmail.ProviderUserInfo {
			updates.deleteProviders = append(updates.deleteProviders, info.ProviderID)
		}
	}
	setOrClear(&updates.fields.DisplayName, response.DisplayName)
	setOrClear(&updates.fields.PhotoURL, response.PhotoURL)
	updates.fields.EmailVerified = store.Set(true)
	return updates
}

func handleIdpSignUp(response *SignInWithIdpResponse, emailRequired bool) idpAccountUpdates {
	var updates idpAccountUpdates
	setOrClear(&updates.fields.DisplayName, response.DisplayName)
	setOrClear(&updates.fields.PhotoURL, response.PhotoURL)
	// Without oneAccountPerEmail the address stays off user.email and is only
	// visible through providerUserInfo.
	if emailRequired && response.Email != "" {
		updates.fields.Email = store.Set(response.Email)
		updates.fields.EmailVerified = store.Set(response.EmailVerified)
	}
	response.IsNewUser = true
	return updates
}

func setOrClear(patch *store.Patch[string], value string) {
	if value == "" {
		*patch = store.Clear[string]()
	} else {
		*patch = store.Set(value)
	}
}

// CreateAuthUriRequest probes which sign-in methods exist for an identifier.
type CreateAuthUriRequest struct {
	Identifier  string `json:"identifier,omitempty"`
	ContinueURI string `json:"continueUri,omitempty"`
	ProviderID  string `json:"providerId,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
}

// CreateAuthUriResponse reports registration status and available methods.
type CreateAuthUriResponse struct {
	Registered    bool     `json:"registered"`
	AllProviders  []string `json:"allProviders"`
	SessionID     string   `json:"sessionId"`
	SigninMethods []string `json:"signinMethods"`
}

// SignInMethodEmailLink is the reported method for email-link capable accounts.
const SignInMethodEmailLink = "emailLink"

// CreateAuthUri reports providers and sign-in methods for an email.
func (s *Service) CreateAuthUri(ctx context.Context, realm store.Realm, req CreateAuthUriRequest) (*CreateAuthUriResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	sessionID := req.SessionID
	if sessionID == "" {
		var err error
		sessionID, err = s.gen.AlphanumericID(27)
		if err != nil {
			return nil, err
		}
	}
	if req.ProviderID != "" {
		return nil, apierr.NotImplementedError("Sign-in with IDP is not yet supported.")
	}
	if req.Identifier == "" {
		return nil, apierr.ErrMissingIdentifier
	}
	if req.ContinueURI == "" {
		return nil, apierr.ErrMissingContinueURI
	}
	if !isValidEmail(req.Identifier) {
		return nil, apierr.ErrInvalidIdentifier
	}
	email := canonicalizeEmail(req.Identifier)
	if !isAbsoluteURI(req.ContinueURI) {
		return nil, apierr.ErrInvalidContinueURI
	}

	resp := &CreateAuthUriResponse{
		SessionID:     sessionID,
		AllProviders:  []string{},
		SigninMethods: []string{},
	}
	users := realm.UsersByEmailOrProviderEmail(email)
	if realm.Features().OneAccountPerEmail {
		if len(users) > 0 {
			resp.Registered = true
			first := users[0]
			for _, info := range first.ProviderUserInfo {
				switch info.ProviderID {
				case store.ProviderPassword:
					resp.AllProviders = append(resp.AllProviders, info.ProviderID)
					if first.PasswordHash != "" {
						resp.SigninMethods = append(resp.SigninMethods, store.ProviderPassword)
					}
					if first.EmailLinkSignin {
						resp.SigninMethods = append(resp.SigninMethods, SignInMethodEmailLink)
					}
				case store.ProviderPhone:
				default:
					resp.AllProviders = append(resp.AllProviders, info.ProviderID)
					resp.SigninMethods = append(resp.SigninMethods, info.ProviderID)
				}
			}
		}
		return resp, nil
	}

	// Without email uniqueness only password-style methods are reported.
	for _, user := range users {
		if user.Email == "" {
			continue
		}
		resp.Registered = true
		if user.PasswordHash != "" || user.EmailLinkSignin {
			resp.AllProviders = append(resp.AllProviders, store.ProviderPassword)
			if user.PasswordHash != "" {
				resp.SigninMethods = append(resp.SigninMethods, store.ProviderPassword)
			}
			if user.EmailLinkSignin {
				resp.SigninMethods = append(resp.SigninMethods, SignInMethodEmailLink)
			}
		}
		break
	}
	return resp, nil
}
