package flows

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/identitykit/identitykit/idtoken"
	"github.com/identitykit/identitykit/internal/apierr"
	"github.com/identitykit/identitykit/internal/codes"
	"github.com/identitykit/identitykit/internal/metrics"
	"github.com/identitykit/identitykit/internal/store"
	"github.com/identitykit/identitykit/internal/trigger"
)

// UserView is the API rendering of a stored account. Millisecond timestamps
// go out as decimal strings to match the wire format clients expect.
type UserView struct {
	LocalID           string                   `json:"localId"`
	Email             string                   `json:"email,omitempty"`
	EmailVerified     bool                     `json:"emailVerified"`
	EmailLinkSignin   bool                     `json:"emailLinkSignin,omitempty"`
	InitialEmail      string                   `json:"initialEmail,omitempty"`
	DisplayName       string                   `json:"displayName,omitempty"`
	PhotoURL          string                   `json:"photoUrl,omitempty"`
	PhoneNumber       string                   `json:"phoneNumber,omitempty"`
	PasswordHash      string                   `json:"passwordHash,omitempty"`
	Salt              string                   `json:"salt,omitempty"`
	PasswordUpdatedAt int64                    `json:"passwordUpdatedAt,omitempty"`
	ValidSince        string                   `json:"validSince,omitempty"`
	Disabled          bool                     `json:"disabled,omitempty"`
	CustomAuth        bool                     `json:"customAuth,omitempty"`
	CustomAttributes  string                   `json:"customAttributes,omitempty"`
	CreatedAt         string                   `json:"createdAt,omitempty"`
	LastLoginAt       string                   `json:"lastLoginAt,omitempty"`
	LastRefreshAt     string                   `json:"lastRefreshAt,omitempty"`
	TenantID          string                   `json:"tenantId,omitempty"`
	ProviderUserInfo  []store.ProviderUserInfo `json:"providerUserInfo,omitempty"`
	MfaInfo           []MfaView                `json:"mfaInfo,omitempty"`
}

// MfaView is the unredacted enrollment rendering used by account lookups.
type MfaView struct {
	MfaEnrollmentID       string `json:"mfaEnrollmentId"`
	DisplayName           string `json:"displayName,omitempty"`
	PhoneInfo             string `json:"phoneInfo,omitempty"`
	UnobfuscatedPhoneInfo string `json:"unobfuscatedPhoneInfo,omitempty"`
	EnrolledAt            string `json:"enrolledAt,omitempty"`
}

func newUserView(user *store.UserInfo) UserView {
	view := UserView{
		LocalID:           user.LocalID,
		Email:             user.Email,
		EmailVerified:     user.EmailVerified,
		EmailLinkSignin:   user.EmailLinkSignin,
		InitialEmail:      user.InitialEmail,
		DisplayName:       user.DisplayName,
		PhotoURL:          user.PhotoURL,
		PhoneNumber:       user.PhoneNumber,
		PasswordHash:      user.PasswordHash,
		Salt:              user.Salt,
		PasswordUpdatedAt: user.PasswordUpdatedAt,
		Disabled:          user.Disabled,
		CustomAuth:        user.CustomAuth,
		CustomAttributes:  user.CustomAttributes,
		TenantID:          user.TenantID,
		ProviderUserInfo:  user.ProviderUserInfo,
	}
	if user.ValidSince != 0 {
		view.ValidSince = strconv.FormatInt(user.ValidSince, 10)
	}
	if user.CreatedAt != 0 {
		view.CreatedAt = strconv.FormatInt(user.CreatedAt, 10)
	}
	if user.LastLoginAt != 0 {
		view.LastLoginAt = strconv.FormatInt(user.LastLoginAt, 10)
	}
	if !user.LastRefreshAt.IsZero() {
		view.LastRefreshAt = user.LastRefreshAt.UTC().Format(time.RFC3339)
	}
	for _, e := range user.MfaInfo {
		mv := MfaView{
			MfaEnrollmentID:       e.MfaEnrollmentID,
			DisplayName:           e.DisplayName,
			PhoneInfo:             e.PhoneInfo,
			UnobfuscatedPhoneInfo: e.UnobfuscatedPhoneInfo,
		}
		if !e.EnrolledAt.IsZero() {
			mv.EnrolledAt = e.EnrolledAt.UTC().Format(time.RFC3339)
		}
		view.MfaInfo = append(view.MfaInfo, mv)
	}
	return view
}

// MfaInput is the mfa block of account mutation requests. A present block
// with no enrollments clears every second factor.
type MfaInput struct {
	Enrollments []MfaEnrollmentInput `json:"enrollments"`
}

// SetAccountInfoRequest mutates an account addressed by idToken, oobCode or,
// for privileged callers, localId.
type SetAccountInfoRequest struct {
	IDToken          string    `json:"idToken,omitempty"`
	LocalID          string    `json:"localId,omitempty"`
	OobCode          string    `json:"oobCode,omitempty"`
	Email            string    `json:"email,omitempty"`
	Password         string    `json:"password,omitempty"`
	DisplayName      *string   `json:"displayName,omitempty"`
	PhotoURL         *string   `json:"photoUrl,omitempty"`
	PhoneNumber      string    `json:"phoneNumber,omitempty"`
	EmailVerified    *bool     `json:"emailVerified,omitempty"`
	DisableUser      *bool     `json:"disableUser,omitempty"`
	CustomAttributes string    `json:"customAttributes,omitempty"`
	ValidSince       int64     `json:"validSince,omitempty,string"`
	CreatedAt        int64     `json:"createdAt,omitempty,string"`
	LastLoginAt      int64     `json:"lastLoginAt,omitempty,string"`
	DeleteAttribute  []string  `json:"deleteAttribute,omitempty"`
	DeleteProvider   []string  `json:"deleteProvider,omitempty"`
	Mfa              *MfaInput `json:"mfa,omitempty"`

	// Accepted so the unimplemented production parameters fail loudly
	// instead of being silently dropped.
	Provider                []string        `json:"provider,omitempty"`
	UpgradeToFederatedLogin bool            `json:"upgradeToFederatedLogin,omitempty"`
	LinkProviderUserInfo    json.RawMessage `json:"linkProviderUserInfo,omitempty"`

	Privileged bool `json:"-"`
}

// SetAccountInfoResponse echoes the updated fields. Tokens are present only
// when the mutation invalidated the caller's previous session.
type SetAccountInfoResponse struct {
	LocalID          string                   `json:"localId"`
	Email            string                   `json:"email,omitempty"`
	EmailVerified    bool                     `json:"emailVerified"`
	DisplayName      string                   `json:"displayName,omitempty"`
	PhotoURL         string                   `json:"photoUrl,omitempty"`
	PasswordHash     string                   `json:"passwordHash,omitempty"`
	ProviderUserInfo []store.ProviderUserInfo `json:"providerUserInfo,omitempty"`
	Tokens
}

// SetAccountInfo applies profile, credential and second factor changes.
func (s *Service) SetAccountInfo(ctx context.Context, realm store.Realm, req SetAccountInfoRequest) (*SetAccountInfoResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if len(req.Provider) > 0 {
		return nil, apierr.NotImplementedError("((Parameter provider is not supported.))")
	}
	if req.UpgradeToFederatedLogin {
		return nil, apierr.NotImplementedError("((Parameter upgradeToFederatedLogin is not supported.))")
	}
	if len(req.LinkProviderUserInfo) > 0 {
		return nil, apierr.NotImplementedError("((Parameter linkProviderUserInfo is not supported.))")
	}
	if req.Privileged {
		if req.LocalID == "" {
			return nil, apierr.ErrMissingLocalID
		}
	} else {
		if req.IDToken == "" && req.OobCode == "" {
			return nil, apierr.NewBadRequestError("INVALID_REQ_TYPE : Unsupported request parameters.")
		}
		if req.CustomAttributes != "" {
			return nil, apierr.ErrInsufficientPermission
		}
	}
	if req.CustomAttributes != "" {
		if err := idtoken.ValidateSerializedCustomClaims(req.CustomAttributes); err != nil {
			return nil, err
		}
	}
	for _, attr := range req.DeleteAttribute {
		if attr == "PROVIDER" || attr == "RAW_USER_INFO" {
			return nil, apierr.NotImplementedError("((Deleting attribute " + attr + " is not supported.))")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		user           *store.UserInfo
		signInProvider string
		updates        store.UserUpdate
		isEmailUpdate  bool
	)
	switch {
	case !req.Privileged && req.OobCode != "":
		oob, err := s.oob.Consume(ctx, scopeOf(realm), req.OobCode)
		if err == codes.ErrNotFound {
			s.metrics.Inc(metrics.IDOobCodeInvalid)
			return nil, apierr.ErrInvalidOobCode
		}
		if err != nil {
			return nil, err
		}
		s.metrics.Inc(metrics.IDOobCodeConsumed)
		switch oob.RequestType {
		case codes.OobRequestVerifyEmail:
			signInProvider = store.ProviderPassword
			user = realm.UserByEmail(oob.Email)
			if user == nil {
				return nil, apierr.ErrInvalidOobCode
			}
			updates.EmailVerified = store.Set(true)
			if oob.Email != user.Email {
				updates.Email = store.Set(oob.Email)
			}
		case codes.OobRequestRecoverEmail:
			user = realm.UserByInitialEmail(oob.Email)
			if user == nil {
				return nil, apierr.ErrInvalidOobCode
			}
			if other := realm.UserByEmail(oob.Email); other != nil && other.LocalID != user.LocalID {
				return nil, apierr.ErrEmailExists
			}
			updates.EmailVerified = store.Set(true)
			if oob.Email != user.Email {
				updates.Email = store.Set(oob.Email)
			}
		default:
			return nil, apierr.ErrInvalidOobCode
		}
	case !req.Privileged:
		parsed, err := s.parseIDToken(realm, req.IDToken)
		if err != nil {
			return nil, err
		}
		if req.DisableUser != nil {
			return nil, apierr.ErrOperationNotAllowed
		}
		user = parsed.user
		signInProvider = parsed.signInProvider
	default:
		user = realm.UserByLocalID(req.LocalID)
		if user == nil {
			return nil, apierr.ErrUserNotFound
		}
	}

	if req.Email != "" {
		if !isValidEmail(req.Email) {
			return nil, apierr.ErrInvalidEmail
		}
		newEmail := canonicalizeEmail(req.Email)
		if newEmail != user.Email {
			if realm.UserByEmail(newEmail) != nil {
				return nil, apierr.ErrEmailExists
			}
			updates.Email = store.Set(newEmail)
			updates.EmailVerified = store.Clear[bool]()
			isEmailUpdate = true
			// Keep the previous address recoverable unless the account
			// never proved ownership of one.
			if signInProvider != store.ProviderAnonymous && user.Email != "" && user.InitialEmail == "" {
				updates.InitialEmail = store.Set(user.Email)
			}
		}
	}
	if req.Password != "" {
		if len(req.Password) < PasswordMinLength {
			return nil, apierr.ErrWeakPassword
		}
		salt, err := s.newSalt()
		if err != nil {
			return nil, err
		}
		updates.PasswordHash = store.Set(hashPassword(req.Password, salt))
		updates.Salt = store.Set(salt)
		updates.PasswordUpdatedAt = store.Set(time.Now().UnixMilli())
		signInProvider = store.ProviderPassword
	}
	if req.Password != "" || req.ValidSince != 0 || isEmailUpdate {
		updates.ValidSince = store.Set(time.Now().Unix())
	}

	if req.Mfa != nil {
		if len(req.Mfa.Enrollments) > 0 {
			enrollments, err := s.mfaEnrollmentsFromRequest(realm, req.Mfa.Enrollments, false)
			if err != nil {
				return nil, err
			}
			updates.MfaInfo = store.Set(enrollments)
		} else {
			updates.MfaInfo = store.Clear[[]store.MfaEnrollment]()
		}
	}

	if req.DisplayName != nil {
		if *req.DisplayName == "" {
			updates.DisplayName = store.Clear[string]()
		} else {
			updates.DisplayName = store.Set(*req.DisplayName)
		}
	}
	if req.PhotoURL != nil {
		if *req.PhotoURL == "" {
			updates.PhotoURL = store.Clear[string]()
		} else {
			updates.PhotoURL = store.Set(*req.PhotoURL)
		}
	}

	if req.Privileged {
		if req.DisableUser != nil {
			updates.Disabled = store.Set(*req.DisableUser)
		}
		if req.PhoneNumber != "" && req.PhoneNumber != user.PhoneNumber {
			if !store.IsValidPhoneNumber(req.PhoneNumber) {
				return nil, apierr.ErrInvalidPhoneNumber
			}
			if realm.UserByPhoneNumber(req.PhoneNumber) != nil {
				return nil, apierr.ErrPhoneNumberExists
			}
			updates.PhoneNumber = store.Set(req.PhoneNumber)
		}
		if req.EmailVerified != nil {
			updates.EmailVerified = store.Set(*req.EmailVerified)
		}
		if req.CustomAttributes != "" {
			updates.CustomAttributes = store.Set(req.CustomAttributes)
		}
		if req.CreatedAt != 0 {
			updates.CreatedAt = store.Set(req.CreatedAt)
		}
		if req.LastLoginAt != 0 {
			updates.LastLoginAt = store.Set(req.LastLoginAt)
		}
		if req.ValidSince != 0 {
			updates.ValidSince = store.Set(req.ValidSince)
		}
	}

	for _, attr := range req.DeleteAttribute {
		switch attr {
		case "DISPLAY_NAME":
			updates.DisplayName = store.Clear[string]()
		case "PHOTO_URL":
			updates.PhotoURL = store.Clear[string]()
		case "PASSWORD":
			updates.PasswordHash = store.Clear[string]()
			updates.Salt = store.Clear[string]()
		case "EMAIL":
			updates.Email = store.Clear[string]()
			updates.EmailVerified = store.Clear[bool]()
			updates.EmailLinkSignin = store.Clear[bool]()
			updates.InitialEmail = store.Clear[string]()
		}
	}
	for _, provider := range req.DeleteProvider {
		switch provider {
		case store.ProviderPassword:
			updates.Email = store.Clear[string]()
			updates.EmailVerified = store.Clear[bool]()
			updates.EmailLinkSignin = store.Clear[bool]()
			updates.PasswordHash = store.Clear[string]()
			updates.Salt = store.Clear[string]()
		case store.ProviderPhone:
			updates.PhoneNumber = store.Clear[string]()
		}
	}
	updates.DeleteProviders = req.DeleteProvider

	updated, err := realm.UpdateUser(user.LocalID, updates)
	if err != nil {
		return nil, err
	}
	s.metrics.Inc(metrics.IDUserUpdated)

	if isEmailUpdate && updated.InitialEmail != "" && signInProvider != store.ProviderAnonymous {
		record, err := s.createOobRecord(ctx, realm, updated.InitialEmail, codes.OobRequestRecoverEmail, "recoverEmail", "")
		if err != nil {
			return nil, err
		}
		s.logOobLink(record)
	}

	resp := &SetAccountInfoResponse{
		LocalID:          updated.LocalID,
		Email:            updated.Email,
		EmailVerified:    updated.EmailVerified,
		DisplayName:      updated.DisplayName,
		PhotoURL:         updated.PhotoURL,
		PasswordHash:     updated.PasswordHash,
		ProviderUserInfo: updated.ProviderUserInfo,
	}
	if updates.ValidSince.IsSet() && signInProvider != "" {
		tokens, err := s.issueTokens(ctx, realm, updated, signInProvider, issueOptions{})
		if err != nil {
			return nil, err
		}
		resp.Tokens = tokens
	}
	return resp, nil
}

// DeleteAccountRequest removes an account by idToken or, privileged, localId.
type DeleteAccountRequest struct {
	IDToken string `json:"idToken,omitempty"`
	LocalID string `json:"localId,omitempty"`

	Privileged bool `json:"-"`
}

// DeleteAccount removes the account, revokes its refresh tokens and emits a
// delete event for downstream listeners.
func (s *Service) DeleteAccount(ctx context.Context, realm store.Realm, req DeleteAccountRequest) error {
	if err := checkRealm(realm); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var user *store.UserInfo
	if req.Privileged {
		if req.LocalID == "" {
			return apierr.ErrMissingLocalID
		}
		user = realm.UserByLocalID(req.LocalID)
		if user == nil {
			return apierr.ErrUserNotFound
		}
	} else {
		parsed, err := s.parseIDToken(realm, req.IDToken)
		if err != nil {
			return err
		}
		user = parsed.user
	}

	if _, err := realm.DeleteUser(user.LocalID); err != nil {
		return err
	}
	if err := s.refresh.DeleteForUser(ctx, scopeOf(realm), user.LocalID); err != nil {
		return err
	}
	s.metrics.Inc(metrics.IDUserDeleted)
	s.emitUserEvent(ctx, realm, trigger.TypeDelete, user)
	return nil
}

// FederatedUserID addresses an account by its provider tuple.
type FederatedUserID struct {
	ProviderID string `json:"providerId"`
	RawID      string `json:"rawId"`
}

// LookupRequest fetches accounts. Privileged callers may address several
// identifiers at once; everyone else looks up their own idToken.
type LookupRequest struct {
	IDToken         string            `json:"idToken,omitempty"`
	LocalID         []string          `json:"localId,omitempty"`
	Email           []string          `json:"email,omitempty"`
	PhoneNumber     []string          `json:"phoneNumber,omitempty"`
	FederatedUserID []FederatedUserID `json:"federatedUserId,omitempty"`
	InitialEmail    []string          `json:"initialEmail,omitempty"`

	Privileged bool `json:"-"`
}

// LookupResponse lists the matched accounts. Unknown identifiers are skipped
// and an empty match omits the field entirely.
type LookupResponse struct {
	Users []UserView `json:"users,omitempty"`
}

// Lookup resolves accounts by identifier or by the caller's own token.
func (s *Service) Lookup(ctx context.Context, realm store.Realm, req LookupRequest) (*LookupResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}

	var resp LookupResponse
	if req.Privileged {
		if len(req.InitialEmail) > 0 {
			return nil, apierr.NotImplementedError("((Lookup by initialEmail is not supported.))")
		}
		seen := map[string]bool{}
		add := func(user *store.UserInfo) {
			if user == nil || seen[user.LocalID] {
				return
			}
			seen[user.LocalID] = true
			resp.Users = append(resp.Users, newUserView(user))
		}
		for _, localID := range req.LocalID {
			add(realm.UserByLocalID(localID))
		}
		for _, email := range req.Email {
			add(realm.UserByEmail(canonicalizeEmail(email)))
		}
		for _, phone := range req.PhoneNumber {
			add(realm.UserByPhoneNumber(phone))
		}
		for _, fed := range req.FederatedUserID {
			if fed.ProviderID == "" || fed.RawID == "" {
				continue
			}
			add(realm.UserByProviderRawID(fed.ProviderID, fed.RawID))
		}
		return &resp, nil
	}

	if req.IDToken == "" {
		return nil, apierr.ErrMissingIDToken
	}
	parsed, err := s.parseIDToken(realm, req.IDToken)
	if err != nil {
		return nil, err
	}
	resp.Users = append(resp.Users, newUserView(parsed.user))
	return &resp, nil
}
