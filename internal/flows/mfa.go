package flows

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/identitykit/identitykit/idtoken"
	"github.com/identitykit/identitykit/internal/apierr"
	"github.com/identitykit/identitykit/internal/blocking"
	"github.com/identitykit/identitykit/internal/metrics"
	"github.com/identitykit/identitykit/internal/store"
)

// PhoneEnrollmentInfo carries the phone number to enroll. Anti-abuse fields
// from the production API are accepted and ignored.
type PhoneEnrollmentInfo struct {
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// PhoneVerificationInfo proves possession of a phone number.
type PhoneVerificationInfo struct {
	SessionInfo              string `json:"sessionInfo,omitempty"`
	Code                     string `json:"code,omitempty"`
	AndroidVerificationProof string `json:"androidVerificationProof,omitempty"`
}

// PhoneSessionInfo wraps the session handle for an SMS challenge.
type PhoneSessionInfo struct {
	SessionInfo string `json:"sessionInfo"`
}

// MfaEnrollmentStartRequest begins enrolling an SMS second factor.
type MfaEnrollmentStartRequest struct {
	IDToken             string               `json:"idToken,omitempty"`
	PhoneEnrollmentInfo *PhoneEnrollmentInfo `json:"phoneEnrollmentInfo,omitempty"`
}

// MfaEnrollmentStartResponse carries the SMS challenge handle.
type MfaEnrollmentStartResponse struct {
	PhoneSessionInfo PhoneSessionInfo `json:"phoneSessionInfo"`
}

func (s *Service) mfaSmsGate(realm store.Realm) error {
	if !mfaSmsEnabled(realm) {
		return apierr.NewBadRequestError("OPERATION_NOT_ALLOWED : SMS based MFA not enabled.")
	}
	return nil
}

func (s *Service) mfaEligibleFirstFactor(realm store.Realm, raw string) (*parsedIDToken, error) {
	if raw == "" {
		return nil, apierr.ErrMissingIDToken
	}
	parsed, err := s.parseIDToken(realm, raw)
	if err != nil {
		return nil, err
	}
	if mfaIneligibleProviders[parsed.signInProvider] {
		return nil, apierr.NewBadRequestError("UNSUPPORTED_FIRST_FACTOR : MFA is not available for the given first factor.")
	}
	return parsed, nil
}

// MfaEnrollmentStart issues an SMS challenge for enrolling a second factor.
// The code is written to the log; no SMS is sent.
func (s *Service) MfaEnrollmentStart(ctx context.Context, realm store.Realm, req MfaEnrollmentStartRequest) (*MfaEnrollmentStartResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if err := s.mfaSmsGate(realm); err != nil {
		return nil, err
	}
	parsed, err := s.mfaEligibleFirstFactor(realm, req.IDToken)
	if err != nil {
		return nil, err
	}
	if !parsed.user.EmailVerified {
		return nil, apierr.ErrUnverifiedEmail
	}
	if req.PhoneEnrollmentInfo == nil {
		return nil, apierr.NewBadRequestError("INVALID_ARGUMENT : ((Missing phoneEnrollmentInfo.))")
	}
	phoneNumber := req.PhoneEnrollmentInfo.PhoneNumber
	// Production reports INVALID_PHONE_NUMBER for a missing number too.
	if phoneNumber == "" || !store.IsValidPhoneNumber(phoneNumber) {
		return nil, apierr.ErrInvalidPhoneNumber
	}
	for _, enrollment := range parsed.user.MfaInfo {
		if enrollment.UnobfuscatedPhoneInfo == phoneNumber {
			return nil, apierr.NewBadRequestError("SECOND_FACTOR_EXISTS : Phone number already enrolled as second factor for this account.")
		}
	}

	record, err := s.phone.Create(ctx, scopeOf(realm), phoneNumber)
	if err != nil {
		return nil, err
	}
	s.metrics.Inc(metrics.IDPhoneCodeCreated)
	s.logger.Info("second factor enrollment code created",
		zap.String("phoneNumber", record.PhoneNumber),
		zap.String("code", record.Code))

	return &MfaEnrollmentStartResponse{PhoneSessionInfo: PhoneSessionInfo{SessionInfo: record.SessionInfo}}, nil
}

// MfaEnrollmentFinalizeRequest completes an SMS second factor enrollment.
type MfaEnrollmentFinalizeRequest struct {
	IDToken               string                 `json:"idToken,omitempty"`
	DisplayName           string                 `json:"displayName,omitempty"`
	PhoneVerificationInfo *PhoneVerificationInfo `json:"phoneVerificationInfo,omitempty"`
}

// MfaTokensResponse carries the reissued credentials after an MFA mutation.
type MfaTokensResponse struct {
	IDToken      string `json:"idToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// MfaEnrollmentFinalize verifies the SMS code and records the enrollment.
// Fresh tokens carrying the second factor claims are returned.
func (s *Service) MfaEnrollmentFinalize(ctx context.Context, realm store.Realm, req MfaEnrollmentFinalizeRequest) (*MfaTokensResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if err := s.mfaSmsGate(realm); err != nil {
		return nil, err
	}
	parsed, err := s.mfaEligibleFirstFactor(realm, req.IDToken)
	if err != nil {
		return nil, err
	}
	if req.PhoneVerificationInfo == nil {
		return nil, apierr.NewBadRequestError("INVALID_ARGUMENT : ((Missing phoneVerificationInfo.))")
	}
	if req.PhoneVerificationInfo.AndroidVerificationProof != "" {
		return nil, apierr.NotImplementedError("androidVerificationProof is unsupported!")
	}
	if req.PhoneVerificationInfo.Code == "" {
		return nil, apierr.ErrMissingCode
	}
	if req.PhoneVerificationInfo.SessionInfo == "" {
		return nil, apierr.ErrMissingSessionInfo
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	phoneNumber, err := s.verifyPhoneNumber(ctx, realm, req.PhoneVerificationInfo.SessionInfo, req.PhoneVerificationInfo.Code)
	if err != nil {
		return nil, err
	}
	user := parsed.user
	existingIDs := map[string]bool{}
	for _, enrollment := range user.MfaInfo {
		if enrollment.UnobfuscatedPhoneInfo == phoneNumber {
			return nil, apierr.NewBadRequestError("SECOND_FACTOR_EXISTS : Phone number already enrolled as second factor for this account.")
		}
		existingIDs[enrollment.MfaEnrollmentID] = true
	}

	enrollmentID, err := s.newEnrollmentID(existingIDs)
	if err != nil {
		return nil, err
	}
	enrollment := store.MfaEnrollment{
		MfaEnrollmentID:       enrollmentID,
		DisplayName:           req.DisplayName,
		PhoneInfo:             phoneNumber,
		UnobfuscatedPhoneInfo: phoneNumber,
		EnrolledAt:            time.Now(),
	}
	user, err = realm.UpdateUser(user.LocalID, store.UserUpdate{
		MfaInfo: store.Set(append(append([]store.MfaEnrollment{}, user.MfaInfo...), enrollment)),
	})
	if err != nil {
		return nil, err
	}

	tokens, err := s.issueTokens(ctx, realm, user, parsed.signInProvider, issueOptions{
		secondFactor: &idtoken.SecondFactor{Identifier: enrollmentID, Provider: store.ProviderPhone},
	})
	if err != nil {
		return nil, err
	}
	return &MfaTokensResponse{IDToken: tokens.IDToken, RefreshToken: tokens.RefreshToken}, nil
}

// MfaWithdrawRequest removes an enrolled second factor.
type MfaWithdrawRequest struct {
	IDToken         string `json:"idToken,omitempty"`
	MfaEnrollmentID string `json:"mfaEnrollmentId,omitempty"`
}

// MfaWithdraw removes the named enrollment and reissues first-factor tokens.
func (s *Service) MfaWithdraw(ctx context.Context, realm store.Realm, req MfaWithdrawRequest) (*MfaTokensResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if req.IDToken == "" {
		return nil, apierr.ErrMissingIDToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parsed, err := s.parseIDToken(realm, req.IDToken)
	if err != nil {
		return nil, err
	}
	user := parsed.user
	if len(user.MfaInfo) == 0 {
		return nil, apierr.ErrMfaEnrollmentNotFound
	}
	remaining := make([]store.MfaEnrollment, 0, len(user.MfaInfo))
	for _, enrollment := range user.MfaInfo {
		if enrollment.MfaEnrollmentID != req.MfaEnrollmentID {
			remaining = append(remaining, enrollment)
		}
	}
	if len(remaining) == len(user.MfaInfo) {
		return nil, apierr.ErrMfaEnrollmentNotFound
	}

	update := store.UserUpdate{}
	if len(remaining) > 0 {
		update.MfaInfo = store.Set(remaining)
	} else {
		update.MfaInfo = store.Clear[[]store.MfaEnrollment]()
	}
	user, err = realm.UpdateUser(user.LocalID, update)
	if err != nil {
		return nil, err
	}

	tokens, err := s.issueTokens(ctx, realm, user, parsed.signInProvider, issueOptions{})
	if err != nil {
		return nil, err
	}
	return &MfaTokensResponse{IDToken: tokens.IDToken, RefreshToken: tokens.RefreshToken}, nil
}

func (s *Service) parsePendingCredential(realm store.Realm, credential string) (*store.UserInfo, string, error) {
	pc, err := idtoken.DecodePendingCredential(credential, realm.ProjectID(), realm.TenantID())
	if err != nil {
		return nil, "", err
	}
	user := realm.UserByLocalID(pc.LocalID)
	if user == nil {
		return nil, "", apierr.ErrUserNotFound
	}
	return user, pc.SignInProvider, nil
}

// MfaSignInStartRequest begins the second factor step of a sign-in.
type MfaSignInStartRequest struct {
	MfaPendingCredential string `json:"mfaPendingCredential,omitempty"`
	MfaEnrollmentID      string `json:"mfaEnrollmentId,omitempty"`
}

// MfaSignInStartResponse carries the SMS challenge handle.
type MfaSignInStartResponse struct {
	PhoneResponseInfo PhoneSessionInfo `json:"phoneResponseInfo"`
}

// MfaSignInStart issues an SMS challenge for the chosen enrollment.
func (s *Service) MfaSignInStart(ctx context.Context, realm store.Realm, req MfaSignInStartRequest) (*MfaSignInStartResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if err := s.mfaSmsGate(realm); err != nil {
		return nil, err
	}
	if req.MfaPendingCredential == "" {
		return nil, apierr.ErrMissingMfaPendingCredential
	}
	if req.MfaEnrollmentID == "" {
		return nil, apierr.ErrMissingMfaEnrollmentID
	}
	user, _, err := s.parsePendingCredential(realm, req.MfaPendingCredential)
	if err != nil {
		return nil, err
	}
	enrollment := user.Enrollment(req.MfaEnrollmentID)
	if enrollment == nil {
		return nil, apierr.ErrMfaEnrollmentNotFound
	}
	if enrollment.UnobfuscatedPhoneInfo == "" {
		return nil, apierr.NewBadRequestError("INVALID_ARGUMENT : MFA provider not supported!")
	}

	record, err := s.phone.Create(ctx, scopeOf(realm), enrollment.UnobfuscatedPhoneInfo)
	if err != nil {
		return nil, err
	}
	s.metrics.Inc(metrics.IDPhoneCodeCreated)
	s.logger.Info("second factor sign-in code created",
		zap.String("phoneNumber", record.PhoneNumber),
		zap.String("code", record.Code))

	return &MfaSignInStartResponse{PhoneResponseInfo: PhoneSessionInfo{SessionInfo: record.SessionInfo}}, nil
}

// MfaSignInFinalizeRequest completes the second factor step of a sign-in.
type MfaSignInFinalizeRequest struct {
	MfaPendingCredential  string                 `json:"mfaPendingCredential,omitempty"`
	PhoneVerificationInfo *PhoneVerificationInfo `json:"phoneVerificationInfo,omitempty"`
}

// MfaSignInFinalize verifies the SMS code and completes the pending sign-in.
func (s *Service) MfaSignInFinalize(ctx context.Context, realm store.Realm, req MfaSignInFinalizeRequest) (*MfaTokensResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if err := s.mfaSmsGate(realm); err != nil {
		return nil, err
	}
	// Production reports a different code here than in the start call.
	if req.MfaPendingCredential == "" {
		return nil, apierr.NewBadRequestError("MISSING_CREDENTIAL : Please set MFA Pending Credential.")
	}
	if req.PhoneVerificationInfo == nil {
		return nil, apierr.NewBadRequestError("INVALID_ARGUMENT : MFA provider not supported!")
	}
	if req.PhoneVerificationInfo.AndroidVerificationProof != "" {
		return nil, apierr.NotImplementedError("androidVerificationProof is unsupported!")
	}
	if req.PhoneVerificationInfo.Code == "" {
		return nil, apierr.ErrMissingCode
	}
	if req.PhoneVerificationInfo.SessionInfo == "" {
		return nil, apierr.ErrMissingSessionInfo
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	phoneNumber, err := s.verifyPhoneNumber(ctx, realm, req.PhoneVerificationInfo.SessionInfo, req.PhoneVerificationInfo.Code)
	if err != nil {
		return nil, err
	}
	user, signInProvider, err := s.parsePendingCredential(realm, req.MfaPendingCredential)
	if err != nil {
		return nil, err
	}
	var enrollment *store.MfaEnrollment
	for i := range user.MfaInfo {
		if user.MfaInfo[i].UnobfuscatedPhoneInfo == phoneNumber {
			enrollment = &user.MfaInfo[i]
		}
	}

	result, err := s.runBlocking(ctx, realm, store.EventBeforeSignIn, user, blocking.Options{
		SignInMethod:       signInProvider,
		SignInSecondFactor: "phone",
	}, blocking.OAuthTokens{})
	if err != nil {
		return nil, err
	}
	updates := result.Updates
	updates.LastLoginAt = store.Set(time.Now().UnixMilli())
	user, err = realm.UpdateUser(user.LocalID, updates)
	if err != nil {
		return nil, err
	}

	if enrollment == nil || enrollment.MfaEnrollmentID == "" {
		return nil, apierr.ErrMfaEnrollmentNotFound
	}
	// A hook may have disabled the account; the write above still sticks.
	if user.Disabled {
		return nil, apierr.ErrUserDisabled
	}

	tokens, err := s.issueTokens(ctx, realm, user, signInProvider, issueOptions{
		extraClaims:  result.ExtraClaims,
		secondFactor: &idtoken.SecondFactor{Identifier: enrollment.MfaEnrollmentID, Provider: store.ProviderPhone},
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Inc(metrics.IDMfaSignInSuccess)
	return &MfaTokensResponse{IDToken: tokens.IDToken, RefreshToken: tokens.RefreshToken}, nil
}
