package flows

import (
	"context"

	"go.uber.org/zap"

	"github.com/identitykit/identitykit/internal/apierr"
	"github.com/identitykit/identitykit/internal/blocking"
	"github.com/identitykit/identitykit/internal/codes"
	"github.com/identitykit/identitykit/internal/metrics"
	"github.com/identitykit/identitykit/internal/store"
	"github.com/identitykit/identitykit/internal/trigger"
)

// SendVerificationCodeRequest starts a phone sign-in by issuing an SMS code.
type SendVerificationCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// SendVerificationCodeResponse carries the opaque session handle the client
// must echo together with the code.
type SendVerificationCodeResponse struct {
	SessionInfo string `json:"sessionInfo"`
}

// SendVerificationCode creates a verification code. No SMS is sent; the code
// is written to the log instead.
func (s *Service) SendVerificationCode(ctx context.Context, realm store.Realm, req SendVerificationCodeRequest) (*SendVerificationCodeResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if realm.TenantID() != "" {
		return nil, apierr.ErrUnsupportedTenantOperation
	}
	// Production reports INVALID_PHONE_NUMBER for a missing number too.
	if req.PhoneNumber == "" || !store.IsValidPhoneNumber(req.PhoneNumber) {
		return nil, apierr.ErrInvalidPhoneNumber
	}

	if user := realm.UserByPhoneNumber(req.PhoneNumber); user != nil && len(user.MfaInfo) > 0 {
		return nil, apierr.NewBadRequestError("UNSUPPORTED_FIRST_FACTOR : A phone number cannot be set as a first factor on an SMS based MFA user.")
	}

	record, err := s.phone.Create(ctx, scopeOf(realm), req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	s.metrics.Inc(metrics.IDPhoneCodeCreated)
	s.logger.Info("phone verification code created",
		zap.String("phoneNumber", record.PhoneNumber),
		zap.String("code", record.Code))

	return &SendVerificationCodeResponse{SessionInfo: record.SessionInfo}, nil
}

// SignInWithPhoneNumberRequest completes phone sign-in with either a
// sessionInfo/code pair or a previously returned temporary proof.
type SignInWithPhoneNumberRequest struct {
	SessionInfo    string `json:"sessionInfo,omitempty"`
	Code           string `json:"code,omitempty"`
	PhoneNumber    string `json:"phoneNumber,omitempty"`
	TemporaryProof string `json:"temporaryProof,omitempty"`
	IDToken        string `json:"idToken,omitempty"`
}

// SignInWithPhoneNumberResponse is the phone sign-in result. When the phone
// number belongs to another account, a temporary proof is returned instead of
// tokens.
type SignInWithPhoneNumberResponse struct {
	IsNewUser   bool   `json:"isNewUser,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	LocalID     string `json:"localId,omitempty"`

	TemporaryProof          string `json:"temporaryProof,omitempty"`
	TemporaryProofExpiresIn string `json:"temporaryProofExpiresIn,omitempty"`

	Tokens
}

// SignInWithPhoneNumber signs in or creates the account owning the verified
// phone number.
func (s *Service) SignInWithPhoneNumber(ctx context.Context, realm store.Realm, req SignInWithPhoneNumberRequest) (*SignInWithPhoneNumberResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if realm.TenantID() != "" {
		return nil, apierr.ErrUnsupportedTenantOperation
	}

	var phoneNumber string
	usedProof := false
	if req.TemporaryProof != "" {
		if req.PhoneNumber == "" {
			return nil, apierr.ErrMissingPhoneNumber
		}
		proof, err := s.proofs.Validate(ctx, scopeOf(realm), req.TemporaryProof, req.PhoneNumber)
		if err == codes.ErrNotFound {
			return nil, apierr.ErrInvalidTemporaryProof
		}
		if err != nil {
			return nil, err
		}
		phoneNumber = proof.PhoneNumber
		usedProof = true
	} else {
		if req.SessionInfo == "" {
			return nil, apierr.ErrMissingSessionInfo
		}
		if req.Code == "" {
			return nil, apierr.ErrMissingCode
		}
		var err error
		phoneNumber, err = s.verifyPhoneNumber(ctx, realm, req.SessionInfo, req.Code)
		if err != nil {
			return nil, err
		}
	}

	var userFromIDToken *store.UserInfo
	if req.IDToken != "" {
		parsed, err := s.parseIDToken(realm, req.IDToken)
		if err != nil {
			return nil, err
		}
		userFromIDToken = parsed.user
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userFromPhone := realm.UserByPhoneNumber(phoneNumber)
	if userFromPhone != nil && userFromIDToken != nil && userFromPhone.LocalID != userFromIDToken.LocalID {
		if usedProof {
			return nil, apierr.ErrPhoneNumberExists
		}
		// The code has been consumed but the number belongs to someone else.
		// Hand back a reusable proof so the client can retry deliberately.
		proof, err := s.proofs.Create(ctx, scopeOf(realm), phoneNumber)
		if err != nil {
			return nil, err
		}
		return &SignInWithPhoneNumberResponse{
			TemporaryProof:          proof.TemporaryProof,
			TemporaryProofExpiresIn: proof.TemporaryProofExpiresIn,
		}, nil
	}

	user := userFromIDToken
	if user == nil {
		user = userFromPhone
	}
	isNewUser := user == nil

	updates := store.UserUpdate{
		PhoneNumber: store.Set(phoneNumber),
		LastLoginAt: store.Set(nowMillis()),
	}

	var extraClaims map[string]any
	if user == nil {
		updates.CreatedAt = store.Set(nowMillis())
		localID, err := realm.GenerateLocalID()
		if err != nil {
			return nil, err
		}
		result, err := s.runBlocking(ctx, realm, store.EventBeforeCreate, updates.Preview(localID), blocking.Options{SignInMethod: "phone"}, blocking.OAuthTokens{})
		if err != nil {
			return nil, err
		}
		mergeBlockingUpdates(&updates, result.Updates)
		user, err = realm.CreateUser(localID, updates)
		if err != nil {
			return nil, err
		}
		s.emitUserEvent(ctx, realm, trigger.TypeCreate, user)

		if !user.Disabled {
			result, err := s.runBlocking(ctx, realm, store.EventBeforeSignIn, user, blocking.Options{SignInMethod: "phone"}, blocking.OAuthTokens{})
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
		if len(user.MfaInfo) > 0 {
			return nil, apierr.NewBadRequestError("UNSUPPORTED_FIRST_FACTOR : A phone number cannot be set as a first factor on an SMS based MFA user.")
		}
		preview := user.Clone()
		preview.PhoneNumber = phoneNumber
		result, err := s.runBlocking(ctx, realm, store.EventBeforeSignIn, preview, blocking.Options{SignInMethod: "phone"}, blocking.OAuthTokens{})
		if err != nil {
			return nil, err
		}
		mergeBlockingUpdates(&updates, result.Updates)
		extraClaims = result.ExtraClaims
		user, err = realm.UpdateUser(user.LocalID, updates)
		if err != nil {
			return nil, err
		}
	}

	if user.Disabled {
		return nil, apierr.ErrUserDisabled
	}

	tokens, err := s.issueTokens(ctx, realm, user, store.ProviderPhone, issueOptions{extraClaims: extraClaims})
	if err != nil {
		return nil, err
	}
	s.metrics.Inc(metrics.IDSignInSuccess)
	return &SignInWithPhoneNumberResponse{
		IsNewUser:   isNewUser,
		PhoneNumber: phoneNumber,
		LocalID:     user.LocalID,
		Tokens:      tokens,
	}, nil
}
