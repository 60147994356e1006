package flows

import (
	"context"
	"time"

	"github.com/identitykit/identitykit/internal/apierr"
	"github.com/identitykit/identitykit/internal/blocking"
	"github.com/identitykit/identitykit/internal/metrics"
	"github.com/identitykit/identitykit/internal/store"
	"github.com/identitykit/identitykit/internal/trigger"
)

// SignUpRequest covers anonymous, password and privileged account creation,
// plus linking email/password onto an existing account via idToken.
type SignUpRequest struct {
	IDToken       string               `json:"idToken,omitempty"`
	LocalID       string               `json:"localId,omitempty"`
	Email         string               `json:"email,omitempty"`
	Password      string               `json:"password,omitempty"`
	PhoneNumber   string               `json:"phoneNumber,omitempty"`
	DisplayName   string               `json:"displayName,omitempty"`
	PhotoURL      string               `json:"photoUrl,omitempty"`
	EmailVerified bool                 `json:"emailVerified,omitempty"`
	Disabled      bool                 `json:"disabled,omitempty"`
	MfaInfo       []MfaEnrollmentInput `json:"mfaInfo,omitempty"`

	// Privileged marks requests authenticated with admin credentials.
	Privileged bool `json:"-"`
}

// SignUpResponse is the account creation result. Tokens are only present for
// non-privileged password and anonymous sign-ups.
type SignUpResponse struct {
	LocalID     string `json:"localId"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	Tokens
}

// SignUp creates or links an account.
func (s *Service) SignUp(ctx context.Context, realm store.Realm, req SignUpRequest) (*SignUpResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var provider string
	now := time.Now()
	updates := store.UserUpdate{
		LastLoginAt: store.Set(now.UnixMilli()),
	}

	if req.Privileged {
		if req.IDToken != "" && req.LocalID != "" {
			return nil, apierr.NewBadRequestError("UNEXPECTED_PARAMETER : User ID")
		}
		if req.LocalID != "" && realm.UserByLocalID(req.LocalID) != nil {
			return nil, apierr.ErrDuplicateLocalID
		}
		updates.DisplayName = store.Set(req.DisplayName)
		updates.PhotoURL = store.Set(req.PhotoURL)
		updates.EmailVerified = store.Set(req.EmailVerified)
		if req.PhoneNumber != "" {
			if !store.IsValidPhoneNumber(req.PhoneNumber) {
				return nil, apierr.ErrInvalidPhoneNumber
			}
			if realm.UserByPhoneNumber(req.PhoneNumber) != nil {
				return nil, apierr.ErrPhoneNumberExists
			}
			updates.PhoneNumber = store.Set(req.PhoneNumber)
		}
		if req.Disabled {
			updates.Disabled = store.Set(true)
		}
	} else {
		if req.LocalID != "" {
			return nil, apierr.NewBadRequestError("UNEXPECTED_PARAMETER : User ID")
		}
		if req.IDToken != "" || req.Password != "" || req.Email != "" {
			updates.DisplayName = store.Set(req.DisplayName)
			updates.EmailVerified = store.Set(false)
			if req.Email == "" {
				return nil, apierr.ErrMissingEmail
			}
			if req.Password == "" {
				return nil, apierr.ErrMissingPassword
			}
			provider = store.ProviderPassword
			if !realm.Features().AllowPasswordSignup {
				return nil, apierr.ErrOperationNotAllowed
			}
		} else {
			provider = store.ProviderAnonymous
			if !realm.Features().EnableAnonymousUser {
				return nil, apierr.ErrAdminOnlyOperation
			}
		}
	}

	if req.Email != "" {
		if !isValidEmail(req.Email) {
			return nil, apierr.ErrInvalidEmail
		}
		email := canonicalizeEmail(req.Email)
		if realm.UserByEmail(email) != nil {
			return nil, apierr.ErrEmailExists
		}
		updates.Email = store.Set(email)
	}
	if req.Password != "" {
		if len(req.Password) < PasswordMinLength {
			return nil, apierr.ErrWeakPassword
		}
		salt, err := s.newSalt()
		if err != nil {
			return nil, err
		}
		updates.Salt = store.Set(salt)
		updates.PasswordHash = store.Set(hashPassword(req.Password, salt))
		updates.PasswordUpdatedAt = store.Set(now.UnixMilli())
		updates.ValidSince = store.Set(now.Unix())
	}
	if len(req.MfaInfo) > 0 {
		enrollments, err := s.mfaEnrollmentsFromRequest(realm, req.MfaInfo, true)
		if err != nil {
			return nil, err
		}
		updates.MfaInfo = store.Set(enrollments)
	}

	var linked *store.UserInfo
	if req.IDToken != "" {
		parsed, err := s.parseIDToken(realm, req.IDToken)
		if err != nil {
			return nil, err
		}
		linked = parsed.user
	}

	var user *store.UserInfo
	var extraClaims map[string]any
	if linked == nil {
		updates.CreatedAt = store.Set(now.UnixMilli())
		localID := req.LocalID
		if localID == "" {
			var err error
			localID, err = realm.GenerateLocalID()
			if err != nil {
				return nil, err
			}
		}

		runHooks := req.Email != "" && !req.Privileged
		if runHooks {
			result, err := s.runBlocking(ctx, realm, store.EventBeforeCreate, updates.Preview(localID), blocking.Options{SignInMethod: "password"}, blocking.OAuthTokens{})
			if err != nil {
				s.metrics.Inc(metrics.IDSignUpFailure)
				return nil, err
			}
			mergeBlockingUpdates(&updates, result.Updates)
		}

		var err error
		user, err = realm.CreateUser(localID, updates)
		if err != nil {
			s.metrics.Inc(metrics.IDSignUpFailure)
			return nil, err
		}
		s.emitUserEvent(ctx, realm, trigger.TypeCreate, user)

		if runHooks {
			if !user.Disabled {
				result, err := s.runBlocking(ctx, realm, store.EventBeforeSignIn, user, blocking.Options{SignInMethod: "password"}, blocking.OAuthTokens{})
				if err != nil {
					return nil, err
				}
				extraClaims = result.ExtraClaims
				user, err = realm.UpdateUser(user.LocalID, result.Updates)
				if err != nil {
					return nil, err
				}
			}
			// A hook may disable the account; the write above still sticks.
			if user.Disabled {
				return nil, apierr.ErrUserDisabled
			}
		}
	} else {
		var err error
		user, err = realm.UpdateUser(linked.LocalID, updates)
		if err != nil {
			return nil, err
		}
	}

	s.metrics.Inc(metrics.IDSignUpSuccess)
	resp := &SignUpResponse{
		LocalID:     user.LocalID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
	}
	if provider != "" {
		tokens, err := s.issueTokens(ctx, realm, user, provider, issueOptions{extraClaims: extraClaims})
		if err != nil {
			return nil, err
		}
		resp.Tokens = tokens
	}
	return resp, nil
}
