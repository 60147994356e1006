package flows

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/identitykit/identitykit/internal/apierr"
	"github.com/identitykit/identitykit/internal/codes"
	"github.com/identitykit/identitykit/internal/metrics"
	"github.com/identitykit/identitykit/internal/store"
)

// SendOobCodeRequest asks for an out-of-band action code.
type SendOobCodeRequest struct {
	RequestType   string `json:"requestType"`
	Email         string `json:"email,omitempty"`
	IDToken       string `json:"idToken,omitempty"`
	ContinueURL   string `json:"continueUrl,omitempty"`
	ReturnOobLink bool   `json:"returnOobLink,omitempty"`

	Privileged bool `json:"-"`
}

// SendOobCodeResponse carries the code and link only when returnOobLink was
// set by a privileged caller.
type SendOobCodeResponse struct {
	Email   string `json:"email"`
	OobCode string `json:"oobCode,omitempty"`
	OobLink string `json:"oobLink,omitempty"`
}

// SendOobCode creates an EMAIL_SIGNIN, PASSWORD_RESET or VERIFY_EMAIL code.
// No email is sent; the action link is written to the log instead.
func (s *Service) SendOobCode(ctx context.Context, realm store.Realm, req SendOobCodeRequest) (*SendOobCodeResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if req.RequestType == "" || req.RequestType == "OOB_REQ_TYPE_UNSPECIFIED" {
		return nil, apierr.ErrMissingReqType
	}
	if req.ReturnOobLink && !req.Privileged {
		return nil, apierr.ErrInsufficientPermission
	}
	if req.ContinueURL != "" && !isAbsoluteURI(req.ContinueURL) {
		return nil, apierr.NewBadRequestError("INVALID_CONTINUE_URI : ((expected an absolute URI with valid scheme and host))")
	}

	var email, mode string
	switch req.RequestType {
	case codes.OobRequestEmailSignIn:
		if !realm.Features().EnableEmailLinkSignin {
			return nil, apierr.ErrOperationNotAllowed
		}
		mode = "signIn"
		if req.Email == "" {
			return nil, apierr.ErrMissingEmail
		}
		email = canonicalizeEmail(req.Email)
	case codes.OobRequestPasswordReset:
		mode = "resetPassword"
		if req.Email == "" {
			return nil, apierr.ErrMissingEmail
		}
		email = canonicalizeEmail(req.Email)
		if realm.UserByEmail(email) == nil {
			return nil, apierr.ErrEmailNotFound
		}
	case codes.OobRequestVerifyEmail:
		mode = "verifyEmail"
		// returnOobLink doubles as the admin-usage signal here, matching
		// production. Admin callers address the user by email; everyone
		// else is resolved from their idToken.
		if req.ReturnOobLink && req.IDToken == "" {
			if req.Email == "" {
				return nil, apierr.ErrMissingEmail
			}
			email = canonicalizeEmail(req.Email)
			if realm.UserByEmail(email) == nil {
				return nil, apierr.ErrUserNotFound
			}
		} else {
			parsed, err := s.parseIDToken(realm, req.IDToken)
			if err != nil {
				return nil, err
			}
			if parsed.user.Email == "" {
				return nil, apierr.ErrMissingEmail
			}
			email = parsed.user.Email
		}
	default:
		return nil, apierr.NotImplementedError(req.RequestType)
	}

	record, err := s.createOobRecord(ctx, realm, email, req.RequestType, mode, req.ContinueURL)
	if err != nil {
		return nil, err
	}

	if req.ReturnOobLink {
		return &SendOobCodeResponse{Email: email, OobCode: record.OobCode, OobLink: record.OobLink}, nil
	}
	s.logOobLink(record)
	return &SendOobCodeResponse{Email: email}, nil
}

func (s *Service) createOobRecord(ctx context.Context, realm store.Realm, email, requestType, mode, continueURL string) (*codes.OobRecord, error) {
	record, err := s.oob.Create(ctx, scopeOf(realm), email, requestType, func(oobCode string) string {
		link, err := url.Parse(s.linkBase)
		if err != nil {
			return ""
		}
		link.Path = "/emulator/action"
		q := link.Query()
		q.Set("mode", mode)
		q.Set("lang", "en")
		q.Set("oobCode", oobCode)
		q.Set("apiKey", "fake-api-key")
		if continueURL != "" {
			q.Set("continueUrl", continueURL)
		}
		if realm.TenantID() != "" {
			q.Set("tenantId", realm.TenantID())
		}
		link.RawQuery = q.Encode()
		return link.String()
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Inc(metrics.IDOobCodeCreated)
	return record, nil
}

func (s *Service) logOobLink(record *codes.OobRecord) {
	var msg string
	switch record.RequestType {
	case codes.OobRequestEmailSignIn:
		msg = "to sign in, follow the link"
	case codes.OobRequestPasswordReset:
		msg = "to reset the password, follow the link"
	case codes.OobRequestVerifyEmail:
		msg = "to verify the email address, follow the link"
	case codes.OobRequestRecoverEmail:
		msg = "to reset the email address, follow the link"
	default:
		return
	}
	s.logger.Info(msg, zap.String("email", record.Email), zap.String("link", record.OobLink))
}

// ResetPasswordRequest inspects an oobCode, and applies a new password when
// one is supplied.
type ResetPasswordRequest struct {
	OobCode     string `json:"oobCode"`
	NewPassword string `json:"newPassword,omitempty"`
}

// ResetPasswordResponse reveals the request type and, except for sign-in
// codes, the email the code was minted for.
type ResetPasswordResponse struct {
	RequestType string `json:"requestType"`
	Email       string `json:"email,omitempty"`
}

// ResetPassword consumes a PASSWORD_RESET code when newPassword is given;
// with no newPassword the code is only inspected and stays valid.
func (s *Service) ResetPassword(ctx context.Context, realm store.Realm, req ResetPasswordRequest) (*ResetPasswordResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if !realm.Features().AllowPasswordSignup {
		return nil, apierr.ErrPasswordLoginDisabled
	}
	if req.OobCode == "" {
		return nil, apierr.ErrMissingOobCode
	}

	oob, err := s.oob.Get(ctx, scopeOf(realm), req.OobCode)
	if err == codes.ErrNotFound {
		s.metrics.Inc(metrics.IDOobCodeInvalid)
		return nil, apierr.ErrInvalidOobCode
	}
	if err != nil {
		return nil, err
	}

	if req.NewPassword != "" {
		if oob.RequestType != codes.OobRequestPasswordReset {
			return nil, apierr.ErrInvalidOobCode
		}
		if len(req.NewPassword) < PasswordMinLength {
			return nil, apierr.ErrWeakPassword
		}
		if _, err := s.oob.Consume(ctx, scopeOf(realm), req.OobCode); err != nil {
			if err == codes.ErrNotFound {
				return nil, apierr.ErrInvalidOobCode
			}
			return nil, err
		}
		s.metrics.Inc(metrics.IDOobCodeConsumed)

		s.mu.Lock()
		defer s.mu.Unlock()
		user := realm.UserByEmail(oob.Email)
		if user == nil {
			return nil, apierr.ErrInvalidOobCode
		}
		salt, err := s.newSalt()
		if err != nil {
			return nil, err
		}
		// Applying a new password proves email ownership; all other sign-in
		// methods are dropped.
		var deleteProviders []string
		for _, info := range user.ProviderUserInfo {
			deleteProviders = append(deleteProviders, info.ProviderID)
		}
		now := time.Now()
		if _, err := realm.UpdateUser(user.LocalID, store.UserUpdate{
			EmailVerified:     store.Set(true),
			PasswordHash:      store.Set(hashPassword(req.NewPassword, salt)),
			Salt:              store.Set(salt),
			PasswordUpdatedAt: store.Set(now.UnixMilli()),
			ValidSince:        store.Set(now.Unix()),
			DeleteProviders:   deleteProviders,
		}); err != nil {
			return nil, err
		}
		s.metrics.Inc(metrics.IDUserUpdated)
	}

	resp := &ResetPasswordResponse{RequestType: oob.RequestType}
	// Sign-in codes never reveal the email; the client must supply it.
	if oob.RequestType != codes.OobRequestEmailSignIn {
		resp.Email = oob.Email
	}
	return resp, nil
}
