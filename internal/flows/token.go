package flows

import (
	"context"
	"strconv"

	"github.com/identitykit/identitykit/idtoken"
	"github.com/identitykit/identitykit/internal/apierr"
	"github.com/identitykit/identitykit/internal/codes"
	"github.com/identitykit/identitykit/internal/metrics"
	"github.com/identitykit/identitykit/internal/store"
)

// GrantTokenRequest exchanges a refresh token for a fresh ID token.
type GrantTokenRequest struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
}

// GrantTokenResponse follows the securetoken wire shape. The access token is
// the ID token; there is no separate access credential.
type GrantTokenResponse struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	ExpiresIn    string `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	UserID       string `json:"user_id"`
	ProjectID    string `json:"project_id"`
}

// GrantToken redeems a refresh token, reissuing the claims and second factor
// it was created with. Each grant also rotates the refresh token.
func (s *Service) GrantToken(ctx context.Context, realm store.Realm, req GrantTokenRequest) (*GrantTokenResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if req.GrantType == "" {
		return nil, apierr.ErrMissingGrantType
	}
	if req.GrantType != "refresh_token" {
		return nil, apierr.ErrInvalidGrantType
	}
	if req.RefreshToken == "" {
		return nil, apierr.ErrMissingRefreshToken
	}

	record, err := s.refresh.Get(ctx, scopeOf(realm), req.RefreshToken)
	if err == codes.ErrNotFound {
		s.metrics.Inc(metrics.IDTokenGrantFailure)
		return nil, apierr.ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, err
	}
	user := realm.UserByLocalID(record.LocalID)
	if user == nil {
		s.metrics.Inc(metrics.IDTokenGrantFailure)
		return nil, apierr.ErrInvalidRefreshToken
	}
	if user.Disabled {
		s.metrics.Inc(metrics.IDTokenGrantFailure)
		return nil, apierr.ErrUserDisabled
	}

	var secondFactor *idtoken.SecondFactor
	if record.SecondFactor != nil {
		secondFactor = &idtoken.SecondFactor{
			Identifier: record.SecondFactor.Identifier,
			Provider:   record.SecondFactor.Provider,
		}
	}
	tokens, err := s.issueTokens(ctx, realm, user, record.Provider, issueOptions{
		extraClaims:  record.ExtraClaims,
		secondFactor: secondFactor,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Inc(metrics.IDTokenGrantSuccess)
	return &GrantTokenResponse{
		IDToken:      tokens.IDToken,
		AccessToken:  tokens.IDToken,
		ExpiresIn:    tokens.ExpiresIn,
		RefreshToken: tokens.RefreshToken,
		TokenType:    "Bearer",
		UserID:       user.LocalID,
		// The numeric project number, not the alphanumeric project id,
		// matching production behavior.
		ProjectID: ProjectNumber,
	}, nil
}

// CreateSessionCookieRequest re-signs an ID token as a session cookie.
type CreateSessionCookieRequest struct {
	IDToken       string `json:"idToken"`
	ValidDuration string `json:"validDuration,omitempty"`
}

// CreateSessionCookieResponse carries the minted cookie JWT.
type CreateSessionCookieResponse struct {
	SessionCookie string `json:"sessionCookie"`
}

// CreateSessionCookie mints a session cookie valid between five minutes and
// fourteen days, defaulting to the maximum.
func (s *Service) CreateSessionCookie(ctx context.Context, realm store.Realm, req CreateSessionCookieRequest) (*CreateSessionCookieResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if req.IDToken == "" {
		return nil, apierr.ErrMissingIDToken
	}
	validDuration, err := strconv.ParseInt(req.ValidDuration, 10, 64)
	if err != nil || validDuration == 0 {
		validDuration = idtoken.SessionCookieMaxValidDuration
	}
	if validDuration < idtoken.SessionCookieMinValidDuration || validDuration > idtoken.SessionCookieMaxValidDuration {
		return nil, apierr.ErrInvalidDuration
	}
	parsed, err := s.parseIDToken(realm, req.IDToken)
	if err != nil {
		return nil, err
	}
	cookie, err := idtoken.MintSessionCookie(parsed.decoded, validDuration)
	if err != nil {
		return nil, err
	}
	return &CreateSessionCookieResponse{SessionCookie: cookie}, nil
}
