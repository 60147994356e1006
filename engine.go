package identitykit

import (
	"context"
	"net/url"
	"sync"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/identitykit/identitykit/internal/apierr"
	"github.com/identitykit/identitykit/internal/flows"
	"github.com/identitykit/identitykit/internal/metrics"
	"github.com/identitykit/identitykit/internal/store"
	"github.com/identitykit/identitykit/internal/trigger"
)

// Engine is the emulator core. One engine serves any number of projects,
// each with its own isolated user population and configuration. All methods
// are safe for concurrent use.
type Engine struct {
	config   Config
	registry *store.Registry
	service  *flows.Service
	events   *trigger.Dispatcher
	metrics  *metrics.Metrics
	logger   *zap.Logger

	redis     redis.UniversalClient
	ownClient bool
	mini      *miniredis.Miniredis
	closeOnce sync.Once
	closeErr  error
}

// Project returns the handle for projectID, creating empty state on first
// use.
func (e *Engine) Project(projectID string) *Project {
	return &Project{engine: e, state: e.registry.Project(projectID)}
}

// RemoveProject drops all in-memory state for projectID. Ephemeral codes
// already minted for it are left to expire in redis.
func (e *Engine) RemoveProject(projectID string) {
	e.registry.RemoveProject(projectID)
}

// MetricsSnapshot returns a point-in-time copy of every counter.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// EventsDropped returns how many lifecycle events were discarded because
// the dispatch buffer was full.
func (e *Engine) EventsDropped() uint64 {
	return e.events.Dropped()
}

// Close stops the event dispatcher and tears down redis resources the
// engine created. Engines built on a caller-provided client leave it open.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.events.Close()
		if e.ownClient {
			if closer, ok := e.redis.(interface{ Close() error }); ok {
				e.closeErr = closer.Close()
			}
		}
		if e.mini != nil {
			e.mini.Close()
		}
	})
	return e.closeErr
}

// Project is the handle for one project's state: its top-level account
// realm, its configuration and its tenants.
type Project struct {
	engine *Engine
	state  *store.ProjectState
}

// ID returns the project id.
func (p *Project) ID() string { return p.state.ProjectID() }

// Accounts returns the top-level account realm.
func (p *Project) Accounts() Accounts {
	return Accounts{engine: p.engine, realm: p.state.Agent()}
}

// Tenant returns the account realm of an existing tenant.
func (p *Project) Tenant(tenantID string) (Accounts, error) {
	realm, err := p.state.TenantRealm(tenantID)
	if err != nil {
		return Accounts{}, err
	}
	return Accounts{engine: p.engine, realm: realm}, nil
}

// EnsureTenant returns the account realm for tenantID, implicitly creating
// the tenant with every feature enabled when it does not exist yet.
// Production never auto-creates tenants; the permissive default keeps
// emulator clients from having to provision them first.
func (p *Project) EnsureTenant(tenantID string) Accounts {
	p.state.EnsureTenant(tenantID)
	realm, _ := p.state.TenantRealm(tenantID)
	return Accounts{engine: p.engine, realm: realm}
}

// CreateTenant stores tenant under a freshly generated id. Unlike
// EnsureTenant, absent feature flags stay disabled, matching production.
func (p *Project) CreateTenant(tenant Tenant) (Tenant, error) {
	created, err := p.state.CreateTenant(tenant)
	if err != nil {
		return Tenant{}, err
	}
	p.engine.metrics.Inc(metrics.IDTenantCreated)
	return created, nil
}

// GetTenant returns the configuration of tenantID.
func (p *Project) GetTenant(tenantID string) (Tenant, error) {
	return p.state.TenantByID(tenantID)
}

// ListTenants returns tenants ordered by id, skipping ids at or below
// pageToken when one is given.
func (p *Project) ListTenants(pageToken string) []Tenant {
	return p.state.ListTenants(pageToken)
}

// UpdateTenant applies update under updateMask. An empty mask replaces
// every configurable field.
func (p *Project) UpdateTenant(tenantID string, update Tenant, updateMask string) (Tenant, error) {
	return p.state.UpdateTenant(tenantID, update, updateMask)
}

// DeleteTenant removes the tenant and its whole user population.
func (p *Project) DeleteTenant(tenantID string) {
	p.state.DeleteTenant(tenantID)
	p.engine.metrics.Inc(metrics.IDTenantDeleted)
}

// GetProjectConfig returns the client-facing project discovery document.
func (p *Project) GetProjectConfig() (*ProjectConfigResponse, error) {
	if err := p.checkEnabled(); err != nil {
		return nil, err
	}
	return &ProjectConfigResponse{
		// The automatically assigned project number, not the project id.
		ProjectID: flows.ProjectNumber,
		// Placeholder list; SDKs do not validate domains against it.
		AuthorizedDomains: []string{"localhost"},
	}, nil
}

// GetRecaptchaParams returns fixed fake recaptcha parameters. The strings
// are shaped like real ones but are clearly fake to human eyes, so that
// accidentally sending them to the real service is easy to troubleshoot.
func (p *Project) GetRecaptchaParams() (*RecaptchaParamsResponse, error) {
	if err := p.checkEnabled(); err != nil {
		return nil, err
	}
	return &RecaptchaParamsResponse{
		Kind:             "identitytoolkit#GetRecaptchaParamResponse",
		RecaptchaStoken:  "This-is-a-fake-token__Dont-send-this-to-the-Recaptcha-service__The-Auth-Emulator-does-not-support-Recaptcha",
		RecaptchaSiteKey: "Fake-key__Do-not-send-this-to-Recaptcha_",
	}, nil
}

func (p *Project) checkEnabled() error {
	if p.state.Agent().Features().DisableAuth {
		return apierr.ErrProjectDisabled
	}
	return nil
}

// Accounts is the operation surface of one realm: the project's top-level
// user population, or one tenant's. Handles are cheap values; methods
// delegate to the shared flow service.
type Accounts struct {
	engine *Engine
	realm  store.Realm
}

// TenantID returns the realm's tenant id, empty for the top-level realm.
func (a Accounts) TenantID() string { return a.realm.TenantID() }

// SignUp creates an account: anonymous, email+password, or fully specified
// when req.Privileged is set.
func (a Accounts) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	return a.engine.service.SignUp(ctx, a.realm, req)
}

// SignInWithPassword signs in with email and password.
func (a Accounts) SignInWithPassword(ctx context.Context, req SignInWithPasswordRequest) (*SignInWithPasswordResponse, error) {
	return a.engine.service.SignInWithPassword(ctx, a.realm, req)
}

// SignInWithCustomToken exchanges a developer-minted token for a session.
func (a Accounts) SignInWithCustomToken(ctx context.Context, req SignInWithCustomTokenRequest) (*SignInWithCustomTokenResponse, error) {
	return a.engine.service.SignInWithCustomToken(ctx, a.realm, req)
}

// SignInWithEmailLink completes an email-link sign-in with an OOB code.
func (a Accounts) SignInWithEmailLink(ctx context.Context, req SignInWithEmailLinkRequest) (*SignInWithEmailLinkResponse, error) {
	return a.engine.service.SignInWithEmailLink(ctx, a.realm, req)
}

// SignInWithIdp signs in with a fake federated identity credential.
func (a Accounts) SignInWithIdp(ctx context.Context, req SignInWithIdpRequest) (*SignInWithIdpResponse, error) {
	return a.engine.service.SignInWithIdp(ctx, a.realm, req)
}

// SignInWithPhoneNumber completes a phone sign-in with a verification code
// or a temporary proof.
func (a Accounts) SignInWithPhoneNumber(ctx context.Context, req SignInWithPhoneNumberRequest) (*SignInWithPhoneNumberResponse, error) {
	return a.engine.service.SignInWithPhoneNumber(ctx, a.realm, req)
}

// SendVerificationCode starts a phone verification. The code is logged in
// lieu of sending an SMS.
func (a Accounts) SendVerificationCode(ctx context.Context, req SendVerificationCodeRequest) (*SendVerificationCodeResponse, error) {
	return a.engine.service.SendVerificationCode(ctx, a.realm, req)
}

// SendOobCode mints an out-of-band code. The action link is logged in lieu
// of sending an email.
func (a Accounts) SendOobCode(ctx context.Context, req SendOobCodeRequest) (*SendOobCodeResponse, error) {
	return a.engine.service.SendOobCode(ctx, a.realm, req)
}

// ResetPassword inspects or consumes a password-reset code.
func (a Accounts) ResetPassword(ctx context.Context, req ResetPasswordRequest) (*ResetPasswordResponse, error) {
	return a.engine.service.ResetPassword(ctx, a.realm, req)
}

// CreateAuthUri reports which sign-in methods exist for an email.
func (a Accounts) CreateAuthUri(ctx context.Context, req CreateAuthUriRequest) (*CreateAuthUriResponse, error) {
	return a.engine.service.CreateAuthUri(ctx, a.realm, req)
}

// SetAccountInfo updates an account resolved by OOB code, ID token or,
// when req.Privileged is set, explicit localId.
func (a Accounts) SetAccountInfo(ctx context.Context, req SetAccountInfoRequest) (*SetAccountInfoResponse, error) {
	return a.engine.service.SetAccountInfo(ctx, a.realm, req)
}

// DeleteAccount removes one account.
func (a Accounts) DeleteAccount(ctx context.Context, req DeleteAccountRequest) error {
	return a.engine.service.DeleteAccount(ctx, a.realm, req)
}

// Lookup fetches accounts by ID token or, when req.Privileged is set, by
// localId, email, phone number or federated identity.
func (a Accounts) Lookup(ctx context.Context, req LookupRequest) (*LookupResponse, error) {
	return a.engine.service.Lookup(ctx, a.realm, req)
}

// QueryAccounts counts or lists the realm's accounts.
func (a Accounts) QueryAccounts(ctx context.Context, req QueryAccountsRequest) (*QueryAccountsResponse, error) {
	return a.engine.service.QueryAccounts(ctx, a.realm, req)
}

// BatchGet pages through all accounts in localId order.
func (a Accounts) BatchGet(ctx context.Context, req BatchGetRequest) (*BatchGetResponse, error) {
	return a.engine.service.BatchGet(ctx, a.realm, req)
}

// BatchCreate imports accounts, collecting per-index validation errors.
func (a Accounts) BatchCreate(ctx context.Context, req BatchCreateRequest) (*BatchCreateResponse, error) {
	return a.engine.service.BatchCreate(ctx, a.realm, req)
}

// BatchDelete removes up to 1000 accounts, skipping enabled ones unless
// forced.
func (a Accounts) BatchDelete(ctx context.Context, req BatchDeleteRequest) (*BatchDeleteResponse, error) {
	return a.engine.service.BatchDelete(ctx, a.realm, req)
}

// GrantToken exchanges a refresh token for a fresh ID token.
func (a Accounts) GrantToken(ctx context.Context, req GrantTokenRequest) (*GrantTokenResponse, error) {
	return a.engine.service.GrantToken(ctx, a.realm, req)
}

// CreateSessionCookie re-mints an ID token as a session cookie.
func (a Accounts) CreateSessionCookie(ctx context.Context, req CreateSessionCookieRequest) (*CreateSessionCookieResponse, error) {
	return a.engine.service.CreateSessionCookie(ctx, a.realm, req)
}

// MfaEnrollmentStart begins enrolling an SMS second factor.
func (a Accounts) MfaEnrollmentStart(ctx context.Context, req MfaEnrollmentStartRequest) (*MfaEnrollmentStartResponse, error) {
	return a.engine.service.MfaEnrollmentStart(ctx, a.realm, req)
}

// MfaEnrollmentFinalize completes an SMS second factor enrollment.
func (a Accounts) MfaEnrollmentFinalize(ctx context.Context, req MfaEnrollmentFinalizeRequest) (*MfaTokensResponse, error) {
	return a.engine.service.MfaEnrollmentFinalize(ctx, a.realm, req)
}

// MfaWithdraw removes an enrolled second factor.
func (a Accounts) MfaWithdraw(ctx context.Context, req MfaWithdrawRequest) (*MfaTokensResponse, error) {
	return a.engine.service.MfaWithdraw(ctx, a.realm, req)
}

// MfaSignInStart issues the SMS challenge of a pending MFA sign-in.
func (a Accounts) MfaSignInStart(ctx context.Context, req MfaSignInStartRequest) (*MfaSignInStartResponse, error) {
	return a.engine.service.MfaSignInStart(ctx, a.realm, req)
}

// MfaSignInFinalize verifies the SMS code and completes the sign-in.
func (a Accounts) MfaSignInFinalize(ctx context.Context, req MfaSignInFinalizeRequest) (*MfaTokensResponse, error) {
	return a.engine.service.MfaSignInFinalize(ctx, a.realm, req)
}

// DeleteAllAccounts wipes the realm's user population.
func (a Accounts) DeleteAllAccounts(ctx context.Context) error {
	return a.engine.service.DeleteAllAccounts(ctx, a.realm)
}

// ListOobCodes enumerates pending out-of-band codes for debugging.
func (a Accounts) ListOobCodes(ctx context.Context) (*ListOobCodesResponse, error) {
	return a.engine.service.ListOobCodes(ctx, a.realm)
}

// ListVerificationCodes enumerates pending SMS codes for debugging.
func (a Accounts) ListVerificationCodes(ctx context.Context) (*ListVerificationCodesResponse, error) {
	return a.engine.service.ListVerificationCodes(ctx, a.realm)
}

// GetConfig returns the project configuration. Only the top-level realm
// carries one.
func (a Accounts) GetConfig() (ProjectConfig, error) {
	if a.realm.TenantID() != "" {
		return ProjectConfig{}, apierr.NewBadRequestError("((Can only get top-level configurations on agent projects.))")
	}
	return a.engine.registry.Project(a.realm.ProjectID()).Config(), nil
}

// UpdateConfig applies update under updateMask. An empty mask replaces the
// whole configuration. Blocking function triggers are validated first.
func (a Accounts) UpdateConfig(update ProjectConfig, updateMask string) (ProjectConfig, error) {
	if a.realm.TenantID() != "" {
		return ProjectConfig{}, apierr.NewBadRequestError("((Can only update top-level configurations on agent projects.))")
	}
	for event, trig := range update.BlockingFunctions.Triggers {
		if event != store.EventBeforeCreate && event != store.EventBeforeSignIn {
			return ProjectConfig{}, apierr.NewBadRequestError("INVALID_BLOCKING_FUNCTION : ((Event type is invalid.))")
		}
		if !isAbsoluteURI(trig.FunctionURI) {
			return ProjectConfig{}, apierr.NewBadRequestError("INVALID_BLOCKING_FUNCTION : ((Expected an absolute URI with valid scheme and host.))")
		}
	}
	return a.engine.registry.Project(a.realm.ProjectID()).UpdateConfig(update, updateMask), nil
}

// GetEmulatorConfig returns the emulator-specific configuration view.
func (a Accounts) GetEmulatorConfig() EmulatorConfig {
	cfg := a.engine.registry.Project(a.realm.ProjectID()).Config()
	allow := cfg.SignIn.AllowDuplicateEmails
	return EmulatorConfig{SignIn: EmulatorSignInConfig{AllowDuplicateEmails: &allow}}
}

// UpdateEmulatorConfig updates the duplicate-email policy through the same
// masked path as UpdateConfig and returns the resulting view.
func (a Accounts) UpdateEmulatorConfig(update EmulatorConfig) (EmulatorConfig, error) {
	// An update carrying no fields must not reach the masked path, where
	// an empty mask means a full config replacement.
	if update.SignIn.AllowDuplicateEmails == nil {
		return a.GetEmulatorConfig(), nil
	}
	cfg := ProjectConfig{}
	cfg.SignIn.AllowDuplicateEmails = *update.SignIn.AllowDuplicateEmails
	if _, err := a.UpdateConfig(cfg, "signIn.allowDuplicateEmails"); err != nil {
		return EmulatorConfig{}, err
	}
	return a.GetEmulatorConfig(), nil
}

func isAbsoluteURI(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
