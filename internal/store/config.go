package store

import "strings"

// Blocking function event names.
const (
	EventBeforeCreate = "beforeCreate"
	EventBeforeSignIn = "beforeSignIn"
)

// SignInConfig is the configurable sign-in behavior of a project.
type SignInConfig struct {
	AllowDuplicateEmails bool `json:"allowDuplicateEmails"`
}

// BlockingTrigger names the function endpoint for one blocking event.
type BlockingTrigger struct {
	FunctionURI string `json:"functionUri"`
}

// ForwardInboundCredentials selects which caller credentials are forwarded
// to blocking functions.
type ForwardInboundCredentials struct {
	IDToken      bool `json:"idToken"`
	AccessToken  bool `json:"accessToken"`
	RefreshToken bool `json:"refreshToken"`
}

// BlockingFunctionsConfig wires blocking function endpoints per event.
type BlockingFunctionsConfig struct {
	Triggers                  map[string]BlockingTrigger `json:"triggers,omitempty"`
	ForwardInboundCredentials ForwardInboundCredentials  `json:"forwardInboundCredentials"`
}

// Config holds the configurable project fields. Everything else the real
// service configures is fixed to permissive values for ease of testing.
type Config struct {
	SignIn            SignInConfig            `json:"signIn"`
	BlockingFunctions BlockingFunctionsConfig `json:"blockingFunctions"`
}

// DefaultConfig returns the initial project configuration.
func DefaultConfig() Config {
	return Config{
		SignIn: SignInConfig{AllowDuplicateEmails: false},
	}
}

// Config returns a snapshot of the project configuration.
func (ps *ProjectState) Config() Config {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return cloneConfig(ps.config)
}

// UpdateConfig applies update under the given mask. An empty mask replaces
// the whole configuration. Unknown mask paths are ignored.
func (ps *ProjectState) UpdateConfig(update Config, updateMask string) Config {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if updateMask == "" {
		ps.config = cloneConfig(update)
		return cloneConfig(ps.config)
	}
	for _, path := range strings.Split(updateMask, ",") {
		switch strings.TrimSpace(path) {
		case "signIn":
			ps.config.SignIn = update.SignIn
		case "signIn.allowDuplicateEmails":
			ps.config.SignIn.AllowDuplicateEmails = update.SignIn.AllowDuplicateEmails
		case "blockingFunctions":
			ps.config.BlockingFunctions = cloneBlockingFunctions(update.BlockingFunctions)
		case "blockingFunctions.triggers":
			ps.config.BlockingFunctions.Triggers = cloneTriggers(update.BlockingFunctions.Triggers)
		case "blockingFunctions.forwardInboundCredentials":
			ps.config.BlockingFunctions.ForwardInboundCredentials = update.BlockingFunctions.ForwardInboundCredentials
		}
	}
	return cloneConfig(ps.config)
}

func cloneConfig(c Config) Config {
	c.BlockingFunctions = cloneBlockingFunctions(c.BlockingFunctions)
	return c
}

func cloneBlockingFunctions(c BlockingFunctionsConfig) BlockingFunctionsConfig {
	c.Triggers = cloneTriggers(c.Triggers)
	return c
}

func cloneTriggers(in map[string]BlockingTrigger) map[string]BlockingTrigger {
	if in == nil {
		return nil
	}
	out := make(map[string]BlockingTrigger, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// BlockingFunctionURI returns the endpoint configured for event, if any.
// Tenants share the parent project's blocking function configuration.
func (ps *ProjectState) BlockingFunctionURI(event string) (string, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	trigger, ok := ps.config.BlockingFunctions.Triggers[event]
	if !ok || trigger.FunctionURI == "" {
		return "", false
	}
	return trigger.FunctionURI, true
}

// ShouldForwardCredential reports whether the named inbound credential kind
// ("idToken", "accessToken" or "refreshToken") is forwarded to blocking
// functions.
func (ps *ProjectState) ShouldForwardCredential(kind string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	fwd := ps.config.BlockingFunctions.ForwardInboundCredentials
	switch kind {
	case "idToken":
		return fwd.IDToken
	case "accessToken":
		return fwd.AccessToken
	case "refreshToken":
		return fwd.RefreshToken
	}
	return false
}

// BlockingFunctionURI delegates to the parent project; tenants do not carry
// their own trigger configuration.
func (r Realm) BlockingFunctionURI(event string) (string, bool) {
	return r.ps.BlockingFunctionURI(event)
}

// ShouldForwardCredential delegates to the parent project.
func (r Realm) ShouldForwardCredential(kind string) bool {
	return r.ps.ShouldForwardCredential(kind)
}

// Features is the effective sign-in feature set of a realm. The agent realm
// is fully permissive; tenant realms reflect their tenant config.
type Features struct {
	AllowPasswordSignup   bool
	DisableAuth           bool
	EnableAnonymousUser   bool
	EnableEmailLinkSignin bool
	MfaConfig             MfaConfig
	OneAccountPerEmail    bool
}

// Features returns the realm's effective feature set.
func (r Realm) Features() Features {
	r.ps.mu.RLock()
	defer r.ps.mu.RUnlock()
	oneAccount := !r.ps.config.SignIn.AllowDuplicateEmails
	if r.tenantID == "" {
		return Features{
			AllowPasswordSignup:   true,
			EnableAnonymousUser:   true,
			EnableEmailLinkSignin: true,
			MfaConfig:             MfaConfig{State: "ENABLED", EnabledProviders: []string{"PHONE_SMS"}},
			OneAccountPerEmail:    oneAccount,
		}
	}
	tenant := r.ps.tenants[r.tenantID]
	return Features{
		AllowPasswordSignup:   tenant.AllowPasswordSignup,
		DisableAuth:           tenant.DisableAuth,
		EnableAnonymousUser:   tenant.EnableAnonymousUser,
		EnableEmailLinkSignin: tenant.EnableEmailLinkSignin,
		MfaConfig:             tenant.MfaConfig,
		OneAccountPerEmail:    oneAccount,
	}
}
