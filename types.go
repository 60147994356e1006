package identitykit

import (
	"github.com/identitykit/identitykit/internal/flows"
	"github.com/identitykit/identitykit/internal/store"
	"github.com/identitykit/identitykit/internal/trigger"
)

// Request and response shapes of the account operations. Field names and
// JSON tags follow the Identity Toolkit wire format.
type (
	SignUpRequest  = flows.SignUpRequest
	SignUpResponse = flows.SignUpResponse

	SignInWithPasswordRequest  = flows.SignInWithPasswordRequest
	SignInWithPasswordResponse = flows.SignInWithPasswordResponse

	SignInWithCustomTokenRequest  = flows.SignInWithCustomTokenRequest
	SignInWithCustomTokenResponse = flows.SignInWithCustomTokenResponse

	SignInWithEmailLinkRequest  = flows.SignInWithEmailLinkRequest
	SignInWithEmailLinkResponse = flows.SignInWithEmailLinkResponse

	SignInWithIdpRequest  = flows.SignInWithIdpRequest
	SignInWithIdpResponse = flows.SignInWithIdpResponse

	SignInWithPhoneNumberRequest  = flows.SignInWithPhoneNumberRequest
	SignInWithPhoneNumberResponse = flows.SignInWithPhoneNumberResponse

	SendVerificationCodeRequest  = flows.SendVerificationCodeRequest
	SendVerificationCodeResponse = flows.SendVerificationCodeResponse

	SendOobCodeRequest  = flows.SendOobCodeRequest
	SendOobCodeResponse = flows.SendOobCodeResponse

	ResetPasswordRequest  = flows.ResetPasswordRequest
	ResetPasswordResponse = flows.ResetPasswordResponse

	CreateAuthUriRequest  = flows.CreateAuthUriRequest
	CreateAuthUriResponse = flows.CreateAuthUriResponse

	SetAccountInfoRequest  = flows.SetAccountInfoRequest
	SetAccountInfoResponse = flows.SetAccountInfoResponse

	DeleteAccountRequest = flows.DeleteAccountRequest

	LookupRequest  = flows.LookupRequest
	LookupResponse = flows.LookupResponse

	QueryAccountsRequest  = flows.QueryAccountsRequest
	QueryAccountsResponse = flows.QueryAccountsResponse

	BatchGetRequest  = flows.BatchGetRequest
	BatchGetResponse = flows.BatchGetResponse

	BatchCreateRequest  = flows.BatchCreateRequest
	BatchCreateError    = flows.BatchCreateError
	BatchCreateResponse = flows.BatchCreateResponse

	BatchDeleteRequest  = flows.BatchDeleteRequest
	BatchDeleteError    = flows.BatchDeleteError
	BatchDeleteResponse = flows.BatchDeleteResponse

	GrantTokenRequest  = flows.GrantTokenRequest
	GrantTokenResponse = flows.GrantTokenResponse

	CreateSessionCookieRequest  = flows.CreateSessionCookieRequest
	CreateSessionCookieResponse = flows.CreateSessionCookieResponse

	MfaEnrollmentStartRequest    = flows.MfaEnrollmentStartRequest
	MfaEnrollmentStartResponse   = flows.MfaEnrollmentStartResponse
	MfaEnrollmentFinalizeRequest = flows.MfaEnrollmentFinalizeRequest
	MfaWithdrawRequest           = flows.MfaWithdrawRequest
	MfaSignInStartRequest        = flows.MfaSignInStartRequest
	MfaSignInStartResponse       = flows.MfaSignInStartResponse
	MfaSignInFinalizeRequest     = flows.MfaSignInFinalizeRequest
	MfaTokensResponse            = flows.MfaTokensResponse

	ListOobCodesResponse          = flows.ListOobCodesResponse
	OobCodeView                   = flows.OobCodeView
	ListVerificationCodesResponse = flows.ListVerificationCodesResponse
	VerificationCodeView          = flows.VerificationCodeView
)

// Supporting shapes embedded in requests and responses.
type (
	UserView              = flows.UserView
	MfaView               = flows.MfaView
	MfaInput              = flows.MfaInput
	MfaEnrollmentInput    = flows.MfaEnrollmentInput
	MfaEnrollmentView     = flows.MfaEnrollmentView
	MfaChallenge          = flows.MfaChallenge
	Tokens                = flows.Tokens
	ImportUserInput       = flows.ImportUserInput
	FederatedUserID       = flows.FederatedUserID
	PhoneEnrollmentInfo   = flows.PhoneEnrollmentInfo
	PhoneVerificationInfo = flows.PhoneVerificationInfo
	PhoneSessionInfo      = flows.PhoneSessionInfo
	ProviderUserInfo      = store.ProviderUserInfo
)

// Configuration shapes.
type (
	ProjectConfig             = store.Config
	SignInConfig              = store.SignInConfig
	BlockingFunctionsConfig   = store.BlockingFunctionsConfig
	BlockingTrigger           = store.BlockingTrigger
	ForwardInboundCredentials = store.ForwardInboundCredentials
	Tenant                    = store.Tenant
	MfaConfig                 = store.MfaConfig
)

// Blocking function event names accepted in ProjectConfig triggers.
const (
	EventBeforeCreate = store.EventBeforeCreate
	EventBeforeSignIn = store.EventBeforeSignIn
)

// Identity provider ids stored in providerUserInfo.
const (
	ProviderPassword  = store.ProviderPassword
	ProviderPhone     = store.ProviderPhone
	ProviderAnonymous = store.ProviderAnonymous
	ProviderCustom    = store.ProviderCustom
)

// Lifecycle event plumbing.
type (
	EventSink       = trigger.Sink
	Event           = trigger.Event
	EventUserRecord = trigger.UserRecord
	ChannelSink     = trigger.ChannelSink
)

// Lifecycle event types.
const (
	EventTypeCreate = trigger.TypeCreate
	EventTypeDelete = trigger.TypeDelete
)

// NewChannelSink builds an event sink backed by a buffered channel, for
// embedders that consume lifecycle events programmatically.
func NewChannelSink(buffer int) *ChannelSink {
	return trigger.NewChannelSink(buffer)
}

// ProjectConfigResponse is the client-facing project discovery document.
type ProjectConfigResponse struct {
	ProjectID         string   `json:"projectId"`
	AuthorizedDomains []string `json:"authorizedDomains"`
}

// RecaptchaParamsResponse carries fixed fake recaptcha parameters.
type RecaptchaParamsResponse struct {
	Kind             string `json:"kind"`
	RecaptchaStoken  string `json:"recaptchaStoken"`
	RecaptchaSiteKey string `json:"recaptchaSiteKey"`
}

// EmulatorSignInConfig is the sign-in section of the emulator config view.
type EmulatorSignInConfig struct {
	AllowDuplicateEmails *bool `json:"allowDuplicateEmails,omitempty"`
}

// EmulatorConfig is the emulator-specific configuration surface.
type EmulatorConfig struct {
	SignIn EmulatorSignInConfig `json:"signIn"`
}
