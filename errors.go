package identitykit

import "github.com/identitykit/identitykit/internal/apierr"

// Error is the API-shaped error returned by every engine operation.
type Error = apierr.Error

// NewBadRequestError builds an invalid-argument error with a custom reason.
func NewBadRequestError(reason string) *Error { return apierr.NewBadRequestError(reason) }

// BlockingFunctionError wraps the message a blocking function returned.
func BlockingFunctionError(message string) *Error { return apierr.BlockingFunctionError(message) }

var (
	// ErrEmailExists is returned when a write would claim an email already owned by another account.
	ErrEmailExists = apierr.ErrEmailExists
	// ErrEmailNotFound is returned when a password or email-link flow names an unknown email.
	ErrEmailNotFound = apierr.ErrEmailNotFound
	// ErrInvalidEmail is returned when an email fails syntactic validation.
	ErrInvalidEmail = apierr.ErrInvalidEmail
	// ErrInvalidPassword is returned when a password sign-in carries the wrong password.
	ErrInvalidPassword = apierr.ErrInvalidPassword
	// ErrWeakPassword is returned when a password is shorter than six characters.
	ErrWeakPassword = apierr.ErrWeakPassword
	// ErrUserNotFound is returned when a localId or credential resolves to no account.
	ErrUserNotFound = apierr.ErrUserNotFound
	// ErrUserDisabled is returned when the target account has been administratively disabled.
	ErrUserDisabled = apierr.ErrUserDisabled
	// ErrDuplicateLocalID is returned when a privileged signUp names a localId already in use.
	ErrDuplicateLocalID = apierr.ErrDuplicateLocalID
	// ErrPhoneNumberExists is returned when a write would claim a phone number already owned by another account.
	ErrPhoneNumberExists = apierr.ErrPhoneNumberExists
	// ErrInvalidPhoneNumber is returned when a phone number is not E.164-shaped.
	ErrInvalidPhoneNumber = apierr.ErrInvalidPhoneNumber
	// ErrInvalidOobCode is returned when an out-of-band code is unknown or already consumed.
	ErrInvalidOobCode = apierr.ErrInvalidOobCode
	// ErrInvalidIDToken is returned when an ID token fails decoding or points at a missing user.
	ErrInvalidIDToken = apierr.ErrInvalidIDToken
	// ErrTokenExpired is returned when an ID token was issued before the user's validSince.
	ErrTokenExpired = apierr.ErrTokenExpired
	// ErrInvalidRefreshToken is returned when a refresh token is unknown or malformed.
	ErrInvalidRefreshToken = apierr.ErrInvalidRefreshToken
	// ErrInvalidCustomToken is returned when a custom token cannot be decoded or has the wrong audience.
	ErrInvalidCustomToken = apierr.ErrInvalidCustomToken
	// ErrInvalidIdpResponse is returned when a federated sign-in carries an unusable IdP response.
	ErrInvalidIdpResponse = apierr.ErrInvalidIdpResponse
	// ErrOperationNotAllowed is returned when the project or tenant disables the requested sign-in method.
	ErrOperationNotAllowed = apierr.ErrOperationNotAllowed
	// ErrPasswordLoginDisabled is returned when password sign-in is disabled for the project.
	ErrPasswordLoginDisabled = apierr.ErrPasswordLoginDisabled
	// ErrAdminOnlyOperation is returned when an unprivileged caller invokes a privileged operation.
	ErrAdminOnlyOperation = apierr.ErrAdminOnlyOperation
	// ErrInvalidClaims is returned when custom attributes are malformed or use forbidden keys.
	ErrInvalidClaims = apierr.ErrInvalidClaims
	// ErrClaimsTooLarge is returned when serialized custom attributes exceed 1000 bytes.
	ErrClaimsTooLarge = apierr.ErrClaimsTooLarge
	// ErrForbiddenClaim is returned when custom attributes use a reserved JWT claim key.
	ErrForbiddenClaim = apierr.ErrForbiddenClaim
	// ErrMfaEnrollmentNotFound is returned when an enrollment id matches no factor on the account.
	ErrMfaEnrollmentNotFound = apierr.ErrMfaEnrollmentNotFound
	// ErrSecondFactorExists is returned when enrolling a phone number already enrolled on the account.
	ErrSecondFactorExists = apierr.ErrSecondFactorExists
	// ErrSecondFactorLimitExceeded is returned when an account already has five enrolled factors.
	ErrSecondFactorLimitExceeded = apierr.ErrSecondFactorLimitExceeded
	// ErrUnverifiedEmail is returned when MFA enrollment is attempted without a verified email.
	ErrUnverifiedEmail = apierr.ErrUnverifiedEmail
	// ErrUnsupportedFirstFactor is returned when MFA enrollment follows an anonymous or phone first factor.
	ErrUnsupportedFirstFactor = apierr.ErrUnsupportedFirstFactor
	// ErrTenantNotFound is returned when a tenant id matches no tenant in the project.
	ErrTenantNotFound = apierr.ErrTenantNotFound
	// ErrProjectDisabled is returned when sign-in is attempted on a disabled tenant.
	ErrProjectDisabled = apierr.ErrProjectDisabled
	// ErrInvalidDuration is returned when a session cookie duration is out of range.
	ErrInvalidDuration = apierr.ErrInvalidDuration
	// ErrBlockingFunctionError wraps a non-2xx or malformed blocking-function response.
	ErrBlockingFunctionError = apierr.ErrBlockingFunctionError
	// ErrEngineNotReady is returned by the builder when a required dependency is missing.
	ErrEngineNotReady = apierr.ErrEngineNotReady
)
