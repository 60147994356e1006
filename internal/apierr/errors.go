package apierr

import (
	"fmt"
	"net/http"
)

// Error is the API-shaped error returned by every engine operation. Reason is
// the machine-readable code clients switch on; some reasons carry a human
// fragment after " : ". Errors with the same Reason compare equal under
// errors.Is regardless of the fragment.
type Error struct {
	HTTPStatus int
	Status     string
	Reason     string
}

func (e *Error) Error() string {
	return e.Reason
}

// Is reports whether target carries the same reason code, ignoring any
// detail fragment after " : ".
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return reasonCode(e.Reason) == reasonCode(t.Reason)
}

func reasonCode(reason string) string {
	for i := 0; i < len(reason); i++ {
		if reason[i] == ' ' {
			return reason[:i]
		}
	}
	return reason
}

func badRequest(reason string) *Error {
	return &Error{HTTPStatus: http.StatusBadRequest, Status: "INVALID_ARGUMENT", Reason: reason}
}

func unauthorized(reason string) *Error {
	return &Error{HTTPStatus: http.StatusUnauthorized, Status: "UNAUTHENTICATED", Reason: reason}
}

func forbidden(reason string) *Error {
	return &Error{HTTPStatus: http.StatusForbidden, Status: "PERMISSION_DENIED", Reason: reason}
}

func notFound(reason string) *Error {
	return &Error{HTTPStatus: http.StatusNotFound, Status: "NOT_FOUND", Reason: reason}
}

func internal(reason string) *Error {
	return &Error{HTTPStatus: http.StatusInternalServerError, Status: "INTERNAL", Reason: reason}
}

func notImplemented(reason string) *Error {
	return &Error{HTTPStatus: http.StatusNotImplemented, Status: "UNIMPLEMENTED", Reason: reason}
}

// NewBadRequestError builds an invalid-argument error with a custom reason,
// for callers layering project-specific validation on top of the engine.
func NewBadRequestError(reason string) *Error { return badRequest(reason) }

// NewInternalError builds a 500-class error with a custom reason.
func NewInternalError(reason string) *Error { return internal(reason) }

// NewUnauthorizedError builds a 401-class error with a custom reason.
func NewUnauthorizedError(reason string) *Error { return unauthorized(reason) }

// NewForbiddenError builds a 403-class error with a custom reason.
func NewForbiddenError(reason string) *Error { return forbidden(reason) }

// NewNotFoundError builds a 404-class error with a custom reason.
func NewNotFoundError(reason string) *Error { return notFound(reason) }

// NotImplementedError marks surface the emulator deliberately does not cover.
func NotImplementedError(detail string) *Error {
	return notImplemented("NOT_IMPLEMENTED : " + detail)
}

var (
	// ErrEmailExists is returned when a write would claim an email already owned by another account.
	ErrEmailExists = badRequest("EMAIL_EXISTS")
	// ErrEmailNotFound is returned when a password or email-link flow names an unknown email.
	ErrEmailNotFound = badRequest("EMAIL_NOT_FOUND")
	// ErrInvalidEmail is returned when an email fails syntactic validation.
	ErrInvalidEmail = badRequest("INVALID_EMAIL")
	// ErrInvalidPassword is returned when a password sign-in carries the wrong password.
	ErrInvalidPassword = badRequest("INVALID_PASSWORD")
	// ErrWeakPassword is returned when a password is shorter than six characters.
	ErrWeakPassword = badRequest("WEAK_PASSWORD : Password should be at least 6 characters")
	// ErrMissingPassword is returned when a flow requires a password and none was given.
	ErrMissingPassword = badRequest("MISSING_PASSWORD")
	// ErrMissingEmail is returned when a flow requires an email and none was given.
	ErrMissingEmail = badRequest("MISSING_EMAIL")
	// ErrUserNotFound is returned when a localId or credential resolves to no account.
	ErrUserNotFound = badRequest("USER_NOT_FOUND")
	// ErrUserDisabled is returned when the target account has been administratively disabled.
	ErrUserDisabled = badRequest("USER_DISABLED")
	// ErrDuplicateLocalID is returned when a privileged signUp names a localId already in use.
	ErrDuplicateLocalID = badRequest("DUPLICATE_LOCAL_ID")
	// ErrDuplicateRawID is returned when linking a federated identity already linked to another account.
	ErrDuplicateRawID = badRequest("FEDERATED_USER_ID_ALREADY_LINKED : This credential is already associated with a different user account.")
	// ErrPhoneNumberExists is returned when a write would claim a phone number already owned by another account.
	ErrPhoneNumberExists = badRequest("PHONE_NUMBER_EXISTS")
	// ErrInvalidPhoneNumber is returned when a phone number is not E.164-shaped.
	ErrInvalidPhoneNumber = badRequest("INVALID_PHONE_NUMBER : Invalid format.")
	// ErrInvalidCode is returned when a phone verification code does not match its session.
	ErrInvalidCode = badRequest("INVALID_CODE")
	// ErrInvalidSessionInfo is returned when a phone verification session id is unknown.
	ErrInvalidSessionInfo = badRequest("INVALID_SESSION_INFO")
	// ErrMissingSessionInfo is returned when a phone sign-in omits the session id.
	ErrMissingSessionInfo = badRequest("MISSING_SESSION_INFO")
	// ErrMissingCode is returned when a phone sign-in omits the code.
	ErrMissingCode = badRequest("MISSING_CODE")
	// ErrInvalidOobCode is returned when an out-of-band code is unknown or already consumed.
	ErrInvalidOobCode = badRequest("INVALID_OOB_CODE")
	// ErrExpiredOobCode is returned when an out-of-band code has passed its validity window.
	ErrExpiredOobCode = badRequest("EXPIRED_OOB_CODE")
	// ErrInvalidIDToken is returned when an ID token fails decoding or points at a missing user.
	ErrInvalidIDToken = badRequest("INVALID_ID_TOKEN")
	// ErrTokenExpired is returned when an ID token was issued before the user's validSince.
	ErrTokenExpired = badRequest("TOKEN_EXPIRED")
	// ErrInvalidRefreshToken is returned when a refresh token is unknown or malformed.
	ErrInvalidRefreshToken = badRequest("INVALID_REFRESH_TOKEN")
	// ErrInvalidGrantType is returned when a token grant names an unsupported grant type.
	ErrInvalidGrantType = badRequest("INVALID_GRANT_TYPE")
	// ErrMissingRefreshToken is returned when a refresh grant omits the token.
	ErrMissingRefreshToken = badRequest("MISSING_REFRESH_TOKEN")
	// ErrInvalidCustomToken is returned when a custom token cannot be decoded or has the wrong audience.
	ErrInvalidCustomToken = badRequest("INVALID_CUSTOM_TOKEN")
	// ErrInvalidIdpResponse is returned when a federated sign-in carries an unusable IdP response.
	ErrInvalidIdpResponse = badRequest("INVALID_IDP_RESPONSE")
	// ErrInvalidPendingToken is returned when a federated retry token is unknown.
	ErrInvalidPendingToken = badRequest("INVALID_PENDING_TOKEN")
	// ErrOperationNotAllowed is returned when the project or tenant disables the requested sign-in method.
	ErrOperationNotAllowed = badRequest("OPERATION_NOT_ALLOWED")
	// ErrPasswordLoginDisabled is returned when password sign-in is disabled for the project.
	ErrPasswordLoginDisabled = badRequest("PASSWORD_LOGIN_DISABLED")
	// ErrAdminOnlyOperation is returned when an unprivileged caller invokes a privileged operation.
	ErrAdminOnlyOperation = badRequest("ADMIN_ONLY_OPERATION")
	// ErrCredentialMismatch is returned when a privileged credential targets a different project.
	ErrCredentialMismatch = badRequest("CREDENTIAL_MISMATCH")
	// ErrInvalidClaims is returned when custom attributes are malformed or use forbidden keys.
	ErrInvalidClaims = badRequest("INVALID_CLAIMS")
	// ErrClaimsTooLarge is returned when serialized custom attributes exceed 1000 bytes.
	ErrClaimsTooLarge = badRequest("CLAIMS_TOO_LARGE")
	// ErrForbiddenClaim is returned when custom attributes use a reserved JWT claim key.
	ErrForbiddenClaim = badRequest("FORBIDDEN_CLAIM")
	// ErrMissingMfaPendingCredential is returned when an MFA finalize omits the pending credential.
	ErrMissingMfaPendingCredential = badRequest("MISSING_MFA_PENDING_CREDENTIAL")
	// ErrInvalidMfaPendingCredential is returned when the pending credential cannot be decoded.
	ErrInvalidMfaPendingCredential = badRequest("INVALID_MFA_PENDING_CREDENTIAL")
	// ErrInvalidMfaPhoneNumber is returned when an enrollment's phone number is not E.164-shaped.
	ErrInvalidMfaPhoneNumber = badRequest("INVALID_MFA_PHONE_NUMBER : Invalid format.")
	// ErrInvalidMfaEnrollmentID is returned when an enrollment is missing its id.
	ErrInvalidMfaEnrollmentID = badRequest("INVALID_MFA_ENROLLMENT_ID : mfaEnrollmentId must be defined.")
	// ErrDuplicateMfaEnrollmentID is returned when two enrollments in one write share an id.
	ErrDuplicateMfaEnrollmentID = badRequest("DUPLICATE_MFA_ENROLLMENT_ID")
	// ErrDuplicateMfaPhoneNumber is returned when two enrollments in one write share a phone number.
	ErrDuplicateMfaPhoneNumber = badRequest("INTERNAL_ERROR : MFA Enrollment Phone Numbers must be unique.")
	// ErrMfaEnrollmentNotFound is returned when an enrollment id matches no factor on the account.
	ErrMfaEnrollmentNotFound = badRequest("MFA_ENROLLMENT_NOT_FOUND")
	// ErrSecondFactorExists is returned when enrolling a phone number already enrolled on the account.
	ErrSecondFactorExists = badRequest("SECOND_FACTOR_EXISTS")
	// ErrSecondFactorLimitExceeded is returned when an account already has five enrolled factors.
	ErrSecondFactorLimitExceeded = badRequest("SECOND_FACTOR_LIMIT_EXCEEDED")
	// ErrUnverifiedEmail is returned when MFA enrollment is attempted without a verified email.
	ErrUnverifiedEmail = badRequest("UNVERIFIED_EMAIL : Need to verify email first before enrolling second factors.")
	// ErrUnsupportedFirstFactor is returned when MFA enrollment follows an anonymous or phone first factor.
	ErrUnsupportedFirstFactor = badRequest("UNSUPPORTED_FIRST_FACTOR")
	// ErrInvalidMfaCode is returned when an MFA verification code does not match.
	ErrInvalidMfaCode = badRequest("INVALID_CODE")
	// ErrInvalidIdentifier is returned when createAuthUri receives a malformed identifier.
	ErrInvalidIdentifier = badRequest("INVALID_IDENTIFIER")
	// ErrMissingIdentifier is returned when createAuthUri receives no identifier.
	ErrMissingIdentifier = badRequest("MISSING_IDENTIFIER")
	// ErrInvalidContinueURI is returned when createAuthUri receives a malformed continue uri.
	ErrInvalidContinueURI = badRequest("INVALID_CONTINUE_URI")
	// ErrMissingContinueURI is returned when createAuthUri receives no continue uri.
	ErrMissingContinueURI = badRequest("MISSING_CONTINUE_URI")
	// ErrUnsupportedTenantOperation is returned when a tenant-scoped call hits a project-only operation.
	ErrUnsupportedTenantOperation = badRequest("UNSUPPORTED_TENANT_OPERATION")
	// ErrTenantNotFound is returned when a tenant id matches no tenant in the project.
	ErrTenantNotFound = notFound("TENANT_NOT_FOUND")
	// ErrProjectDisabled is returned when sign-in is attempted on a disabled tenant.
	ErrProjectDisabled = badRequest("PROJECT_DISABLED")
	// ErrInvalidDuration is returned when a session cookie duration is out of range.
	ErrInvalidDuration = badRequest("INVALID_DURATION")
	// ErrMissingIDToken is returned when an operation requires an ID token and none was given.
	ErrMissingIDToken = badRequest("MISSING_ID_TOKEN")
	// ErrMissingOobCode is returned when resetPassword or similar omits the oob code.
	ErrMissingOobCode = badRequest("MISSING_OOB_CODE")
	// ErrMissingNewPassword is returned when a password reset omits the new password.
	ErrMissingNewPassword = badRequest("MISSING_NEW_PASSWORD")
	// ErrMissingReqType is returned when sendOobCode omits the request type.
	ErrMissingReqType = badRequest("MISSING_REQ_TYPE")
	// ErrInvalidReqType is returned when sendOobCode names an unsupported request type.
	ErrInvalidReqType = badRequest("INVALID_REQ_TYPE")
	// ErrMissingUserAccount is returned when an operation requires localId and none was given.
	ErrMissingUserAccount = badRequest("MISSING_USER_ACCOUNT")
	// ErrMissingLocalID is returned when a privileged lookup or delete omits the localId.
	ErrMissingLocalID = badRequest("MISSING_LOCAL_ID")
	// ErrInvalidPageToken is returned when a paginated query receives an unparseable token.
	ErrInvalidPageToken = badRequest("INVALID_PAGE_SELECTION")
	// ErrBlockingFunctionError wraps a non-2xx or malformed blocking-function response.
	ErrBlockingFunctionError = badRequest("BLOCKING_FUNCTION_ERROR_RESPONSE")
	// ErrEngineNotReady is returned by the builder when a required dependency is missing.
	ErrEngineNotReady = internal("ENGINE_NOT_READY")

	// ErrTenantIDMismatch is returned when a credential names a different tenant.
	ErrTenantIDMismatch = badRequest("TENANT_ID_MISMATCH")
	// ErrMissingGrantType is returned when a token exchange omits grant_type.
	ErrMissingGrantType = badRequest("MISSING_GRANT_TYPE")
	// ErrMissingCustomToken is returned when signInWithCustomToken has no token.
	ErrMissingCustomToken = badRequest("MISSING_CUSTOM_TOKEN")
	// ErrMissingPhoneNumber is returned when a proof exchange omits the phone number.
	ErrMissingPhoneNumber = badRequest("MISSING_PHONE_NUMBER")
	// ErrInvalidTemporaryProof is returned for unknown or mismatched proofs.
	ErrInvalidTemporaryProof = badRequest("INVALID_TEMPORARY_PROOF")
	// ErrMissingCredential is returned by MFA sign-in finalize without a pending credential.
	ErrMissingCredential = badRequest("MISSING_CREDENTIAL : Please set MFA Pending Credential.")
	// ErrMissingMfaEnrollmentID is returned by MFA sign-in start without an enrollment id.
	ErrMissingMfaEnrollmentID = badRequest("MISSING_MFA_ENROLLMENT_ID : No second factor identifier is provided.")
	// ErrInsufficientPermission is returned when a privileged parameter is used without authorization.
	ErrInsufficientPermission = badRequest("INSUFFICIENT_PERMISSION")
	// ErrLocalIDListExceedsLimit bounds batch deletes to 1000 ids per call.
	ErrLocalIDListExceedsLimit = badRequest("LOCAL_ID_LIST_EXCEEDS_LIMIT")
	// ErrMissingRequestURI is returned by signInWithIdp without a requestUri.
	ErrMissingRequestURI = badRequest("MISSING_REQUEST_URI")
	// ErrInvalidRequestURI is returned for a requestUri that is not absolute.
	ErrInvalidRequestURI = badRequest("INVALID_REQUEST_URI")
	// ErrInvalidProviderID is returned when the IdP response names no provider.
	ErrInvalidProviderID = badRequest("INVALID_CREDENTIAL_OR_PROVIDER_ID")
	// ErrInvalidProjectID is returned when an MFA pending credential belongs elsewhere.
	ErrInvalidProjectID = badRequest("INVALID_PROJECT_ID : Project ID does not match MFA pending credential.")
	// ErrInvalidBlockingFunction rejects malformed trigger configuration.
	ErrInvalidBlockingFunction = badRequest("INVALID_BLOCKING_FUNCTION")
	// ErrUnexpectedParameter is returned when a request carries a field only privileged callers may set.
	ErrUnexpectedParameter = badRequest("UNEXPECTED_PARAMETER")
	// ErrDuplicateEmail is returned by batch import sanity checks.
	ErrDuplicateEmail = badRequest("DUPLICATE_EMAIL")

	// ErrNeedConfirmation is not an error in the HTTP sense; federated sign-in
	// reports account-collision confirmation through the response body instead.
	// It is defined for callers that surface the condition as an error.
	ErrNeedConfirmation = badRequest("NEED_CONFIRMATION")
)

// BlockingFunctionError wraps the message a blocking function returned,
// double-parenthesized the way production relays it.
func BlockingFunctionError(message string) *Error {
	return badRequest(fmt.Sprintf("BLOCKING_FUNCTION_ERROR_RESPONSE : ((%s))", message))
}

// BlockingFunctionInternalError is the 500-class variant of
// BlockingFunctionError, used for transport and decoding failures.
func BlockingFunctionInternalError(message string) *Error {
	return internal(fmt.Sprintf("BLOCKING_FUNCTION_ERROR_RESPONSE : ((%s))", message))
}

// InvalidClaimsError reports a malformed custom-attributes payload with detail.
func InvalidClaimsError(detail string) *Error {
	return badRequest("INVALID_CLAIMS : " + detail)
}

// ForbiddenClaimError names the reserved claim key that was rejected.
func ForbiddenClaimError(claim string) *Error {
	return badRequest(fmt.Sprintf("FORBIDDEN_CLAIM : %s", claim))
}
