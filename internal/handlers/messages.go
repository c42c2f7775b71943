package handlers

const (
	msgSessionExpired     = "Your session has expired. Please sign in again."
	msgInvalidCredentials = "Invalid username or password."
	msgSupersededRequest  = "A newer request replaced this one."
)

func newAPIError(code, message string) APIErrorDef {
	return APIErrorDef{Code: code, Message: message}
}

var (
	apiErrInvalidID          = newAPIError("E_INVALID_ID", "Invalid ID")
	apiErrInvalidRequestBody = newAPIError("E_INVALID_REQUEST_BODY", "Invalid request body")
	apiErrUnauthorized       = newAPIError("E_UNAUTHORIZED", msgSessionExpired)
	apiErrForbidden          = newAPIError("E_FORBIDDEN", "You do not have permission to perform this action.")
	apiErrNotFound           = newAPIError("E_NOT_FOUND", "Resource not found")
	apiErrValidation         = newAPIError("E_VALIDATION", "Please correct the highlighted fields.")
	apiErrNoChanges          = newAPIError("E_NO_CHANGES", "No changes detected.")
	apiErrUpstream           = newAPIError("E_UPSTREAM", "An unexpected error occurred. Please try again.")
	apiErrUnavailable        = newAPIError("E_UNAVAILABLE", "Service temporarily unavailable")
	apiErrRateLimited        = newAPIError("E_RATE_LIMITED", "Too many requests, please retry later")
	apiErrLoginBlocked       = newAPIError("E_LOGIN_BLOCKED", "Too many failed sign-in attempts, please retry later")
	apiErrInvalidCredentials = newAPIError("E_INVALID_CREDENTIALS", msgInvalidCredentials)
	apiErrCredentialsMissing = newAPIError("E_CREDENTIALS_REQUIRED", "Username and password are required")
	apiErrSessionCreate      = newAPIError("E_SESSION_CREATE_FAILED", "Could not start session")
	apiErrStaleRequest       = newAPIError("E_STALE_REQUEST", msgSupersededRequest)
	apiErrProbeInvalid       = newAPIError("E_PROBE_INVALID", "Broker host and port are required")
	apiErrACLCheckInvalid    = newAPIError("E_ACL_CHECK_INVALID", "username, topic and a valid action are required")
	apiErrExportFailed       = newAPIError("E_EXPORT_FAILED", "Could not generate report")
)
