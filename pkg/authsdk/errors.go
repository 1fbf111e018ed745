package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/warden/pkg/httpx"
)

// Error codes returned by the server in the "error" field.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeInvalidCredentials = "invalid_credentials"
	ErrorCodeTOTPRequired       = "totp_required"
	ErrorCodeAccountInactive    = "account_inactive"
	ErrorCodeInvalidToken       = "invalid_token"
	ErrorCodeInsufficientRole   = "insufficient_role"
	ErrorCodeIdentifierTaken    = "identifier_taken"
	ErrorCodeTOTPAlreadyEnabled = "totp_already_enabled"
	ErrorCodeTOTPNotEnrolled    = "totp_not_enrolled"
	ErrorCodeInvalidCode        = "invalid_code"
	ErrorCodeRateLimited        = "rate_limit_exceeded"
	ErrorCodeNotSupported       = "not_supported"
	ErrorCodeNotFound           = "not_found"
	ErrorCodeServerError        = "server_error"
)

// APIError is an error response from the server.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches on the error code alone, so the sentinels below work with
// errors.Is regardless of status or description.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidRequest     = &APIError{Code: ErrorCodeInvalidRequest}
	ErrInvalidCredentials = &APIError{Code: ErrorCodeInvalidCredentials}
	ErrTOTPRequired       = &APIError{Code: ErrorCodeTOTPRequired}
	ErrAccountInactive    = &APIError{Code: ErrorCodeAccountInactive}
	ErrInvalidToken       = &APIError{Code: ErrorCodeInvalidToken}
	ErrInsufficientRole   = &APIError{Code: ErrorCodeInsufficientRole}
	ErrIdentifierTaken    = &APIError{Code: ErrorCodeIdentifierTaken}
	ErrTOTPAlreadyEnabled = &APIError{Code: ErrorCodeTOTPAlreadyEnabled}
	ErrTOTPNotEnrolled    = &APIError{Code: ErrorCodeTOTPNotEnrolled}
	ErrInvalidCode        = &APIError{Code: ErrorCodeInvalidCode}
	ErrRateLimited        = &APIError{Code: ErrorCodeRateLimited}
	ErrNotSupported       = &APIError{Code: ErrorCodeNotSupported}
)

// parseErrorResponse turns a non-2xx response body into an *APIError.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errResp httpx.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{
			StatusCode:  resp.StatusCode,
			Code:        errResp.Error,
			Description: errResp.Description,
		}
	}

	return &APIError{
		StatusCode:  resp.StatusCode,
		Code:        ErrorCodeServerError,
		Description: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
