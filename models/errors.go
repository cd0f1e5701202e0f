package models

import "fmt"

type ErrorCode string

const (
	ErrCodeMissingCredentials ErrorCode = "MISSING_CREDENTIALS"
	ErrCodeInvalidShortcode   ErrorCode = "INVALID_SHORTCODE_FORMAT"
	ErrCodeInvalidPhone       ErrorCode = "INVALID_PHONE_NUMBER"
	ErrCodeTokenFailed        ErrorCode = "TOKEN_FAILED"
	ErrCodeTokenParse         ErrorCode = "TOKEN_PARSE_ERROR"
	ErrCodeNoAccessToken      ErrorCode = "NO_ACCESS_TOKEN"
	ErrCodeSTKFailed          ErrorCode = "STK_FAILED"
	ErrCodeSTKParse           ErrorCode = "STK_PARSE_ERROR"
	ErrCodeDB                 ErrorCode = "DB_ERROR"
	ErrCodeUnknown            ErrorCode = "UNKNOWN_ERROR"
)

// PaymentError carries a stable machine-readable code back to the caller.
// Details holds gateway diagnostics such as the raw Daraja response code.
type PaymentError struct {
	Code    ErrorCode              `json:"errorCode"`
	Message string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

func NewPaymentError(code ErrorCode, message string) *PaymentError {
	return &PaymentError{Code: code, Message: message}
}
