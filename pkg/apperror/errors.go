package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError with the same code, so that
// errors.Is(err, apperror.ErrLockNotFound()) matches regardless of message.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// ---- Validation (VAL) ----

// Validation returns a VAL_001 error for malformed input.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}

func ErrInvalidAmount() *AppError {
	return New("VAL_002", "Invalid amount", http.StatusBadRequest)
}

func ErrInvalidCurrency() *AppError {
	return New("VAL_003", "Currency not supported", http.StatusBadRequest)
}

func ErrUnsupportedMediaType() *AppError {
	return New("VAL_004", "Content-Type must be application/json", http.StatusUnsupportedMediaType)
}

// ---- Wallet & Ledger (WAL) ----

func ErrInsufficientBalance() *AppError {
	return New("WAL_001", "Insufficient available balance", http.StatusPaymentRequired)
}

func ErrInvalidTransfer() *AppError {
	return New("WAL_002", "Source and destination wallets must differ", http.StatusBadRequest)
}

func ErrLockNotFound() *AppError {
	return New("WAL_003", "Fund lock not found", http.StatusNotFound)
}

func ErrNotFound(entity string) *AppError {
	return New("WAL_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrWalletInactive() *AppError {
	return New("WAL_005", "Wallet is deactivated", http.StatusUnprocessableEntity)
}

func ErrLockExists() *AppError {
	return New("WAL_006", "A fund lock with this reference already exists", http.StatusConflict)
}

func ErrCurrencyMismatch() *AppError {
	return New("WAL_007", "Wallet currencies differ", http.StatusBadRequest)
}

// ---- Providers (PRV) ----

func ErrInvalidProvider() *AppError {
	return New("PRV_001", "Provider not supported for this request", http.StatusBadRequest)
}

func ErrProviderUnavailable(err error) *AppError {
	return Wrap("PRV_002", "Payment provider unavailable", http.StatusBadGateway, err)
}

func ErrProviderTimeout() *AppError {
	return New("PRV_003", "ProviderTimeout", http.StatusGatewayTimeout)
}

func ErrUnsupportedOperation() *AppError {
	return New("PRV_004", "Operation not supported by provider", http.StatusBadRequest)
}

func ErrUnknownEvent() *AppError {
	return New("PRV_005", "Unrecognised provider event", http.StatusUnprocessableEntity)
}

// ---- Security & Authentication (SEC) ----

func ErrUnauthorized() *AppError {
	return New("SEC_001", "Missing or invalid credentials", http.StatusUnauthorized)
}

// ErrInvalidSignature is returned for webhook deliveries that fail verification.
// Providers expect a 400 so they stop retrying forged payloads.
func ErrInvalidSignature() *AppError {
	return New("SEC_002", "Invalid signature", http.StatusBadRequest)
}

func ErrInvalidToken() *AppError {
	return New("SEC_003", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Idempotency (IDM) ----

func ErrDuplicateRequest() *AppError {
	return New("IDM_001", "A request with this idempotency key is already in progress", http.StatusConflict)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// ErrPersistence wraps a storage failure that aborted a ledger mutation.
func ErrPersistence(err error) *AppError {
	return Wrap("SYS_002", "Persistence failure", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
