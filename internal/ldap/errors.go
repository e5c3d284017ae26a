package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Sentinel errors matched by the typed search errors via errors.Is.
var (
	ErrProtocolDecode       = errors.New("protocol decode error")
	ErrConfiguration        = errors.New("configuration error")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrMalformedCookie      = errors.New("malformed cookie")
)

// ErrorCategory represents different categories of LDAP errors.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryLimit          ErrorCategory = "limit"
	ErrorCategoryProtocol       ErrorCategory = "protocol"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// LDAPError provides enhanced error information for directory operations.
type LDAPError struct {
	Operation string        // The operation that failed
	Category  ErrorCategory // Error category
	LDAPCode  uint16        // LDAP result code
	Message   string        // Human-readable message
	ServerMsg string        // Server-provided message
	DN        string        // Base DN involved in the operation (if applicable)
	Retryable bool          // Whether the error is retryable at the session layer
	Cause     error         // Underlying error
}

func (e *LDAPError) Error() string {
	var parts []string

	if e.LDAPCode > 0 {
		parts = append(parts, fmt.Sprintf("LDAP %s failed (code %d)", e.Operation, e.LDAPCode))
	} else {
		parts = append(parts, fmt.Sprintf("LDAP %s failed", e.Operation))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		parts = append(parts, fmt.Sprintf("server: %s", e.ServerMsg))
	}

	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("DN: %s", e.DN))
	}

	return strings.Join(parts, " - ")
}

func (e *LDAPError) IsRetryable() bool {
	return e.Retryable
}

func (e *LDAPError) Unwrap() error {
	return e.Cause
}

// NewLDAPError creates a new LDAP error for the given operation.
func NewLDAPError(operation string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	ldapErr := &LDAPError{
		Operation: operation,
		Cause:     err,
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		ldapErr.LDAPCode = resultErr.ResultCode
		if resultErr.Err != nil {
			ldapErr.ServerMsg = resultErr.Err.Error()
		}
		ldapErr.Category = categorizeError(resultErr.ResultCode)
		ldapErr.Retryable = isLDAPCodeRetryable(resultErr.ResultCode)
		ldapErr.Message = resultCodeMessage(resultErr.ResultCode)
	} else {
		ldapErr.Category = categorizeGenericError(err)
		ldapErr.Retryable = isGenericErrorRetryable(err)
		ldapErr.Message = err.Error()
	}

	return ldapErr
}

// WrapError wraps an error with operation and DN context.
func WrapError(operation, dn string, err error) error {
	if err == nil {
		return nil
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		if ldapErr.Operation == "" {
			ldapErr.Operation = operation
		}
		if ldapErr.DN == "" {
			ldapErr.DN = dn
		}
		return err
	}

	wrapped := NewLDAPError(operation, err)
	wrapped.DN = dn
	return wrapped
}

func categorizeError(code uint16) ErrorCategory {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired:
		return ErrorCategoryAuthentication

	case ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultUnwillingToPerform:
		return ErrorCategoryPermission

	case ldap.LDAPResultNoSuchObject:
		return ErrorCategoryNotFound

	case ldap.LDAPResultInvalidDNSyntax,
		ldap.LDAPResultFilterError,
		ldap.LDAPResultUndefinedAttributeType,
		ldap.LDAPResultInappropriateMatching:
		return ErrorCategoryValidation

	case ldap.LDAPResultSizeLimitExceeded,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultAdminLimitExceeded:
		return ErrorCategoryLimit

	case ldap.LDAPResultUnavailableCriticalExtension,
		ldap.LDAPResultProtocolError,
		ldap.LDAPResultSortControlMissing,
		ldap.LDAPResultOffsetRangeError,
		ldap.LDAPResultVirtualListViewErrorOrControlError:
		return ErrorCategoryProtocol

	case ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultBusy:
		return ErrorCategoryServer

	case ldap.ErrorNetwork,
		ldap.LDAPResultConnectError:
		return ErrorCategoryConnection

	default:
		return ErrorCategoryUnknown
	}
}

func categorizeGenericError(err error) ErrorCategory {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "network"),
		strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "broken pipe"):
		return ErrorCategoryConnection
	case strings.Contains(errStr, "credentials"),
		strings.Contains(errStr, "authentication"):
		return ErrorCategoryAuthentication
	default:
		return ErrorCategoryUnknown
	}
}

func isLDAPCodeRetryable(code uint16) bool {
	switch code {
	case ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultServerDown,
		ldap.ErrorNetwork,
		ldap.LDAPResultConnectError:
		return true
	default:
		return false
	}
}

func isGenericErrorRetryable(err error) bool {
	errStr := strings.ToLower(err.Error())

	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"network",
		"broken pipe",
		"temporary failure",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

func resultCodeMessage(code uint16) string {
	switch code {
	case ldap.LDAPResultSizeLimitExceeded:
		return "LDAP size limit exceeded"
	case ldap.LDAPResultTimeLimitExceeded:
		return "LDAP time limit exceeded"
	case ldap.LDAPResultAdminLimitExceeded:
		return "Administrative limit exceeded"
	case ldap.LDAPResultReferral:
		return "LDAP referral"
	case ldap.LDAPResultUnavailableCriticalExtension:
		return "Critical extension unavailable"
	case ldap.LDAPResultSortControlMissing:
		return "Server-side sort control required"
	case ldap.LDAPResultOffsetRangeError:
		return "Virtual list view offset out of range"
	case ldap.LDAPResultVirtualListViewErrorOrControlError:
		return "Virtual list view error"
	case ldap.LDAPResultNoSuchObject:
		return "Base DN does not exist"
	case ldap.LDAPResultFilterError:
		return "Invalid search filter"
	case ldap.LDAPResultInsufficientAccessRights:
		return "Insufficient access rights"
	case ldap.LDAPResultInvalidCredentials:
		return "Invalid credentials"
	case ldap.LDAPResultBusy:
		return "Server is busy"
	case ldap.LDAPResultUnavailable:
		return "Server is unavailable"
	case ldap.LDAPResultServerDown, ldap.ErrorNetwork:
		return "Server is down"
	default:
		if text, ok := ldap.LDAPResultCodeMap[code]; ok {
			return text
		}
		return fmt.Sprintf("Unknown LDAP error (code %d)", code)
	}
}

// ldapResultPartialResults is the LDAPv2 partialResults code some directory
// servers still return to mark a referral or subtree boundary.
const ldapResultPartialResults = 9

// IsPartialResultsError reports whether err marks a partial result set at a
// referral boundary rather than a failed search.
func IsPartialResultsError(err error) bool {
	return ldap.IsErrorAnyOf(err, ldapResultPartialResults, ldap.LDAPResultReferral)
}

// IsLimitExceededError reports whether err is a size or time limit result.
func IsLimitExceededError(err error) bool {
	return ldap.IsErrorAnyOf(err, ldap.LDAPResultSizeLimitExceeded, ldap.LDAPResultTimeLimitExceeded)
}

// ProtocolDecodeError reports control bytes that do not match the expected BER structure.
type ProtocolDecodeError struct {
	Control string
	Reason  string
	Cause   error
}

func (e *ProtocolDecodeError) Error() string {
	msg := fmt.Sprintf("failed to decode %s: %s", e.Control, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProtocolDecodeError) Unwrap() error { return e.Cause }

func (e *ProtocolDecodeError) Is(target error) bool { return target == ErrProtocolDecode }

// ConfigurationError reports a paging setup the directory or configuration cannot satisfy.
type ConfigurationError struct {
	Setting string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Setting == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Setting, e.Message)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// UnsupportedOperationError reports a request the connected server cannot serve.
type UnsupportedOperationError struct {
	Operation string
	Message   string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported operation %s: %s", e.Operation, e.Message)
}

func (e *UnsupportedOperationError) Is(target error) bool { return target == ErrUnsupportedOperation }

// MalformedCookieError reports a continuation token that cannot be decoded.
type MalformedCookieError struct {
	Token  string
	Reason string
	Cause  error
}

func (e *MalformedCookieError) Error() string {
	msg := "malformed paged results cookie: " + e.Reason
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *MalformedCookieError) Unwrap() error { return e.Cause }

func (e *MalformedCookieError) Is(target error) bool { return target == ErrMalformedCookie }

// RetryableError indicates an error that can be retried.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError represents dial or bind failures.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) IsRetryable() bool {
	return e.retryable
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{
		message:   message,
		retryable: retryable,
		cause:     cause,
	}
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return isLDAPCodeRetryable(resultErr.ResultCode)
	}

	return isGenericErrorRetryable(err)
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return ldapErr.Category
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return categorizeError(resultErr.ResultCode)
	}

	return categorizeGenericError(err)
}
