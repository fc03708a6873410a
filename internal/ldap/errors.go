package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-multierror"
)

// ErrorCategory represents different categories of LDAP errors.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// ErrNoRandomSource is returned when no cryptographically strong random source is available.
var ErrNoRandomSource = errors.New("no cryptographically strong random source available")

// LDAPError provides enhanced error information for LDAP operations.
type LDAPError struct {
	Operation string        // The operation that failed
	Category  ErrorCategory // Error category
	LDAPCode  uint16        // LDAP result code
	Message   string        // Human-readable message
	ServerMsg string        // Server-provided message
	DN        string        // DN involved in the operation (if applicable)
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

func (e *LDAPError) Unwrap() error {
	return e.Cause
}

// NewLDAPError creates a new LDAP error.
func NewLDAPError(operation string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	ldapErr := &LDAPError{
		Operation: operation,
		Cause:     err,
	}

	var connErr *ConnectionError
	var resultErr *ldap.Error
	switch {
	case errors.As(err, &connErr):
		ldapErr.Category = ErrorCategoryConnection
		ldapErr.Message = connErr.Error()
	case errors.As(err, &resultErr):
		ldapErr.LDAPCode = resultErr.ResultCode
		if resultErr.Err != nil {
			ldapErr.ServerMsg = resultErr.Err.Error()
		}
		ldapErr.DN = resultErr.MatchedDN
		ldapErr.Category = categorizeError(resultErr.ResultCode)
		ldapErr.Message = resultCodeMessage(resultErr.ResultCode)
	default:
		ldapErr.Category = categorizeGenericError(err)
		ldapErr.Message = err.Error()
	}

	return ldapErr
}

var resultCategories = map[uint16]ErrorCategory{
	ldap.LDAPResultInvalidCredentials:          ErrorCategoryAuthentication,
	ldap.LDAPResultInappropriateAuthentication: ErrorCategoryAuthentication,
	ldap.LDAPResultStrongAuthRequired:          ErrorCategoryAuthentication,
	ldap.ErrorEmptyPassword:                    ErrorCategoryAuthentication,

	ldap.LDAPResultInsufficientAccessRights: ErrorCategoryPermission,
	ldap.LDAPResultUnwillingToPerform:       ErrorCategoryPermission,

	ldap.LDAPResultNoSuchObject:           ErrorCategoryNotFound,
	ldap.LDAPResultNoSuchAttribute:        ErrorCategoryNotFound,
	ldap.LDAPResultUndefinedAttributeType: ErrorCategoryNotFound,

	ldap.LDAPResultInvalidAttributeSyntax: ErrorCategoryValidation,
	ldap.LDAPResultConstraintViolation:    ErrorCategoryValidation,
	ldap.LDAPResultInvalidDNSyntax:        ErrorCategoryValidation,
	ldap.LDAPResultFilterError:            ErrorCategoryValidation,
	ldap.ErrorFilterCompile:               ErrorCategoryValidation,
	ldap.ErrorFilterDecompile:             ErrorCategoryValidation,

	ldap.LDAPResultServerDown:         ErrorCategoryServer,
	ldap.LDAPResultUnavailable:        ErrorCategoryServer,
	ldap.LDAPResultBusy:               ErrorCategoryServer,
	ldap.LDAPResultTimeLimitExceeded:  ErrorCategoryServer,
	ldap.LDAPResultAdminLimitExceeded: ErrorCategoryServer,

	ldap.LDAPResultConnectError:  ErrorCategoryConnection,
	ldap.LDAPResultProtocolError: ErrorCategoryConnection,
	ldap.LDAPResultTimeout:       ErrorCategoryConnection,
	ldap.ErrorNetwork:            ErrorCategoryConnection,
}

func categorizeError(code uint16) ErrorCategory {
	if c, ok := resultCategories[code]; ok {
		return c
	}
	return ErrorCategoryUnknown
}

// categorizeGenericError guesses a category from the text of errors that
// carry no result code.
func categorizeGenericError(err error) ErrorCategory {
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"connection", "network", "timeout", "broken pipe"} {
		if strings.Contains(msg, hint) {
			return ErrorCategoryConnection
		}
	}
	return ErrorCategoryUnknown
}

func resultCodeMessage(code uint16) string {
	if msg, ok := ldap.LDAPResultCodeMap[code]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown result code %d", code)
}

// WrapError wraps an error with operation context.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		if ldapErr.Operation == "" {
			ldapErr.Operation = operation
		}
		return err
	}

	return NewLDAPError(operation, err)
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

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return ErrorCategoryConnection
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return categorizeError(resultErr.ResultCode)
	}

	return categorizeGenericError(err)
}

// IsConnectionError reports whether err means the directory could not be reached or talked to.
func IsConnectionError(err error) bool {
	switch GetErrorCategory(err) {
	case ErrorCategoryConnection, ErrorCategoryServer:
		return true
	}
	return false
}

// IsAuthenticationError checks if an error indicates an authentication problem.
func IsAuthenticationError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryAuthentication
}

// IsBindRejection reports whether a bind error means the directory refused the
// credentials, as opposed to a fault talking to it.
func IsBindRejection(err error) bool {
	if err == nil {
		return false
	}
	if IsAuthenticationError(err) {
		return true
	}
	switch ResultCode(err) {
	case ldap.LDAPResultUnwillingToPerform, ldap.LDAPResultInvalidDNSyntax:
		return true
	}
	return false
}

// ResultCode extracts the LDAP result code from err, or 0 if there is none.
func ResultCode(err error) uint16 {
	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) && ldapErr.LDAPCode != 0 {
		return ldapErr.LDAPCode
	}
	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return resultErr.ResultCode
	}
	return 0
}

// ConfigError reports invalid or missing configuration. It is never recovered from.
type ConfigError struct {
	Errors *multierror.Error
}

func (e *ConfigError) Error() string {
	if e.Errors == nil {
		return "invalid configuration"
	}
	return "invalid configuration: " + strings.TrimSpace(e.Errors.Error())
}

func (e *ConfigError) Unwrap() error {
	if e.Errors == nil {
		return nil
	}
	return e.Errors.ErrorOrNil()
}

// NewConfigError returns nil when problems is empty.
func NewConfigError(problems ...error) error {
	var merr *multierror.Error
	for _, p := range problems {
		if p != nil {
			merr = multierror.Append(merr, p)
		}
	}
	if merr.ErrorOrNil() == nil {
		return nil
	}
	return &ConfigError{Errors: merr}
}
