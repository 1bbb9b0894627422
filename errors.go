package formbase

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConversion ErrorType = "conversion"
	ErrorTypeExecution  ErrorType = "execution"
	ErrorTypeBackup     ErrorType = "backup"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeInternal   ErrorType = "internal"
)

// Error codes for the migration engine
const (
	ErrCodeSchemaGenerationFailed = "SCHEMA_GENERATION_FAILED"
	ErrCodeDuplicateFieldID       = "DUPLICATE_FIELD_ID"
	ErrCodeDuplicateColumnName    = "DUPLICATE_COLUMN_NAME"
	ErrCodeIncompatibleConversion = "INCOMPATIBLE_TYPE_CONVERSION"
	ErrCodeDDLExecutionFailed     = "DDL_EXECUTION_FAILED"
	ErrCodeBackupFailed           = "BACKUP_FAILED"
	ErrCodeBackupNotFound         = "BACKUP_NOT_FOUND"
	ErrCodeRecordNotFound         = "MIGRATION_RECORD_NOT_FOUND"
	ErrCodeBindingNotFound        = "TABLE_BINDING_NOT_FOUND"
	ErrCodeBindingAlreadyExists   = "TABLE_BINDING_ALREADY_EXISTS"
	ErrCodeRestorePartial         = "RESTORE_PARTIAL"
	ErrCodeQueueClosed            = "MIGRATION_QUEUE_CLOSED"
	ErrCodeJobCancelled           = "MIGRATION_JOB_CANCELLED"
	ErrCodeUnsupportedOperation   = "UNSUPPORTED_OPERATION"
	ErrCodeInvalidArgument        = "INVALID_ARGUMENT"
	ErrCodeInternalError          = "INTERNAL_ERROR"
)

// Error is the unified error type of the migration engine. Identifier and
// translation failures never surface through it: that path always degrades
// to a fallback instead of erroring.
type Error struct {
	Type      ErrorType      `json:"type"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	TableName string         `json:"tableName,omitempty"`
	Column    string         `json:"column,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s:%s]", e.Type, e.Code)
	if e.TableName != "" {
		msg += " table " + e.TableName
		if e.Column != "" {
			msg += "." + e.Column
		}
	}
	msg += ": " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCause attaches an underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithTable attaches table context.
func (e *Error) WithTable(table string) *Error {
	e.TableName = table
	return e
}

// WithColumn attaches column context.
func (e *Error) WithColumn(column string) *Error {
	e.Column = column
	return e
}

// WithDetail adds a single detail entry.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewError creates a new engine error.
func NewError(errorType ErrorType, code, message string) *Error {
	return &Error{
		Type:    errorType,
		Code:    code,
		Message: message,
	}
}

// NewSchemaGenerationError reports an invalid field list. Raised before any
// DDL is attempted.
func NewSchemaGenerationError(code, message string) *Error {
	return NewError(ErrorTypeValidation, code, message)
}

// NewIncompatibleConversionError reports a CHANGE_TYPE whose existing data
// cannot be converted to the target type. No DDL has been attempted.
func NewIncompatibleConversionError(column string, oldType, newType LogicalType, message string) *Error {
	return &Error{
		Type:    ErrorTypeConversion,
		Code:    ErrCodeIncompatibleConversion,
		Message: message,
		Column:  column,
		Details: map[string]any{
			"oldType": string(oldType),
			"newType": string(newType),
		},
	}
}

// NewDDLExecutionError reports a rejected DDL statement. The transaction
// has been rolled back and a failure audit record written.
func NewDDLExecutionError(table, message string, cause error) *Error {
	return &Error{
		Type:      ErrorTypeExecution,
		Code:      ErrCodeDDLExecutionFailed,
		Message:   message,
		TableName: table,
		Cause:     cause,
	}
}

// NewBackupError reports a failed column snapshot. Destructive operations
// must not proceed past it unless backup was explicitly disabled.
func NewBackupError(table, column string, cause error) *Error {
	return &Error{
		Type:      ErrorTypeBackup,
		Code:      ErrCodeBackupFailed,
		Message:   "column snapshot failed",
		TableName: table,
		Column:    column,
		Cause:     cause,
	}
}

// NewBackupNotFoundError reports a missing backup; a swept backup id from
// an old audit record lands here.
func NewBackupNotFoundError(backupID string) *Error {
	return NewError(ErrorTypeNotFound, ErrCodeBackupNotFound,
		fmt.Sprintf("backup %s not found (it may have passed its retention horizon)", backupID))
}

// NewBindingNotFoundError reports an owner with no table binding.
func NewBindingNotFoundError(ownerID string) *Error {
	return NewError(ErrorTypeNotFound, ErrCodeBindingNotFound,
		fmt.Sprintf("no table binding for owner %s", ownerID))
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
	}
}

// IsErrorCode checks whether err is an engine error carrying the code.
func IsErrorCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsNotFound checks whether err is a not-found engine error.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == ErrorTypeNotFound
	}
	return false
}

// IsValidationError checks whether err is a validation engine error.
func IsValidationError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == ErrorTypeValidation
	}
	return false
}

// IsConversionError checks whether err is a type-conversion engine error.
func IsConversionError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == ErrorTypeConversion
	}
	return false
}
