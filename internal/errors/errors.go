package apperrors

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	TypeDependency ErrorType = "Dependency" // Missing native tool (e.g. pg_dump)
	TypeConnection ErrorType = "Connection" // Database unreachable or rejected credentials
	TypeAuth       ErrorType = "Auth"       // SSH keys, cloud credentials
	TypeConfig     ErrorType = "Config"     // Invalid flags, missing required params
	TypeResource   ErrorType = "Resource"   // Permission denied, out of space, file not found
	TypeBackup     ErrorType = "Backup"     // Dump tool failed or could not be launched
	TypeRestore    ErrorType = "Restore"    // Restore tool or decompression failed
	TypeStorage    ErrorType = "Storage"    // Cloud or remote storage call failed
	TypeScheduler  ErrorType = "Scheduler"  // Invalid cron or job store failure
	TypeNotFound   ErrorType = "NotFound"   // No implementation registered for a tag
	TypeInternal   ErrorType = "Internal"   // Unexpected internal failure
)

// AppError is a rich error type that provides categorize and hints for users.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Hint    string
	// ExitCode is set when the failure came from an external process.
	ExitCode int
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithExitCode records the exit status of the external tool that caused e.
func (e *AppError) WithExitCode(code int) *AppError {
	e.ExitCode = code
	return e
}

// New creates a new AppError
func New(t ErrorType, msg string, hint string) *AppError {
	return &AppError{
		Type:    t,
		Message: msg,
		Hint:    hint,
	}
}

// Wrap wraps an existing error into an AppError
func Wrap(err error, t ErrorType, msg string, hint string) *AppError {
	return &AppError{
		Type:    t,
		Message: msg,
		Err:     err,
		Hint:    hint,
	}
}

// IsType reports whether any AppError in err's chain has type t.
func IsType(err error, t ErrorType) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Type == t {
			return true
		}
		err = appErr.Err
	}
	return false
}

// ExitCode returns the first external exit code recorded in err's chain.
func ExitCode(err error) (int, bool) {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return 0, false
		}
		if appErr.ExitCode != 0 {
			return appErr.ExitCode, true
		}
		err = appErr.Err
	}
	return 0, false
}

// Hint returns the outermost hint found in err's chain.
func Hint(err error) string {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return ""
		}
		if appErr.Hint != "" {
			return appErr.Hint
		}
		err = appErr.Err
	}
	return ""
}
