// Package errors provides the structured error taxonomy shared by the loader,
// the adapter and the output collaborator. Every failure crossing the adapter
// boundary is an *Error, and Status maps it onto the integer status contract
// expected by the host.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConfig represents bad input parameters detected before any vendor call
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeLibraryLoad represents a native library that could not be loaded
	ErrorTypeLibraryLoad ErrorType = "library_load"
	// ErrorTypeSymbolResolution represents a missing export in a loaded library
	ErrorTypeSymbolResolution ErrorType = "symbol_resolution"
	// ErrorTypeVendorCall represents a non-success result from a vendor entry point
	ErrorTypeVendorCall ErrorType = "vendor_call"
	// ErrorTypeState represents an operation invalid for the current session state
	ErrorTypeState ErrorType = "state"
	// ErrorTypeConflictingInstance represents a second instance of a singleton vendor
	ErrorTypeConflictingInstance ErrorType = "conflicting_instance"
	// ErrorTypeUnsupportedPlatform represents a vendor unavailable on this platform
	ErrorTypeUnsupportedPlatform ErrorType = "unsupported_platform"
	// ErrorTypeTimeout represents a handshake that was not confirmed in time
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeIO represents output file or socket errors
	ErrorTypeIO ErrorType = "io"
)

// StatusCode is the integer result reported to the host for every lifecycle call.
type StatusCode int

// Host status codes. The numbering is part of the host contract.
const (
	StatusOK                     StatusCode = 0
	StatusPortAlreadyOpen        StatusCode = 1
	StatusUnableToOpenPort       StatusCode = 2
	StatusSetPortError           StatusCode = 3
	StatusBoardWriteError        StatusCode = 4
	StatusIncomingMsgError       StatusCode = 5
	StatusInitialMsgError        StatusCode = 6
	StatusBoardNotReady          StatusCode = 7
	StatusStreamAlreadyRunning   StatusCode = 8
	StatusInvalidBufferSize      StatusCode = 9
	StatusStreamThreadError      StatusCode = 10
	StatusStreamThreadNotRunning StatusCode = 11
	StatusEmptyBuffer            StatusCode = 12
	StatusInvalidArguments       StatusCode = 13
	StatusUnsupportedBoard       StatusCode = 14
	StatusBoardNotCreated        StatusCode = 15
	StatusAnotherBoardIsCreated  StatusCode = 16
	StatusGeneralError           StatusCode = 17
	StatusSyncTimeout            StatusCode = 18
)

var statusNames = map[StatusCode]string{
	StatusOK:                     "STATUS_OK",
	StatusPortAlreadyOpen:        "PORT_ALREADY_OPEN_ERROR",
	StatusUnableToOpenPort:       "UNABLE_TO_OPEN_PORT_ERROR",
	StatusSetPortError:           "SET_PORT_ERROR",
	StatusBoardWriteError:        "BOARD_WRITE_ERROR",
	StatusIncomingMsgError:       "INCOMMING_MSG_ERROR",
	StatusInitialMsgError:        "INITIAL_MSG_ERROR",
	StatusBoardNotReady:          "BOARD_NOT_READY_ERROR",
	StatusStreamAlreadyRunning:   "STREAM_ALREADY_RUN_ERROR",
	StatusInvalidBufferSize:      "INVALID_BUFFER_SIZE_ERROR",
	StatusStreamThreadError:      "STREAM_THREAD_ERROR",
	StatusStreamThreadNotRunning: "STREAM_THREAD_IS_NOT_RUNNING",
	StatusEmptyBuffer:            "EMPTY_BUFFER_ERROR",
	StatusInvalidArguments:       "INVALID_ARGUMENTS_ERROR",
	StatusUnsupportedBoard:       "UNSUPPORTED_BOARD_ERROR",
	StatusBoardNotCreated:        "BOARD_NOT_CREATED_ERROR",
	StatusAnotherBoardIsCreated:  "ANOTHER_BOARD_IS_CREATED_ERROR",
	StatusGeneralError:           "GENERAL_ERROR",
	StatusSyncTimeout:            "SYNC_TIMEOUT_ERROR",
}

// String returns the host-facing name of the status code
func (c StatusCode) String() string {
	if name, ok := statusNames[c]; ok {
		return name
	}
	return fmt.Sprintf("STATUS_%d", int(c))
}

// defaultStatus is used when an error does not carry an explicit code
var defaultStatus = map[ErrorType]StatusCode{
	ErrorTypeInternal:            StatusGeneralError,
	ErrorTypeConfig:              StatusInvalidArguments,
	ErrorTypeLibraryLoad:         StatusGeneralError,
	ErrorTypeSymbolResolution:    StatusGeneralError,
	ErrorTypeVendorCall:          StatusBoardWriteError,
	ErrorTypeState:               StatusBoardNotCreated,
	ErrorTypeConflictingInstance: StatusAnotherBoardIsCreated,
	ErrorTypeUnsupportedPlatform: StatusUnsupportedBoard,
	ErrorTypeTimeout:             StatusSyncTimeout,
	ErrorTypeIO:                  StatusGeneralError,
}

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Code    StatusCode
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCode overrides the status code reported to the host
func (e *Error) WithCode(code StatusCode) *Error {
	e.Code = code
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Code:    defaultStatus[errType],
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Code:    defaultStatus[errType],
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Code:    defaultStatus[errType],
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Code:    defaultStatus[errType],
		Stack:   captureStack(2),
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// Status converts err into the host status code. nil maps to StatusOK and
// foreign errors map to StatusGeneralError.
func Status(err error) StatusCode {
	if err == nil {
		return StatusOK
	}
	var e *Error
	if !errors.As(err, &e) {
		return StatusGeneralError
	}
	return e.Code
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
