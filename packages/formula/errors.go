package formula

import "fmt"

// ErrorKind classifies user-visible formula errors. none of these are
// fatal; they are written into the owning model in place of a value.
type ErrorKind uint8

const (
	SyntaxError            ErrorKind = 1 // display text does not parse
	UnresolvedNameError    ErrorKind = 2 // symbol has no target
	CircularReferenceError ErrorKind = 3 // formula takes part in a cycle
	ArgumentError          ErrorKind = 4 // wrong arity or non-literal argument
	LookupTargetError      ErrorKind = 5 // lookup dataset or attribute missing
	RuntimeEvaluationError ErrorKind = 6 // all other evaluation failures
)

// ErrorKindNames maps error kinds to their names
var ErrorKindNames = map[ErrorKind]string{
	SyntaxError:            "SyntaxError",
	UnresolvedNameError:    "UnresolvedNameError",
	CircularReferenceError: "CircularReferenceError",
	ArgumentError:          "ArgumentError",
	LookupTargetError:      "LookupTargetError",
	RuntimeEvaluationError: "RuntimeEvaluationError",
}

func (k ErrorKind) String() string {
	if name, ok := ErrorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// Error preserves the error kind for hosts and tests while Message is what
// the user sees.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

func newErrorf(kind ErrorKind, format string, args ...any) *Error {
	return NewError(kind, fmt.Sprintf(format, args...))
}

// asFormulaError converts any evaluation failure into a formula error
func asFormulaError(err error) *Error {
	if err == nil {
		return nil
	}
	if fe, ok := err.(*Error); ok {
		return fe
	}
	return NewError(RuntimeEvaluationError, err.Error())
}

// AppErrorCode represents gRPC-style error codes for host misuse. these are
// programming contract violations, never user input problems.
type AppErrorCode int

const (
	// OK indicates the operation completed successfully.
	OK AppErrorCode = 0

	// InvalidArgument indicates the host passed an invalid argument, such as
	// missing extra metadata.
	InvalidArgument AppErrorCode = 3

	// NotFound means some requested entity (formula, adapter, dataset) was
	// not found.
	NotFound AppErrorCode = 5

	// AlreadyExists means an adapter of the same type is already registered.
	AlreadyExists AppErrorCode = 6

	// FailedPrecondition indicates the manager is not in a state required
	// for the operation.
	FailedPrecondition AppErrorCode = 9

	// ResourceExhausted means a recalculation cascade went deeper than the
	// configured limit.
	ResourceExhausted AppErrorCode = 8
)

// AppError represents errors at the application level (not formula errors)
type AppError struct {
	Code    AppErrorCode
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// NewApplicationError creates a new application error
func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}
