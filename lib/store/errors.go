package store

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/layerkv/lib/db"
	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// Is matches errors by code, so errors.Is(err, store.ErrNotFound) holds for
// every *Error with RetCNotFound regardless of the message. Exhausted
// iterators also match query.ErrNoSuchElement.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return e.Code == RetCNoSuchElement && target == query.ErrNoSuchElement
}

// NewError creates a new store error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new store error with a formatted message.
func Errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Sentinel errors for errors.Is checks. Only the code is compared.
var (
	ErrInternal             = NewError(RetCInternalError, "internal error")
	ErrUnsupportedOperation = NewError(RetCUnsupportedOperation, "unsupported operation")
	ErrInvalidOperation     = NewError(RetCInvalidOperation, "invalid operation")
	ErrNotFound             = NewError(RetCNotFound, "not found")
	ErrInvalidArgument      = NewError(RetCInvalidArgument, "invalid argument")
	ErrAllocationMismatch   = NewError(RetCAllocationMismatch, "allocation mismatch")
	ErrTooManyResults       = NewError(RetCTooManyResults, "too many results")
	ErrNoSuchElement        = NewError(RetCNoSuchElement, "no such element")
)

// CodeOf maps an error to the return code that best describes it.
// Errors of the model packages are classified, everything else is internal.
func CodeOf(err error) RetCode {
	var se *Error
	switch {
	case err == nil:
		return RetCSuccess
	case errors.As(err, &se):
		return se.Code
	case errors.Is(err, query.ErrNoSuchElement):
		return RetCNoSuchElement
	case errors.Is(err, entity.ErrInvalidKey),
		errors.Is(err, entity.ErrUnsupportedType),
		errors.Is(err, query.ErrInvalidQuery),
		errors.Is(err, query.ErrInvalidCursor):
		return RetCInvalidArgument
	case errors.Is(err, db.ErrClosed):
		return RetCInvalidOperation
	default:
		return RetCInternalError
	}
}

// AsError converts any error into a *Error, keeping the message.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return NewError(CodeOf(err), err.Error())
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported (by the database or in this context).
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCNotFound                            // 4: No entity for a single-key read.
	RetCInvalidArgument                     // 5: Malformed key, value, query or a put with an incomplete key.
	RetCAllocationMismatch                  // 6: Allocated ids do not match the ids needed (internal invariant break).
	RetCTooManyResults                      // 7: A single-result query yielded more than one result.
	RetCNoSuchElement                       // 8: Next on an exhausted iterator.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCNotFound:
		return "NotFound"
	case RetCInvalidArgument:
		return "InvalidArgument"
	case RetCAllocationMismatch:
		return "AllocationMismatch"
	case RetCTooManyResults:
		return "TooManyResults"
	case RetCNoSuchElement:
		return "NoSuchElement"
	default:
		return "Unknown"
	}
}
