package fanout

import (
	"errors"
	"fmt"
	"reflect"
)

// Sentinel errors.
var (
	// ErrIncompatibleClient is returned when a handler declares a client type
	// the resolver's client type cannot be assigned to.
	ErrIncompatibleClient = errors.New("incompatible client type")

	// ErrIncompatibleHandler is returned when a handler is added to a
	// subscription none of its capabilities accepts.
	ErrIncompatibleHandler = errors.New("incompatible handler")

	// ErrSubscriptionClosed is returned when adding a handler to a closed
	// subscription.
	ErrSubscriptionClosed = errors.New("subscription closed")

	// ErrNilHandler is returned when a nil handler is provided.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrNilMessage is returned when a nil message is dispatched.
	ErrNilMessage = errors.New("message cannot be nil")

	// ErrHandlerPanic is matched by errors produced from a recovered panic.
	ErrHandlerPanic = errors.New("handler panicked")
)

// ConfigError reports a wiring mistake. It is returned at registration time
// and should never be retried.
type ConfigError struct {
	Handler    string
	Capability Capability
	Err        error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("handler %s declares %s: %v", e.Handler, e.Capability, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// HandlerError wraps an error returned by a handler during dispatch.
type HandlerError struct {
	// Key is the subscription that was dispatching.
	Key Key

	// Handler names the failing handler.
	Handler string

	// Index is the handler's position in the dispatch chain.
	Index int

	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s (#%d) for %v: %v", e.Handler, e.Index, e.Key.Message, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// PanicError carries the value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v: %v", ErrHandlerPanic, e.Value)
}

// Is matches ErrHandlerPanic.
func (e *PanicError) Is(target error) bool { return target == ErrHandlerPanic }

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// ParseError wraps a parser failure.
type ParseError struct {
	Parser string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse failed for parser %s: %v", e.Parser, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// unmarshalError wraps unmarshal errors so we can identify them.
type unmarshalError struct {
	typ reflect.Type
	err error
}

func (e *unmarshalError) Error() string { return fmt.Sprintf("unmarshal %v: %v", e.typ, e.err) }
func (e *unmarshalError) Unwrap() error { return e.err }

// validationError wraps validation errors so we can identify them.
type validationError struct {
	typ reflect.Type
	err error
}

func (e *validationError) Error() string { return fmt.Sprintf("validate %v: %v", e.typ, e.err) }
func (e *validationError) Unwrap() error { return e.err }

// IsUnmarshalError reports whether err came from decoding a payload.
func IsUnmarshalError(err error) bool {
	var uerr *unmarshalError
	return errors.As(err, &uerr)
}

// IsValidationError reports whether err came from payload validation.
func IsValidationError(err error) bool {
	var verr *validationError
	return errors.As(err, &verr)
}
