package fanout

import (
	"encoding/json"
	"reflect"
)

// Message is one unit of dispatch. A handler stops the rest of the chain for
// the current dispatch by calling Cancel.
//
// A message is owned by the dispatch call it was created for and must not be
// reused across dispatches.
type Message interface {
	Canceled() bool
	Cancel()
}

// Base implements Message and is meant to be embedded:
//
//	type Ping struct {
//	    fanout.Base
//	    Seq int
//	}
type Base struct {
	canceled bool
}

// Canceled reports whether a handler canceled the message.
func (b *Base) Canceled() bool { return b.canceled }

// Cancel stops the remaining handlers of the current dispatch.
func (b *Base) Cancel() { b.canceled = true }

// SetCanceled sets the cancel flag explicitly.
func (b *Base) SetCanceled(v bool) { b.canceled = v }

// RawCarrier is implemented by messages that keep the payload they were
// parsed from.
type RawCarrier interface {
	Message
	RawData() []byte
	SetRawData(raw []byte)
}

// Envelope is a Base that also carries its raw payload. JSONParser fills Raw
// for any message embedding Envelope.
type Envelope struct {
	Base
	Raw json.RawMessage `json:"-"`
}

// RawData returns the payload the message was parsed from.
func (e *Envelope) RawData() []byte { return e.Raw }

// SetRawData stores the payload the message was parsed from.
func (e *Envelope) SetRawData(raw []byte) { e.Raw = raw }

// TypeOf returns the type identifier used for routing T.
//
//	fanout.TypeOf[*GroupMessage]()
func TypeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// isNil reports whether msg is nil or a nil pointer held in the interface.
func isNil(msg Message) bool {
	if msg == nil {
		return true
	}
	v := reflect.ValueOf(msg)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

var (
	_ Message    = (*Base)(nil)
	_ RawCarrier = (*Envelope)(nil)
)
