package fanout

import (
	"context"
	"fmt"
	"reflect"
)

// Variance controls how a handler's declared message type is matched against
// a subscription's message type.
type Variance int

const (
	// Invariant handlers only attach to the exact message type they declare.
	Invariant Variance = iota

	// Contravariant handlers attach to every message type assignable to the
	// declared one. Declare an interface type to receive a family of messages.
	Contravariant
)

// String returns the variance name.
func (v Variance) String() string {
	switch v {
	case Invariant:
		return "invariant"
	case Contravariant:
		return "contravariant"
	default:
		return "unknown"
	}
}

// Key identifies a Subscription: the client type the resolver was configured
// for and one concrete message type.
type Key struct {
	Client  reflect.Type
	Message reflect.Type
}

// KeyOf returns the subscription key for client type C and message type M.
func KeyOf[C any, M Message]() Key {
	return Key{Client: TypeOf[C](), Message: TypeOf[M]()}
}

// String returns "(client, message)".
func (k Key) String() string {
	return fmt.Sprintf("(%v, %v)", k.Client, k.Message)
}

// Capability is one (client, message) pair a handler accepts.
//
// Clients always match contravariantly: a handler declaring client type X
// accepts any key whose client type is assignable to X. Messages match
// according to Variance.
type Capability struct {
	Client   reflect.Type
	Message  reflect.Type
	Variance Variance
}

// Accepts reports whether a handler with this capability may be attached to
// the subscription identified by k.
func (c Capability) Accepts(k Key) bool {
	if c.Client == nil || c.Message == nil || k.Client == nil || k.Message == nil {
		return false
	}
	if !k.Client.AssignableTo(c.Client) {
		return false
	}
	if c.Variance == Contravariant {
		return k.Message.AssignableTo(c.Message)
	}
	return k.Message == c.Message
}

// String returns a readable form for error messages.
func (c Capability) String() string {
	return fmt.Sprintf("%s(%v, %v)", c.Variance, c.Client, c.Message)
}

// acceptsValue is Accepts evaluated against runtime values.
func (c Capability) acceptsValue(client any, msg Message) bool {
	if msg == nil || c.Client == nil || c.Message == nil {
		return false
	}
	mt := reflect.TypeOf(msg)
	if c.Variance == Contravariant {
		if !mt.AssignableTo(c.Message) {
			return false
		}
	} else if mt != c.Message {
		return false
	}
	if client == nil {
		return c.Client.Kind() == reflect.Interface
	}
	return reflect.TypeOf(client).AssignableTo(c.Client)
}

// Handler handles messages for the capabilities it declares.
//
// Most handlers are built with HandlerFunc, ContravariantFunc or Adapt rather
// than implemented directly. A Subscription only ever calls Handle with a
// client and message accepted by one of the declared capabilities.
type Handler interface {
	// Capabilities returns the (client, message) pairs the handler accepts.
	Capabilities() []Capability

	// Handle processes msg received on client. Returning an error aborts the
	// rest of the chain for this message.
	Handle(ctx context.Context, client any, msg Message) error
}

// Named is implemented by handlers and parsers that want a readable name in
// errors and hooks.
type Named interface {
	Name() string
}

// Typed handles messages of type M received on clients of type C. Implement
// it on a struct and attach it with Adapt:
//
//	type WelcomeHandler struct{ greeting string }
//
//	func (h *WelcomeHandler) HandleMessage(ctx context.Context, c *Bot, m *MemberJoined) error {
//	    return c.Send(ctx, m.GroupID, h.greeting)
//	}
type Typed[C any, M Message] interface {
	HandleMessage(ctx context.Context, client C, msg M) error
}

// Adapt turns a Typed handler into an invariant Handler.
func Adapt[C any, M Message](h Typed[C, M]) Handler {
	return &typedHandler[C, M]{fn: h.HandleMessage, variance: Invariant, name: fmt.Sprintf("%T", h)}
}

// HandlerFunc builds an invariant Handler from a function. Use for handlers
// that don't need a struct:
//
//	fanout.HandlerFunc(func(ctx context.Context, c *Bot, m *Ping) error {
//	    return c.Pong(ctx, m.Seq)
//	})
func HandlerFunc[C any, M Message](fn func(ctx context.Context, client C, msg M) error) Handler {
	return &typedHandler[C, M]{fn: fn, variance: Invariant}
}

// ContravariantFunc builds a Handler receiving every message assignable to M.
// M is normally an interface type shared by several message structs.
func ContravariantFunc[C any, M Message](fn func(ctx context.Context, client C, msg M) error) Handler {
	return &typedHandler[C, M]{fn: fn, variance: Contravariant}
}

type typedHandler[C any, M Message] struct {
	fn       func(ctx context.Context, client C, msg M) error
	variance Variance
	name     string
}

func (h *typedHandler[C, M]) Capabilities() []Capability {
	return []Capability{{Client: TypeOf[C](), Message: TypeOf[M](), Variance: h.variance}}
}

func (h *typedHandler[C, M]) Handle(ctx context.Context, client any, msg Message) error {
	var c C
	if client != nil {
		var ok bool
		if c, ok = client.(C); !ok {
			return fmt.Errorf("%w: client %T is not %v", ErrIncompatibleHandler, client, TypeOf[C]())
		}
	}
	m, ok := msg.(M)
	if !ok {
		return fmt.Errorf("%w: message %T is not %v", ErrIncompatibleHandler, msg, TypeOf[M]())
	}
	return h.fn(ctx, c, m)
}

func (h *typedHandler[C, M]) Name() string {
	if h.name != "" {
		return h.name
	}
	return fmt.Sprintf("func(%v, %v)", TypeOf[C](), TypeOf[M]())
}

// Bundle groups the handlers of one plugin into a single Handler. The bundle
// declares the union of its members' capabilities; each call is routed to the
// first member, in argument order, accepting the runtime client and message.
//
// Pass a bundle to Resolver.AddPlugin to attach the whole plugin at once.
func Bundle(name string, handlers ...Handler) Handler {
	b := &bundle{name: name, members: handlers}
	for _, h := range handlers {
		b.caps = append(b.caps, h.Capabilities()...)
	}
	return b
}

type bundle struct {
	name    string
	members []Handler
	caps    []Capability
}

func (b *bundle) Name() string { return b.name }

func (b *bundle) Capabilities() []Capability { return b.caps }

func (b *bundle) Handle(ctx context.Context, client any, msg Message) error {
	for _, h := range b.members {
		for _, c := range h.Capabilities() {
			if c.acceptsValue(client, msg) {
				return h.Handle(ctx, client, msg)
			}
		}
	}
	return fmt.Errorf("%w: bundle %s has no member for %T", ErrIncompatibleHandler, b.name, msg)
}

// handlerName returns a readable identifier for h.
func handlerName(h Handler) string {
	if n, ok := h.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}

// accepts reports whether any capability of h accepts k.
func accepts(h Handler, k Key) bool {
	for _, c := range h.Capabilities() {
		if c.Accepts(k) {
			return true
		}
	}
	return false
}
