package fanout

import (
	"context"
	"runtime/debug"
	"sync/atomic"
)

// Subscription is the ordered handler chain for one (client type, message
// type) pair.
//
// The chain is the static handlers, in construction order, followed by the
// dynamically added handlers, most recently added first. Handlers run one at
// a time; the chain stops as soon as a handler cancels the message or fails.
//
// Subscription is safe for concurrent use. Handlers may add or remove other
// handlers while a dispatch is running; such changes apply from the next
// dispatch on.
type Subscription struct {
	key    Key
	static []Handler
	ledger atomic.Pointer[ledger]
	closed atomic.Bool
}

// NewSubscription creates the subscription for key. Of the given handlers,
// only those with a capability accepting key are kept, in order, as static
// handlers; the rest are ignored.
func NewSubscription(key Key, handlers ...Handler) *Subscription {
	static, _ := partition(key, handlers)
	return &Subscription{key: key, static: static}
}

// partition splits handlers into those accepting k and the rest, preserving
// order in both.
func partition(k Key, handlers []Handler) (matched, rest []Handler) {
	for _, h := range handlers {
		if h != nil && accepts(h, k) {
			matched = append(matched, h)
			continue
		}
		rest = append(rest, h)
	}
	return matched, rest
}

// Key returns the subscription key.
func (s *Subscription) Key() Key { return s.key }

// AddHandler registers h as a dynamic handler. Unregister the returned
// Registration to remove it.
func (s *Subscription) AddHandler(h Handler) (Registration, error) {
	if h == nil {
		return Registration{}, ErrNilHandler
	}
	if s.closed.Load() {
		return Registration{}, ErrSubscriptionClosed
	}
	if !accepts(h, s.key) {
		return Registration{}, &ConfigError{
			Handler:    handlerName(h),
			Capability: Capability{Client: s.key.Client, Message: s.key.Message},
			Err:        ErrIncompatibleHandler,
		}
	}

	l := s.ledger.Load()
	if l == nil {
		l = newLedger()
		if !s.ledger.CompareAndSwap(nil, l) {
			l = s.ledger.Load()
		}
	}

	reg := l.register(h)

	// Close may have run between the check above and register.
	if s.closed.Load() {
		reg.Unregister()
		return Registration{}, ErrSubscriptionClosed
	}
	return reg, nil
}

// Dispatch runs the handler chain for msg.
//
// The chain stops without error when a handler cancels msg. A handler error
// or panic stops the chain and is returned as a *HandlerError. The context is
// checked between handlers.
func (s *Subscription) Dispatch(ctx context.Context, client any, msg Message) error {
	if isNil(msg) {
		return ErrNilMessage
	}
	if s.closed.Load() {
		return ErrSubscriptionClosed
	}

	var dynamic []Handler
	if l := s.ledger.Load(); l != nil {
		dynamic = l.handlers()
	}

	n := len(s.static) + len(dynamic)
	for i := 0; i < n; i++ {
		if msg.Canceled() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var h Handler
		if i < len(s.static) {
			h = s.static[i]
		} else {
			h = dynamic[i-len(s.static)]
		}

		if err := invoke(ctx, h, client, msg); err != nil {
			return &HandlerError{Key: s.key, Handler: handlerName(h), Index: i, Err: err}
		}
	}
	return nil
}

// invoke calls h, converting a panic into a *PanicError.
func invoke(ctx context.Context, h Handler, client any, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h.Handle(ctx, client, msg)
}

// Handlers returns a copy of the current chain in dispatch order.
func (s *Subscription) Handlers() []Handler {
	var dynamic []Handler
	if l := s.ledger.Load(); l != nil {
		dynamic = l.handlers()
	}
	out := make([]Handler, 0, len(s.static)+len(dynamic))
	out = append(out, s.static...)
	return append(out, dynamic...)
}

// Len returns the number of handlers in the chain.
func (s *Subscription) Len() int {
	n := len(s.static)
	if l := s.ledger.Load(); l != nil {
		n += l.len()
	}
	return n
}

// Close releases every dynamic registration and rejects further AddHandler
// calls. Closing twice is a no-op.
func (s *Subscription) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if l := s.ledger.Load(); l != nil {
		l.unregisterAll()
	}
	return nil
}

// Closed reports whether Close was called.
func (s *Subscription) Closed() bool { return s.closed.Load() }
