package fanout

import (
	"errors"
	"reflect"
	"sync"
)

// ResolverOption configures a Resolver.
type ResolverOption func(*resolverOptions)

type resolverOptions struct {
	messageTypes []reflect.Type
	handlers     []Handler
}

// WithMessageTypes declares message types that get a subscription. Types
// named by invariant static handlers are declared automatically; declare
// additional types when only contravariant or dynamic handlers target them.
//
//	fanout.WithMessageTypes(fanout.TypeOf[*Ping](), fanout.TypeOf[*Pong]())
func WithMessageTypes(types ...reflect.Type) ResolverOption {
	return func(o *resolverOptions) {
		o.messageTypes = append(o.messageTypes, types...)
	}
}

// WithStaticHandlers supplies the handlers bound to subscriptions for their
// whole lifetime. Each subscription keeps, in order, the ones accepting it.
func WithStaticHandlers(handlers ...Handler) ResolverOption {
	return func(o *resolverOptions) {
		o.handlers = append(o.handlers, handlers...)
	}
}

// Resolver owns the subscriptions for client type C, one per message type.
//
// Subscriptions are created lazily on first resolution and are singletons
// within a Resolver. Resolver is safe for concurrent use.
type Resolver[C any] struct {
	client reflect.Type
	static []Handler

	mu       sync.Mutex
	declared []reflect.Type
	known    map[reflect.Type]struct{}
	closed   bool

	// cache maps message type to *Subscription; a nil value caches a miss.
	cache sync.Map
}

// NewResolver creates a Resolver for client type C. It returns a
// *ConfigError when a static handler declares a client type C is not
// assignable to.
func NewResolver[C any](opts ...ResolverOption) (*Resolver[C], error) {
	var o resolverOptions
	for _, opt := range opts {
		opt(&o)
	}

	r := &Resolver[C]{
		client: TypeOf[C](),
		known:  make(map[reflect.Type]struct{}),
	}

	for _, h := range o.handlers {
		if h == nil {
			return nil, ErrNilHandler
		}
		if err := r.checkClient(h); err != nil {
			return nil, err
		}
		r.static = append(r.static, h)
		for _, c := range h.Capabilities() {
			if c.Variance == Invariant {
				r.declare(c.Message)
			}
		}
	}
	for _, t := range o.messageTypes {
		r.declare(t)
	}
	return r, nil
}

// ClientType returns the client type the resolver was configured for.
func (r *Resolver[C]) ClientType() reflect.Type { return r.client }

// checkClient verifies every capability of h can receive a C.
func (r *Resolver[C]) checkClient(h Handler) error {
	for _, c := range h.Capabilities() {
		if c.Client == nil || !r.client.AssignableTo(c.Client) {
			return &ConfigError{Handler: handlerName(h), Capability: c, Err: ErrIncompatibleClient}
		}
	}
	return nil
}

// declare records t as a routable message type. Caller holds mu or is the
// constructor.
func (r *Resolver[C]) declare(t reflect.Type) {
	if t == nil {
		return
	}
	if _, ok := r.known[t]; ok {
		return
	}
	r.known[t] = struct{}{}
	r.declared = append(r.declared, t)
	if v, ok := r.cache.Load(t); ok && v.(*Subscription) == nil {
		r.cache.Delete(t)
	}
}

// ResolveByMessage returns the subscription for message type t, or nil when
// t was never declared.
func (r *Resolver[C]) ResolveByMessage(t reflect.Type) *Subscription {
	if v, ok := r.cache.Load(t); ok {
		return v.(*Subscription)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(t)
}

// resolveLocked is ResolveByMessage with mu held.
func (r *Resolver[C]) resolveLocked(t reflect.Type) *Subscription {
	if v, ok := r.cache.Load(t); ok {
		if s := v.(*Subscription); s != nil {
			return s
		}
	}
	if _, ok := r.known[t]; !ok || r.closed {
		r.cache.Store(t, (*Subscription)(nil))
		return nil
	}
	s := NewSubscription(Key{Client: r.client, Message: t}, r.static...)
	r.cache.Store(t, s)
	return s
}

// ResolveByHandler returns every subscription h should be attached to.
//
// An invariant capability resolves to the subscription of its message type,
// declaring the type if needed. A contravariant capability resolves to every
// declared type assignable to its message type. A capability whose client
// type cannot receive a C is a configuration error. After Close it returns
// ErrSubscriptionClosed.
func (r *Resolver[C]) ResolveByHandler(h Handler) ([]*Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if err := r.checkClient(h); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrSubscriptionClosed
	}

	var subs []*Subscription
	seen := make(map[*Subscription]struct{})
	add := func(s *Subscription) {
		if s == nil {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		subs = append(subs, s)
	}

	for _, c := range h.Capabilities() {
		if c.Variance == Invariant {
			r.declare(c.Message)
			add(r.resolveLocked(c.Message))
			continue
		}
		for _, t := range r.declared {
			if c.Accepts(Key{Client: r.client, Message: t}) {
				add(r.resolveLocked(t))
			}
		}
	}
	return subs, nil
}

// AddPlugin attaches h to every subscription ResolveByHandler finds and
// returns one registration covering all of them. If any attachment fails the
// ones already made are released.
func (r *Resolver[C]) AddPlugin(h Handler) (*PluginRegistration, error) {
	subs, err := r.ResolveByHandler(h)
	if err != nil {
		return nil, err
	}

	regs := make([]Registration, 0, len(subs))
	for _, s := range subs {
		reg, err := s.AddHandler(h)
		if err != nil {
			for _, done := range regs {
				done.Unregister()
			}
			return nil, err
		}
		regs = append(regs, reg)
	}
	return newPluginRegistration(regs), nil
}

// Subscriptions returns the subscriptions created so far.
func (r *Resolver[C]) Subscriptions() []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscriptionsLocked()
}

func (r *Resolver[C]) subscriptionsLocked() []*Subscription {
	var subs []*Subscription
	for _, t := range r.declared {
		if v, ok := r.cache.Load(t); ok {
			if s := v.(*Subscription); s != nil {
				subs = append(subs, s)
			}
		}
	}
	return subs
}

// Close closes every subscription. Messages resolved afterwards find none.
func (r *Resolver[C]) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.subscriptionsLocked()
	for _, t := range r.declared {
		r.cache.Store(t, (*Subscription)(nil))
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
