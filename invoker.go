package fanout

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Invoker is the entry point protocol clients call with inbound traffic.
// It ties parser resolution, subscription resolution and dispatch together
// for clients of type C.
//
// Usage:
//  1. Build a Resolver with the static handlers and message types
//  2. Build a ParserResolver with the parsers for the wire format
//  3. Create an Invoker with NewInvoker
//  4. Call HandleRawData or HandleMessage for every inbound payload
//
// Invoker is safe for concurrent use. Independent calls run concurrently
// with no ordering between them; ordering only holds within one message's
// handler chain. No deadline is applied; wrap ctx to bound a call.
type Invoker[C any] struct {
	subs        *Resolver[C]
	parsers     *ParserResolver
	hooks       hooks
	concurrency int
}

// NewInvoker creates an Invoker. A nil parsers resolver is replaced by an
// empty one, so HandleRawData claims nothing.
//
// Example:
//
//	inv := fanout.NewInvoker(subs, parsers,
//	    fanout.WithOnFailure(func(ctx context.Context, msg fanout.Message, err error, d time.Duration) {
//	        log.Error().Err(err).Msgf("dispatch %T failed", msg)
//	    }),
//	)
func NewInvoker[C any](subs *Resolver[C], parsers *ParserResolver, opts ...Option) *Invoker[C] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if parsers == nil {
		parsers = NewParserResolver()
	}
	return &Invoker[C]{
		subs:        subs,
		parsers:     parsers,
		hooks:       o.hooks,
		concurrency: o.concurrency,
	}
}

// Subscriptions returns the subscription resolver.
func (i *Invoker[C]) Subscriptions() *Resolver[C] { return i.subs }

// Parsers returns the parser resolver.
func (i *Invoker[C]) Parsers() *ParserResolver { return i.parsers }

// HandleMessage dispatches msg to the subscription for its runtime type. A
// message type without a subscription is dropped without error.
//
// A handler failure is returned as a *HandlerError after the OnFailure hooks
// ran.
func (i *Invoker[C]) HandleMessage(ctx context.Context, client C, msg Message) error {
	if isNil(msg) {
		return ErrNilMessage
	}

	sub := i.subs.ResolveByMessage(reflect.TypeOf(msg))
	if sub == nil {
		i.callOnNoSubscription(ctx, msg)
		return nil
	}

	i.callOnDispatch(ctx, msg, sub.Len())

	start := time.Now()
	err := sub.Dispatch(ctx, client, msg)
	duration := time.Since(start)

	if err != nil {
		i.callOnFailure(ctx, msg, err, duration)
		return err
	}
	if msg.Canceled() {
		i.callOnCanceled(ctx, msg)
	}
	i.callOnSuccess(ctx, msg, duration)
	return nil
}

// HandleRawData parses raw with every claiming parser and dispatches each
// resulting message through HandleMessage.
//
// The processing flow:
//  1. Resolve the parsers whose discriminators claim raw
//  2. Parse raw with each of them
//  3. Call the OnParse hooks for each message
//  4. Dispatch each message independently
//
// A failure in one message never prevents the others from being processed;
// all failures are joined into the returned error.
func (i *Invoker[C]) HandleRawData(ctx context.Context, client C, raw []byte) error {
	parsers := i.parsers.Resolve(raw)
	if len(parsers) == 0 {
		return i.handleNoParser(ctx, raw)
	}

	if i.concurrency < 2 || len(parsers) == 1 {
		var errs []error
		for _, p := range parsers {
			if err := i.process(ctx, client, p, raw); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(i.concurrency)
	for _, p := range parsers {
		g.Go(func() error {
			if err := i.process(ctx, client, p, raw); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// process parses raw with p and dispatches the result.
func (i *Invoker[C]) process(ctx context.Context, client C, p Parser, raw []byte) error {
	msg, err := parse(p, raw)
	if err != nil {
		return i.handleParseError(ctx, p, err)
	}
	if msg == nil {
		return nil
	}

	ctx = i.callOnParse(ctx, p, msg)
	return i.HandleMessage(ctx, client, msg)
}

// parse calls p.Parse, converting a panic into a *PanicError.
func parse(p Parser, raw []byte) (msg Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return p.Parse(raw)
}

// callOnParse calls global and parser OnParse hooks.
func (i *Invoker[C]) callOnParse(ctx context.Context, p Parser, msg Message) context.Context {
	name := p.Name()
	for _, fn := range i.hooks.onParse {
		ctx = fn(ctx, name, msg)
	}
	if h, ok := p.(OnParseHook); ok {
		ctx = h.OnParse(ctx, msg)
	}
	return ctx
}

func (i *Invoker[C]) callOnDispatch(ctx context.Context, msg Message, handlers int) {
	for _, fn := range i.hooks.onDispatch {
		fn(ctx, msg, handlers)
	}
}

func (i *Invoker[C]) callOnSuccess(ctx context.Context, msg Message, duration time.Duration) {
	for _, fn := range i.hooks.onSuccess {
		fn(ctx, msg, duration)
	}
}

func (i *Invoker[C]) callOnFailure(ctx context.Context, msg Message, err error, duration time.Duration) {
	for _, fn := range i.hooks.onFailure {
		fn(ctx, msg, err, duration)
	}
}

func (i *Invoker[C]) callOnCanceled(ctx context.Context, msg Message) {
	for _, fn := range i.hooks.onCanceled {
		fn(ctx, msg)
	}
}

func (i *Invoker[C]) callOnNoSubscription(ctx context.Context, msg Message) {
	for _, fn := range i.hooks.onNoSubscription {
		fn(ctx, msg)
	}
}

// handleNoParser handles a payload no parser claimed. Without hooks the
// payload is skipped.
func (i *Invoker[C]) handleNoParser(ctx context.Context, raw []byte) error {
	for _, fn := range i.hooks.onNoParser {
		if err := fn(ctx, raw); err != nil {
			return err
		}
	}
	return nil
}

// handleParseError handles a failing parser. Without global hooks the error
// is returned wrapped in a *ParseError.
func (i *Invoker[C]) handleParseError(ctx context.Context, p Parser, parseErr error) error {
	name := p.Name()
	var errs []error

	for _, fn := range i.hooks.onParseError {
		if err := fn(ctx, name, parseErr); err != nil {
			errs = append(errs, err)
		}
	}

	if h, ok := p.(OnParseErrorHook); ok {
		if err := h.OnParseError(ctx, parseErr); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}

	// Default behavior if no hooks set
	if len(i.hooks.onParseError) == 0 {
		return &ParseError{Parser: name, Err: parseErr}
	}

	return nil
}

// String describes the invoker for debugging.
func (i *Invoker[C]) String() string {
	return fmt.Sprintf("Invoker[%v]{parsers: %d, subscriptions: %d}", i.subs.ClientType(), i.parsers.Len(), len(i.subs.Subscriptions()))
}
