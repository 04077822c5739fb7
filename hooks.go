package fanout

import (
	"context"
	"time"
)

// OnParseFunc is called after a parser produced a message.
// Use this to enrich the context with logging fields or trace spans.
// The returned context is used for the rest of that message's dispatch.
type OnParseFunc func(ctx context.Context, parser string, msg Message) context.Context

// OnDispatchFunc is called just before a subscription's chain runs.
type OnDispatchFunc func(ctx context.Context, msg Message, handlers int)

// OnSuccessFunc is called after a chain completed without error.
type OnSuccessFunc func(ctx context.Context, msg Message, duration time.Duration)

// OnFailureFunc is called after a handler in the chain failed.
type OnFailureFunc func(ctx context.Context, msg Message, err error, duration time.Duration)

// OnCanceledFunc is called after a chain that a handler stopped by canceling
// the message.
type OnCanceledFunc func(ctx context.Context, msg Message)

// OnNoParserFunc is called when no parser claims a payload.
// Return nil to skip, return an error to fail.
type OnNoParserFunc func(ctx context.Context, raw []byte) error

// OnParseErrorFunc is called when a claiming parser fails.
// Return nil to skip, return an error to fail.
type OnParseErrorFunc func(ctx context.Context, parser string, err error) error

// OnNoSubscriptionFunc is called when a message has no subscription. This is
// not an error; the message is dropped.
type OnNoSubscriptionFunc func(ctx context.Context, msg Message)

// hooks holds all configured hook functions.
type hooks struct {
	onParse          []OnParseFunc
	onDispatch       []OnDispatchFunc
	onSuccess        []OnSuccessFunc
	onFailure        []OnFailureFunc
	onCanceled       []OnCanceledFunc
	onNoParser       []OnNoParserFunc
	onParseError     []OnParseErrorFunc
	onNoSubscription []OnNoSubscriptionFunc
}

// options holds Invoker configuration.
type options struct {
	hooks       hooks
	concurrency int
}

// Option configures an Invoker.
type Option func(*options)

// WithConcurrency sets how many messages parsed from one payload may be
// dispatched at the same time. Values below 2 dispatch them one after
// another, in parser order. Handlers of a single message always run
// sequentially.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// WithOnParse adds a hook called after a parser produced a message.
// Multiple hooks are called in order, with context chaining through each.
//
// Example:
//
//	fanout.WithOnParse(func(ctx context.Context, parser string, msg fanout.Message) context.Context {
//	    return logger.With().Str("parser", parser).Logger().WithContext(ctx)
//	})
func WithOnParse(fn OnParseFunc) Option {
	return func(o *options) {
		o.hooks.onParse = append(o.hooks.onParse, fn)
	}
}

// WithOnDispatch adds a hook called just before a chain runs.
func WithOnDispatch(fn OnDispatchFunc) Option {
	return func(o *options) {
		o.hooks.onDispatch = append(o.hooks.onDispatch, fn)
	}
}

// WithOnSuccess adds a hook called after a chain completed.
//
// Example:
//
//	fanout.WithOnSuccess(func(ctx context.Context, msg fanout.Message, d time.Duration) {
//	    dispatchSeconds.WithLabelValues(fmt.Sprintf("%T", msg)).Observe(d.Seconds())
//	})
func WithOnSuccess(fn OnSuccessFunc) Option {
	return func(o *options) {
		o.hooks.onSuccess = append(o.hooks.onSuccess, fn)
	}
}

// WithOnFailure adds a hook called after a handler failed. The error is
// still returned to the caller.
func WithOnFailure(fn OnFailureFunc) Option {
	return func(o *options) {
		o.hooks.onFailure = append(o.hooks.onFailure, fn)
	}
}

// WithOnCanceled adds a hook called when a handler canceled the message.
func WithOnCanceled(fn OnCanceledFunc) Option {
	return func(o *options) {
		o.hooks.onCanceled = append(o.hooks.onCanceled, fn)
	}
}

// WithOnNoParser adds a hook called when no parser claims a payload.
// Return nil to skip, return an error to fail.
// Multiple hooks are called in order; first error wins.
func WithOnNoParser(fn OnNoParserFunc) Option {
	return func(o *options) {
		o.hooks.onNoParser = append(o.hooks.onNoParser, fn)
	}
}

// WithOnParseError adds a hook called when a claiming parser fails.
// Return nil to skip, return an error to fail.
// Multiple hooks are called in order; first error wins.
//
// Example:
//
//	fanout.WithOnParseError(func(ctx context.Context, parser string, err error) error {
//	    log.Warn().Err(err).Str("parser", parser).Msg("dropping bad frame")
//	    return nil
//	})
func WithOnParseError(fn OnParseErrorFunc) Option {
	return func(o *options) {
		o.hooks.onParseError = append(o.hooks.onParseError, fn)
	}
}

// WithOnNoSubscription adds a hook called when a message has no
// subscription.
func WithOnNoSubscription(fn OnNoSubscriptionFunc) Option {
	return func(o *options) {
		o.hooks.onNoSubscription = append(o.hooks.onNoSubscription, fn)
	}
}

// OnParseHook is an optional interface that parsers can implement to add
// parser-specific context enrichment. Called after global OnParse hooks.
type OnParseHook interface {
	OnParse(ctx context.Context, msg Message) context.Context
}

// OnParseErrorHook is an optional interface that parsers can implement to
// add parser-specific behavior on parse errors. Called after global hooks;
// if either returns an error, that error is used.
type OnParseErrorHook interface {
	OnParseError(ctx context.Context, err error) error
}
