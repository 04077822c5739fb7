// Package observability wires logging and prometheus metrics into the relay
// through invoker hooks.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bjaus/fanout"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds the relay's prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	frames     *prometheus.CounterVec
	dispatches *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	parseErrs  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fanout",
				Subsystem: "relay",
				Name:      "frames_total",
				Help:      "Inbound frames by outcome.",
			},
			[]string{"outcome"},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fanout",
				Subsystem: "dispatch",
				Name:      "messages_total",
				Help:      "Dispatched messages by type and result.",
			},
			[]string{"message", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fanout",
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Handler chain duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"message"},
		),
		parseErrs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fanout",
				Subsystem: "parse",
				Name:      "errors_total",
				Help:      "Parser failures by parser.",
			},
			[]string{"parser"},
		),
	}
	m.registry.MustRegister(m.frames, m.dispatches, m.duration, m.parseErrs)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type frameKey struct{}

// frameState collects what the hooks learned about one frame.
type frameState struct {
	unclaimed atomic.Bool
}

// StartFrame returns a context that lets the hooks mark the frame it is used
// for. Pass the same context to RecordFrame.
func (m *Metrics) StartFrame(ctx context.Context) context.Context {
	return context.WithValue(ctx, frameKey{}, &frameState{})
}

// RecordFrame counts one inbound frame under exactly one outcome: "error",
// "unclaimed" when no parser claimed it, or "ok".
func (m *Metrics) RecordFrame(ctx context.Context, err error) {
	outcome := "ok"
	switch st, _ := ctx.Value(frameKey{}).(*frameState); {
	case err != nil:
		outcome = "error"
	case st != nil && st.unclaimed.Load():
		outcome = "unclaimed"
	}
	m.frames.WithLabelValues(outcome).Inc()
}

// Hooks returns invoker options that record metrics and log through the
// zerolog logger found on the context.
func (m *Metrics) Hooks() []fanout.Option {
	return []fanout.Option{
		fanout.WithOnSuccess(func(ctx context.Context, msg fanout.Message, d time.Duration) {
			name := MessageName(msg)
			result := "ok"
			if msg.Canceled() {
				result = "canceled"
			}
			m.dispatches.WithLabelValues(name, result).Inc()
			m.duration.WithLabelValues(name).Observe(d.Seconds())
			zerolog.Ctx(ctx).Debug().Str("message", name).Dur("took", d).Str("result", result).Msg("dispatched")
		}),
		fanout.WithOnFailure(func(ctx context.Context, msg fanout.Message, err error, d time.Duration) {
			name := MessageName(msg)
			m.dispatches.WithLabelValues(name, "error").Inc()
			m.duration.WithLabelValues(name).Observe(d.Seconds())
			zerolog.Ctx(ctx).Error().Err(err).Str("message", name).Msg("dispatch failed")
		}),
		fanout.WithOnNoSubscription(func(ctx context.Context, msg fanout.Message) {
			name := MessageName(msg)
			m.dispatches.WithLabelValues(name, "unrouted").Inc()
			zerolog.Ctx(ctx).Debug().Str("message", name).Msg("no subscription")
		}),
		fanout.WithOnParseError(func(ctx context.Context, parser string, err error) error {
			m.parseErrs.WithLabelValues(parser).Inc()
			zerolog.Ctx(ctx).Warn().Err(err).Str("parser", parser).Msg("dropping unparsable frame")
			return nil
		}),
		fanout.WithOnNoParser(func(ctx context.Context, raw []byte) error {
			if st, ok := ctx.Value(frameKey{}).(*frameState); ok {
				st.unclaimed.Store(true)
			}
			zerolog.Ctx(ctx).Debug().Int("bytes", len(raw)).Msg("no parser claimed frame")
			return nil
		}),
	}
}

// MessageName is the metric label for msg: its type name without package
// path or pointer marker.
func MessageName(msg fanout.Message) string {
	name := fmt.Sprintf("%T", msg)
	name = strings.TrimPrefix(name, "*")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}
