package fanout

import (
	"context"
	"sync"
)

type testBot struct{ name string }

type otherBot struct{}

// speaker is implemented by *testBot and used for client contravariance.
type speaker interface{ Say() string }

func (b *testBot) Say() string { return b.name }

type ping struct {
	Base
	Seq int `json:"seq"`
}

type pong struct {
	Base
}

// texter is the family of text-carrying test messages.
type texter interface {
	Message
	Text() string
}

type groupText struct {
	Envelope
	Group int64  `json:"group_id"`
	Body  string `json:"message"`
}

func (m *groupText) Text() string { return m.Body }

type privateText struct {
	Envelope
	User int64  `json:"user_id"`
	Body string `json:"message"`
}

func (m *privateText) Text() string { return m.Body }

// trace records handler invocations in order.
type trace struct {
	mu    sync.Mutex
	calls []string
}

func (t *trace) add(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, s)
}

func (t *trace) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

func (t *trace) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = nil
}

// pingHandler returns an invariant *ping handler that records name.
func pingHandler(tr *trace, name string) Handler {
	return HandlerFunc(func(ctx context.Context, c *testBot, m *ping) error {
		tr.add(name)
		return nil
	})
}

// namedHandler wraps a Handler with a fixed name.
type namedHandler struct {
	Handler
	name string
}

func (n namedHandler) Name() string { return n.name }
