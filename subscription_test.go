package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pingKey = KeyOf[*testBot, *ping]()

func TestNewSubscription(t *testing.T) {
	tr := &trace{}
	onPong := HandlerFunc(func(ctx context.Context, c *testBot, m *pong) error {
		tr.add("pong")
		return nil
	})

	sub := NewSubscription(pingKey, pingHandler(tr, "a"), onPong, nil, pingHandler(tr, "b"))

	assert.Equal(t, pingKey, sub.Key())
	assert.Equal(t, 2, sub.Len())

	require.NoError(t, sub.Dispatch(context.Background(), &testBot{}, &ping{}))
	assert.Equal(t, []string{"a", "b"}, tr.list())
}

func TestSubscription_DispatchOrder(t *testing.T) {
	tr := &trace{}
	sub := NewSubscription(pingKey, pingHandler(tr, "A"), pingHandler(tr, "B"))

	_, err := sub.AddHandler(pingHandler(tr, "C"))
	require.NoError(t, err)
	_, err = sub.AddHandler(pingHandler(tr, "D"))
	require.NoError(t, err)

	require.NoError(t, sub.Dispatch(context.Background(), &testBot{}, &ping{}))
	assert.Equal(t, []string{"A", "B", "D", "C"}, tr.list())

	hs := sub.Handlers()
	assert.Len(t, hs, 4)
}

func TestSubscription_Cancel(t *testing.T) {
	const n = 5
	for k := 0; k < n; k++ {
		t.Run(fmt.Sprintf("cancel at %d", k), func(t *testing.T) {
			tr := &trace{}
			var hs []Handler
			for i := 0; i < n; i++ {
				hs = append(hs, HandlerFunc(func(ctx context.Context, c *testBot, m *ping) error {
					tr.add(fmt.Sprint(i))
					if i == k {
						m.Cancel()
					}
					return nil
				}))
			}
			sub := NewSubscription(pingKey, hs[:2]...)
			for _, h := range hs[2:] {
				_, err := sub.AddHandler(h)
				require.NoError(t, err)
			}

			msg := &ping{}
			require.NoError(t, sub.Dispatch(context.Background(), &testBot{}, msg))

			assert.Len(t, tr.list(), k+1)
			assert.True(t, msg.Canceled())
		})
	}

	t.Run("canceled before dispatch runs nothing", func(t *testing.T) {
		tr := &trace{}
		sub := NewSubscription(pingKey, pingHandler(tr, "a"))

		msg := &ping{}
		msg.Cancel()
		require.NoError(t, sub.Dispatch(context.Background(), &testBot{}, msg))
		assert.Empty(t, tr.list())
	})
}

func TestSubscription_HandlerError(t *testing.T) {
	tr := &trace{}
	boom := errors.New("boom")
	failing := namedHandler{
		Handler: HandlerFunc(func(ctx context.Context, c *testBot, m *ping) error {
			tr.add("fail")
			return boom
		}),
		name: "failing",
	}

	sub := NewSubscription(pingKey, pingHandler(tr, "a"), failing, pingHandler(tr, "c"))

	err := sub.Dispatch(context.Background(), &testBot{}, &ping{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "failing", herr.Handler)
	assert.Equal(t, 1, herr.Index)
	assert.Equal(t, pingKey, herr.Key)
	assert.Equal(t, []string{"a", "fail"}, tr.list())
}

func TestSubscription_Panic(t *testing.T) {
	tr := &trace{}
	panicky := HandlerFunc(func(ctx context.Context, c *testBot, m *ping) error {
		panic("kaboom")
	})

	sub := NewSubscription(pingKey, panicky, pingHandler(tr, "after"))

	err := sub.Dispatch(context.Background(), &testBot{}, &ping{})
	assert.ErrorIs(t, err, ErrHandlerPanic)

	var perr *PanicError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "kaboom", perr.Value)
	assert.NotEmpty(t, perr.Stack)
	assert.Empty(t, tr.list())

	t.Run("panic with error value unwraps", func(t *testing.T) {
		cause := errors.New("cause")
		sub := NewSubscription(pingKey, HandlerFunc(func(ctx context.Context, c *testBot, m *ping) error {
			panic(cause)
		}))
		err := sub.Dispatch(context.Background(), &testBot{}, &ping{})
		assert.ErrorIs(t, err, cause)
		assert.ErrorIs(t, err, ErrHandlerPanic)
	})
}

func TestSubscription_AddHandler(t *testing.T) {
	t.Run("rejects nil", func(t *testing.T) {
		sub := NewSubscription(pingKey)
		_, err := sub.AddHandler(nil)
		assert.ErrorIs(t, err, ErrNilHandler)
	})

	t.Run("rejects other message type", func(t *testing.T) {
		sub := NewSubscription(pingKey)
		_, err := sub.AddHandler(HandlerFunc(func(ctx context.Context, c *testBot, m *pong) error {
			return nil
		}))

		assert.ErrorIs(t, err, ErrIncompatibleHandler)
		var cerr *ConfigError
		assert.ErrorAs(t, err, &cerr)
		assert.Equal(t, 0, sub.Len())
	})

	t.Run("rejects unrelated client type", func(t *testing.T) {
		sub := NewSubscription(pingKey)
		_, err := sub.AddHandler(HandlerFunc(func(ctx context.Context, c *otherBot, m *ping) error {
			return nil
		}))
		assert.ErrorIs(t, err, ErrIncompatibleHandler)
	})

	t.Run("accepts interface client type", func(t *testing.T) {
		var got string
		sub := NewSubscription(pingKey)
		_, err := sub.AddHandler(HandlerFunc(func(ctx context.Context, c speaker, m *ping) error {
			got = c.Say()
			return nil
		}))
		require.NoError(t, err)

		require.NoError(t, sub.Dispatch(context.Background(), &testBot{name: "bob"}, &ping{}))
		assert.Equal(t, "bob", got)
	})

	t.Run("accepts contravariant message type", func(t *testing.T) {
		var got string
		sub := NewSubscription(KeyOf[*testBot, *groupText]())
		_, err := sub.AddHandler(ContravariantFunc(func(ctx context.Context, c *testBot, m texter) error {
			got = m.Text()
			return nil
		}))
		require.NoError(t, err)

		require.NoError(t, sub.Dispatch(context.Background(), &testBot{}, &groupText{Body: "hello"}))
		assert.Equal(t, "hello", got)
	})

	t.Run("unregister removes handler", func(t *testing.T) {
		tr := &trace{}
		sub := NewSubscription(pingKey)
		reg, err := sub.AddHandler(pingHandler(tr, "a"))
		require.NoError(t, err)

		require.True(t, reg.Unregister())
		require.NoError(t, sub.Dispatch(context.Background(), &testBot{}, &ping{}))
		assert.Empty(t, tr.list())
		assert.Equal(t, 0, sub.Len())
	})
}

func TestSubscription_MutationDuringDispatch(t *testing.T) {
	t.Run("handler added mid dispatch runs from next dispatch", func(t *testing.T) {
		tr := &trace{}
		sub := NewSubscription(pingKey)
		added := false
		_, err := sub.AddHandler(HandlerFunc(func(ctx context.Context, c *testBot, m *ping) error {
			tr.add("adder")
			if !added {
				added = true
				_, err := sub.AddHandler(pingHandler(tr, "new"))
				return err
			}
			return nil
		}))
		require.NoError(t, err)

		require.NoError(t, sub.Dispatch(context.Background(), &testBot{}, &ping{}))
		assert.Equal(t, []string{"adder"}, tr.list())

		tr.reset()
		require.NoError(t, sub.Dispatch(context.Background(), &testBot{}, &ping{}))
		assert.Equal(t, []string{"new", "adder"}, tr.list())
	})

	t.Run("handler removed mid dispatch still runs this dispatch", func(t *testing.T) {
		tr := &trace{}
		sub := NewSubscription(pingKey)

		victim, err := sub.AddHandler(pingHandler(tr, "victim"))
		require.NoError(t, err)
		_, err = sub.AddHandler(HandlerFunc(func(ctx context.Context, c *testBot, m *ping) error {
			tr.add("remover")
			victim.Unregister()
			return nil
		}))
		require.NoError(t, err)

		require.NoError(t, sub.Dispatch(context.Background(), &testBot{}, &ping{}))
		assert.Equal(t, []string{"remover", "victim"}, tr.list())

		tr.reset()
		require.NoError(t, sub.Dispatch(context.Background(), &testBot{}, &ping{}))
		assert.Equal(t, []string{"remover"}, tr.list())
	})

	t.Run("handler removing itself", func(t *testing.T) {
		tr := &trace{}
		sub := NewSubscription(pingKey)

		var self Registration
		self, err := sub.AddHandler(HandlerFunc(func(ctx context.Context, c *testBot, m *ping) error {
			tr.add("once")
			self.Unregister()
			return nil
		}))
		require.NoError(t, err)

		require.NoError(t, sub.Dispatch(context.Background(), &testBot{}, &ping{}))
		require.NoError(t, sub.Dispatch(context.Background(), &testBot{}, &ping{}))
		assert.Equal(t, []string{"once"}, tr.list())
	})
}

func TestSubscription_Context(t *testing.T) {
	tr := &trace{}
	ctx, cancel := context.WithCancel(context.Background())

	first := HandlerFunc(func(ctx context.Context, c *testBot, m *ping) error {
		tr.add("first")
		cancel()
		return nil
	})
	sub := NewSubscription(pingKey, first, pingHandler(tr, "second"))

	err := sub.Dispatch(ctx, &testBot{}, &ping{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"first"}, tr.list())
}

func TestSubscription_Close(t *testing.T) {
	tr := &trace{}
	sub := NewSubscription(pingKey, pingHandler(tr, "static"))
	reg, err := sub.AddHandler(pingHandler(tr, "dynamic"))
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.True(t, sub.Closed())
	assert.False(t, reg.Active())

	_, err = sub.AddHandler(pingHandler(tr, "late"))
	assert.ErrorIs(t, err, ErrSubscriptionClosed)

	err = sub.Dispatch(context.Background(), &testBot{}, &ping{})
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
	assert.Empty(t, tr.list())
}

func TestSubscription_NilMessage(t *testing.T) {
	tr := &trace{}
	sub := NewSubscription(pingKey, pingHandler(tr, "static"))
	assert.ErrorIs(t, sub.Dispatch(context.Background(), &testBot{}, nil), ErrNilMessage)

	var msg *ping
	assert.ErrorIs(t, sub.Dispatch(context.Background(), &testBot{}, msg), ErrNilMessage)
	assert.Empty(t, tr.list())
}

// tally is dispatched by TestSubscription_ConcurrentChurn. start is the clock
// reading taken before the dispatch began; seen counts invocations per
// handler within the one dispatch.
type tally struct {
	Base
	start int64
	seen  map[int]int
}

func TestSubscription_ConcurrentChurn(t *testing.T) {
	const (
		writers = 4
		rounds  = 500
	)

	key := KeyOf[*testBot, *tally]()
	sub := NewSubscription(key)

	var (
		clock      atomic.Int64
		late       atomic.Int64
		duplicates atomic.Int64
	)

	handler := func(id int, removedAt *atomic.Int64) Handler {
		return HandlerFunc(func(ctx context.Context, c *testBot, m *tally) error {
			m.seen[id]++
			if m.seen[id] > 1 {
				duplicates.Add(1)
			}
			// Unregister returned before this dispatch started.
			if at := removedAt.Load(); at != 0 && at < m.start {
				late.Add(1)
			}
			return nil
		})
	}

	stop := make(chan struct{})
	dispatched := make(chan int)
	go func() {
		n := 0
		defer func() { dispatched <- n }()
		for {
			select {
			case <-stop:
				return
			default:
			}
			msg := &tally{start: clock.Add(1), seen: make(map[int]int)}
			if err := sub.Dispatch(context.Background(), &testBot{}, msg); err != nil {
				t.Error(err)
				return
			}
			n++
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				removedAt := &atomic.Int64{}
				reg, err := sub.AddHandler(handler(w*rounds+i, removedAt))
				if err != nil {
					t.Error(err)
					return
				}
				reg.Unregister()
				removedAt.Store(clock.Add(1))
			}
		}(w)
	}
	wg.Wait()
	close(stop)

	assert.Positive(t, <-dispatched)
	assert.Zero(t, late.Load(), "handler ran in a dispatch started after Unregister returned")
	assert.Zero(t, duplicates.Load(), "handler ran twice in one dispatch")
	assert.Equal(t, 0, sub.Len())
}

func TestSubscription_AddHandlerRacingClose(t *testing.T) {
	for i := 0; i < 200; i++ {
		tr := &trace{}
		sub := NewSubscription(pingKey, pingHandler(tr, "static"))

		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := sub.AddHandler(pingHandler(tr, "dynamic")); err != nil {
					assert.ErrorIs(t, err, ErrSubscriptionClosed)
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, sub.Close())
		}()
		wg.Wait()

		require.Equal(t, 1, sub.Len(), "iteration %d kept a handler past Close", i)
		require.Len(t, sub.Handlers(), 1)
	}
}
