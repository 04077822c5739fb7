package chat

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bjaus/fanout"
)

// Echo answers "<prefix> text" with "text" in the conversation it came from.
func Echo(prefix string) fanout.Handler {
	strip := func(text string) (string, bool) {
		rest, ok := strings.CutPrefix(text, prefix+" ")
		if !ok {
			return "", false
		}
		rest = strings.TrimSpace(rest)
		return rest, rest != ""
	}

	return fanout.Bundle("echo",
		fanout.HandlerFunc(func(ctx context.Context, c Client, m *GroupMessage) error {
			if text, ok := strip(m.Text); ok {
				return c.SendGroup(ctx, m.GroupID, text)
			}
			return nil
		}),
		fanout.HandlerFunc(func(ctx context.Context, c Client, m *PrivateMessage) error {
			if text, ok := strip(m.Text); ok {
				return c.SendPrivate(ctx, m.UserID, text)
			}
			return nil
		}),
	)
}

// MentionReply answers every mention with text.
func MentionReply(text string) fanout.Handler {
	return fanout.HandlerFunc(func(ctx context.Context, c Client, m *Mention) error {
		return c.SendGroup(ctx, m.GroupID, text)
	})
}

// Welcome greets members joining a group.
func Welcome(text string) fanout.Handler {
	return fanout.HandlerFunc(func(ctx context.Context, c Client, m *Notice) error {
		if !m.Joined() {
			return nil
		}
		return c.SendGroup(ctx, m.GroupID, text)
	})
}

// Stats counts chat events per sender.
type Stats struct {
	mu     sync.Mutex
	counts map[int64]int
	total  int
}

func NewStats() *Stats {
	return &Stats{counts: make(map[int64]int)}
}

// Handler returns the plugin handler. It accepts every Chat event.
func (s *Stats) Handler() fanout.Handler {
	return fanout.ContravariantFunc(func(ctx context.Context, c Client, m Chat) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.counts[m.Sender()]++
		s.total++
		return nil
	})
}

// Count returns how many events user sent.
func (s *Stats) Count(user int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[user]
}

// Total returns how many events were counted.
func (s *Stats) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Presence tracks whether the protocol endpoint is connected and alive.
type Presence struct {
	online   atomic.Bool
	lastBeat atomic.Int64
}

// Handler returns the plugin handler for Heartbeat and Lifecycle events.
func (p *Presence) Handler() fanout.Handler {
	return fanout.Bundle("presence",
		fanout.HandlerFunc(func(ctx context.Context, c Client, m *Heartbeat) error {
			p.lastBeat.Store(m.Time)
			p.online.Store(m.Status.Online)
			return nil
		}),
		fanout.HandlerFunc(func(ctx context.Context, c Client, m *Lifecycle) error {
			p.online.Store(m.Connected())
			return nil
		}),
	)
}

// Online reports the last known connection state.
func (p *Presence) Online() bool { return p.online.Load() }

// LastBeat returns the time of the last heartbeat, or 0.
func (p *Presence) LastBeat() int64 { return p.lastBeat.Load() }
