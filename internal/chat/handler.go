package chat

import (
	"context"
	"fmt"

	"github.com/bjaus/fanout"
	"github.com/rs/zerolog"
)

// Blocklist cancels every chat event from a user for which blocked returns
// true, so no later handler or plugin sees it.
func Blocklist(blocked func(user int64) bool) fanout.Handler {
	return fanout.ContravariantFunc(func(ctx context.Context, c Client, m Chat) error {
		if blocked(m.Sender()) {
			zerolog.Ctx(ctx).Info().Int64("user", m.Sender()).Msg("blocked user")
			m.Cancel()
		}
		return nil
	})
}

// LogEvents logs every event that reaches it at debug level.
func LogEvents() fanout.Handler {
	return fanout.ContravariantFunc(func(ctx context.Context, c Client, m fanout.Message) error {
		ev := zerolog.Ctx(ctx).Debug().Str("type", fmt.Sprintf("%T", m))
		if ch, ok := m.(Chat); ok {
			ev = ev.Int64("user", ch.Sender()).Str("text", ch.Content())
		}
		ev.Msg("event")
		return nil
	})
}
