package chat

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Client sends replies back over the connection the events came from.
type Client interface {
	SendGroup(ctx context.Context, group int64, text string) error
	SendPrivate(ctx context.Context, user int64, text string) error
}

// Console is a Client that writes replies as lines to w.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole returns a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) SendGroup(ctx context.Context, group int64, text string) error {
	return c.write(ctx, "group %d: %s\n", group, text)
}

func (c *Console) SendPrivate(ctx context.Context, user int64, text string) error {
	return c.write(ctx, "user %d: %s\n", user, text)
}

func (c *Console) write(ctx context.Context, format string, id int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, format, id, text)
	return err
}

var _ Client = (*Console)(nil)
