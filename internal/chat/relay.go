package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/bjaus/fanout"
)

// DefaultMention is the token that turns a group line into a Mention.
const DefaultMention = "@bot"

// Options configures a Relay.
type Options struct {
	// Blocked reports users whose events are dropped. Nil blocks nobody.
	Blocked func(user int64) bool

	// KeyPath defaults to KeyPath.
	KeyPath string

	EchoPrefix   string
	Mention      string
	MentionReply string
	Welcome      string
}

// Relay is the chat bot: the static handlers, the default plugins and the
// invoker feeding them.
type Relay struct {
	invoker  *fanout.Invoker[Client]
	stats    *Stats
	presence *Presence

	mu      sync.Mutex
	plugins []*fanout.PluginRegistration
}

// NewRelay wires the handlers and plugins. invOpts are passed to the invoker,
// typically observability hooks.
func NewRelay(opts Options, invOpts ...fanout.Option) (*Relay, error) {
	if opts.Blocked == nil {
		opts.Blocked = func(int64) bool { return false }
	}
	if opts.Mention == "" {
		opts.Mention = DefaultMention
	}
	if opts.EchoPrefix == "" {
		opts.EchoPrefix = "/echo"
	}

	subs, err := fanout.NewResolver[Client](
		fanout.WithMessageTypes(MessageTypes()...),
		fanout.WithStaticHandlers(Blocklist(opts.Blocked), LogEvents()),
	)
	if err != nil {
		return nil, fmt.Errorf("build resolver: %w", err)
	}

	r := &Relay{
		invoker:  fanout.NewInvoker(subs, NewParserResolver(opts.KeyPath, opts.Mention), invOpts...),
		stats:    NewStats(),
		presence: &Presence{},
	}

	plugins := []fanout.Handler{
		r.stats.Handler(),
		r.presence.Handler(),
		Echo(opts.EchoPrefix),
	}
	if opts.MentionReply != "" {
		plugins = append(plugins, MentionReply(opts.MentionReply))
	}
	if opts.Welcome != "" {
		plugins = append(plugins, Welcome(opts.Welcome))
	}
	for _, p := range plugins {
		if _, err := r.AddPlugin(p); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	return r, nil
}

// AddPlugin attaches h to every subscription it accepts. The plugin is
// released by Close or by unregistering the returned registration.
func (r *Relay) AddPlugin(h fanout.Handler) (*fanout.PluginRegistration, error) {
	reg, err := r.invoker.Subscriptions().AddPlugin(h)
	if err != nil {
		return nil, fmt.Errorf("add plugin: %w", err)
	}
	r.mu.Lock()
	r.plugins = append(r.plugins, reg)
	r.mu.Unlock()
	return reg, nil
}

// Handle dispatches one raw frame received on c.
func (r *Relay) Handle(ctx context.Context, c Client, raw []byte) error {
	return r.invoker.HandleRawData(ctx, c, raw)
}

func (r *Relay) Invoker() *fanout.Invoker[Client] { return r.invoker }
func (r *Relay) Stats() *Stats                    { return r.stats }
func (r *Relay) Presence() *Presence              { return r.presence }

// Close releases the plugins and closes every subscription.
func (r *Relay) Close() error {
	r.mu.Lock()
	plugins := r.plugins
	r.plugins = nil
	r.mu.Unlock()

	for _, reg := range plugins {
		reg.Unregister()
	}
	return r.invoker.Subscriptions().Close()
}
