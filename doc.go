// Package fanout provides typed publish/subscribe dispatch for chat-bot style
// connections.
//
// A protocol client hands inbound payloads to an Invoker. Parsers turn a
// payload into one or more typed messages, and each message is routed to the
// Subscription for its runtime type, where a fixed set of static handlers and
// a changing set of plugin handlers run in order.
//
// # Quick Start
//
// Define a message and a handler:
//
//	type GroupMessage struct {
//	    fanout.Envelope
//	    GroupID int64  `json:"group_id"`
//	    Text    string `json:"message"`
//	}
//
//	greeter := fanout.HandlerFunc(func(ctx context.Context, c *Bot, m *GroupMessage) error {
//	    return c.Reply(ctx, m.GroupID, "hi")
//	})
//
// Wire the resolvers and the invoker:
//
//	subs, err := fanout.NewResolver[*Bot](fanout.WithStaticHandlers(greeter))
//	if err != nil {
//	    return err // configuration mistake
//	}
//
//	parsers := fanout.NewParserResolver()
//	parsers.Add(fanout.JSONParser[GroupMessage]("group", fanout.FieldEquals("message_type", "group")))
//
//	inv := fanout.NewInvoker(subs, parsers)
//
//	// For every frame received on the connection
//	err = inv.HandleRawData(ctx, bot, frame)
//
// # Design
//
// The package separates concerns into three layers:
//
//   - Parsers: claim raw payloads cheaply and decode them into messages
//   - Subscriptions: one ordered handler chain per (client type, message type)
//   - Invoker: resolves parsers and subscriptions and runs the chains
//
// # Handler Order and Cancellation
//
// A chain runs its static handlers in the order they were supplied, then its
// dynamic handlers, most recently added first. Handlers run one at a time. A
// handler stops the chain by calling Cancel on the message:
//
//	fanout.HandlerFunc(func(ctx context.Context, c *Bot, m *GroupMessage) error {
//	    if blocked(m.UserID) {
//	        m.Cancel()
//	    }
//	    return nil
//	})
//
// A handler error or panic also stops the chain. It is returned to the caller
// as a *HandlerError and does not affect other messages.
//
// # Capabilities and Variance
//
// Every handler declares the (client type, message type) pairs it accepts.
// HandlerFunc declares an invariant pair: the handler joins only the
// subscription of that exact message type. ContravariantFunc declares a
// contravariant pair, usually with an interface message type, and joins every
// subscription whose message type implements it. A declared client type that
// the resolver's client type is not assignable to is a configuration error.
//
// # Plugins
//
// Plugins add handlers at runtime and remove them later:
//
//	reg, err := subs.AddPlugin(fanout.Bundle("echo", onGroup, onPrivate))
//	if err != nil {
//	    return err
//	}
//	defer reg.Unregister()
//
// Registrations are small values that may be unregistered any number of
// times from any goroutine. Unregistering a registration whose slot has been
// reused for another handler does nothing.
//
// # Parsers
//
// A Parser pairs a Discriminator with a decode step. Discriminators are
// evaluated on a View of the payload (JSON through gjson by default) and only
// claiming parsers decode:
//
//	parsers.Add(fanout.ParserFunc("heartbeat",
//	    fanout.And(fanout.FieldEquals("post_type", "meta_event"), fanout.FieldEquals("meta_event_type", "heartbeat")),
//	    parseHeartbeat,
//	))
//
// Composable discriminators are provided:
//   - HasFields: Check for field presence
//   - FieldEquals, FieldIn, IntEquals: Check field values
//   - And, Or, Not: Combine discriminators
//
// Every claiming parser runs and each message is dispatched independently, so
// one frame can feed several subscriptions. With WithKeyPath the resolver
// reads one routing field first and only evaluates KeyedParsers registered
// for that value.
//
// # Hooks
//
// The package does not log. Hooks report what happens so callers can log and
// record metrics:
//
//	inv := fanout.NewInvoker(subs, parsers,
//	    fanout.WithOnFailure(func(ctx context.Context, msg fanout.Message, err error, d time.Duration) {
//	        log.Ctx(ctx).Error().Err(err).Msgf("%T failed", msg)
//	    }),
//	    fanout.WithOnNoParser(func(ctx context.Context, raw []byte) error {
//	        return nil // skip unknown frames
//	    }),
//	)
//
// # Thread Safety
//
// Resolver, Subscription and Invoker are safe for concurrent use. Handlers
// may add or remove handlers while a dispatch is running; the change applies
// from the next dispatch. ParserResolver is safe for concurrent use after
// configuration; do not call Add or AddGroup after the first Resolve.
package fanout
