package fanout

import (
	"encoding/json"
	"reflect"
)

// validatable is the interface for payload validation.
// Compatible with github.com/go-ozzo/ozzo-validation/v4.
type validatable interface {
	Validate() error
}

// Parser turns raw payloads into one message type.
//
// The resolver first matches the parser's Discriminator against a View of
// the payload; Parse only runs for payloads the discriminator claimed.
// Several parsers may claim the same payload, and each produces its own
// message.
//
// Example:
//
//	type heartbeatParser struct{}
//
//	func (heartbeatParser) Name() string               { return "heartbeat" }
//	func (heartbeatParser) MessageType() reflect.Type  { return fanout.TypeOf[*Heartbeat]() }
//	func (heartbeatParser) Discriminator() fanout.Discriminator {
//	    return fanout.FieldEquals("meta_event_type", "heartbeat")
//	}
//	func (heartbeatParser) Parse(raw []byte) (fanout.Message, error) {
//	    var hb Heartbeat
//	    return &hb, json.Unmarshal(raw, &hb)
//	}
type Parser interface {
	// Name returns the parser identifier for hooks and errors.
	Name() string

	// MessageType returns the type of message Parse produces.
	MessageType() reflect.Type

	// Discriminator returns the cheap predicate deciding whether the parser
	// claims a payload.
	Discriminator() Discriminator

	// Parse converts a claimed payload into a message.
	Parse(raw []byte) (Message, error)
}

// KeyedParser is a Parser bound to one value of the resolver's key field.
// With WithKeyPath, the resolver only tries keyed parsers whose key equals
// the payload's key, skipping the rest without evaluating them.
type KeyedParser interface {
	Parser
	Key() string
}

// ParserFunc creates a Parser from a name, discriminator and parse function.
//
//	fanout.ParserFunc("ping", fanout.HasFields("ping"), func(raw []byte) (*Ping, error) {
//	    var p Ping
//	    return &p, json.Unmarshal(raw, &p)
//	})
func ParserFunc[M Message](name string, disc Discriminator, parse func(raw []byte) (M, error)) Parser {
	return &funcParser[M]{name: name, disc: disc, parse: parse}
}

type funcParser[M Message] struct {
	name  string
	disc  Discriminator
	parse func([]byte) (M, error)
}

func (p *funcParser[M]) Name() string                 { return p.name }
func (p *funcParser[M]) MessageType() reflect.Type    { return TypeOf[M]() }
func (p *funcParser[M]) Discriminator() Discriminator { return p.disc }
func (p *funcParser[M]) Parse(raw []byte) (Message, error) {
	m, err := p.parse(raw)
	if err != nil {
		return nil, err
	}
	// A nil *T must not become a non-nil Message.
	if isNil(m) {
		return nil, nil
	}
	return m, nil
}

// JSONParser creates a Parser that decodes the whole payload into a new *T.
//
// If *T has a Validate() error method it is called after decoding. If *T
// implements RawCarrier, for example by embedding Envelope, it receives a
// copy of the payload.
//
//	fanout.JSONParser[GroupMessage]("group", fanout.FieldEquals("message_type", "group"))
func JSONParser[T any, PT interface {
	*T
	Message
}](name string, disc Discriminator) Parser {
	return &jsonParser[T, PT]{name: name, disc: disc}
}

type jsonParser[T any, PT interface {
	*T
	Message
}] struct {
	name string
	disc Discriminator
}

func (p *jsonParser[T, PT]) Name() string                 { return p.name }
func (p *jsonParser[T, PT]) MessageType() reflect.Type    { return TypeOf[PT]() }
func (p *jsonParser[T, PT]) Discriminator() Discriminator { return p.disc }

func (p *jsonParser[T, PT]) Parse(raw []byte) (Message, error) {
	msg := PT(new(T))
	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, &unmarshalError{typ: p.MessageType(), err: err}
	}
	if v, ok := any(msg).(validatable); ok {
		if err := v.Validate(); err != nil {
			return nil, &validationError{typ: p.MessageType(), err: err}
		}
	}
	if rc, ok := any(msg).(RawCarrier); ok {
		rc.SetRawData(append([]byte(nil), raw...))
	}
	return msg, nil
}

// Keyed binds p to key for resolvers configured with WithKeyPath.
func Keyed(key string, p Parser) KeyedParser {
	return &keyedParser{Parser: p, key: key}
}

type keyedParser struct {
	Parser
	key string
}

func (p *keyedParser) Key() string { return p.key }

// ParserOption configures a ParserResolver.
type ParserOption func(*ParserResolver)

// WithInspector sets the inspector for parsers added with Add. The default
// is JSONInspector.
func WithInspector(i Inspector) ParserOption {
	return func(r *ParserResolver) {
		r.defaultInspector = i
	}
}

// WithKeyPath names the field whose string value selects KeyedParsers in the
// default group, e.g. "post_type".
func WithKeyPath(path string) ParserOption {
	return func(r *ParserResolver) {
		r.keyPath = path
	}
}

// ParserResolver finds the parsers that claim a payload.
//
// Usage:
//  1. Create a resolver with NewParserResolver
//  2. Add parsers with Add (or AddGroup for other wire formats)
//  3. Resolve payloads with Resolve
//
// ParserResolver is safe for concurrent use after configuration. Do not call
// Add or AddGroup after the first Resolve.
type ParserResolver struct {
	defaultInspector Inspector
	keyPath          string
	keyed            map[string][]Parser
	defaultParsers   []Parser
	groups           []group
	count            int
}

// group holds parsers that share an inspector.
type group struct {
	inspector Inspector
	parsers   []Parser
}

// NewParserResolver creates a ParserResolver.
func NewParserResolver(opts ...ParserOption) *ParserResolver {
	r := &ParserResolver{
		defaultInspector: JSONInspector(),
		keyed:            make(map[string][]Parser),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers parsers in the default inspector group.
func (r *ParserResolver) Add(parsers ...Parser) {
	for _, p := range parsers {
		if kp, ok := p.(KeyedParser); ok && r.keyPath != "" {
			r.keyed[kp.Key()] = append(r.keyed[kp.Key()], p)
		} else {
			r.defaultParsers = append(r.defaultParsers, p)
		}
		r.count++
	}
}

// AddGroup registers parsers that read payloads through a custom inspector.
// Groups are checked after the default group, in registration order.
func (r *ParserResolver) AddGroup(inspector Inspector, parsers ...Parser) {
	r.groups = append(r.groups, group{inspector: inspector, parsers: parsers})
	r.count += len(parsers)
}

// Len returns the number of registered parsers.
func (r *ParserResolver) Len() int { return r.count }

// Resolve returns every parser claiming raw. Within the default group keyed
// parsers come first; otherwise parsers appear in registration order.
func (r *ParserResolver) Resolve(raw []byte) []Parser {
	cache := newViewCache(raw)
	var out []Parser

	if r.hasDefault() {
		if view, ok := cache.get(r.defaultInspector); ok {
			for _, p := range r.keyedFor(view) {
				if p.Discriminator().Match(view) {
					out = append(out, p)
				}
			}
			for _, p := range r.defaultParsers {
				if p.Discriminator().Match(view) {
					out = append(out, p)
				}
			}
		}
	}

	for _, g := range r.groups {
		view, ok := cache.get(g.inspector)
		if !ok {
			continue
		}
		for _, p := range g.parsers {
			if p.Discriminator().Match(view) {
				out = append(out, p)
			}
		}
	}
	return out
}

func (r *ParserResolver) hasDefault() bool {
	return len(r.defaultParsers) > 0 || len(r.keyed) > 0
}

// keyedFor returns the keyed parsers selected by the view's key field.
func (r *ParserResolver) keyedFor(view View) []Parser {
	if r.keyPath == "" || len(r.keyed) == 0 {
		return nil
	}
	key, ok := view.GetString(r.keyPath)
	if !ok {
		return nil
	}
	return r.keyed[key]
}

// viewCache caches parsed views per inspector to avoid re-parsing the same
// raw bytes multiple times during parser matching.
type viewCache struct {
	raw   []byte
	views map[Inspector]viewResult
}

type viewResult struct {
	view View
	ok   bool
}

func newViewCache(raw []byte) *viewCache {
	return &viewCache{
		raw:   raw,
		views: make(map[Inspector]viewResult),
	}
}

// get returns a cached view or parses and caches it.
func (c *viewCache) get(insp Inspector) (View, bool) {
	if result, ok := c.views[insp]; ok {
		return result.view, result.ok
	}

	view, err := insp.Inspect(c.raw)
	if err != nil {
		c.views[insp] = viewResult{ok: false}
		return nil, false
	}

	c.views[insp] = viewResult{view: view, ok: true}
	return view, true
}
