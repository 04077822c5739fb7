package chat

import (
	"strings"

	"github.com/bjaus/fanout"
)

// KeyPath is the frame field the parsers are keyed on by default.
const KeyPath = "post_type"

// Parsers returns the parsers for every event type, keyed on post_type.
// Frames from a group whose text contains mention produce a Mention in
// addition to the GroupMessage.
func Parsers(mention string) []fanout.Parser {
	return []fanout.Parser{
		fanout.Keyed("message", fanout.JSONParser[GroupMessage]("group",
			fanout.FieldEquals("message_type", "group"),
		)),
		fanout.Keyed("message", fanout.JSONParser[PrivateMessage]("private",
			fanout.FieldEquals("message_type", "private"),
		)),
		fanout.Keyed("message", fanout.JSONParser[Mention]("mention", fanout.And(
			fanout.FieldEquals("message_type", "group"),
			contains("message", mention),
		))),
		fanout.Keyed("meta_event", fanout.JSONParser[Heartbeat]("heartbeat",
			fanout.FieldEquals("meta_event_type", "heartbeat"),
		)),
		fanout.Keyed("meta_event", fanout.JSONParser[Lifecycle]("lifecycle",
			fanout.FieldEquals("meta_event_type", "lifecycle"),
		)),
		fanout.Keyed("notice", fanout.JSONParser[Notice]("notice",
			fanout.FieldIn("notice_type", "group_increase", "group_decrease"),
		)),
	}
}

// NewParserResolver returns a resolver holding Parsers(mention), selecting
// keyed parsers by the field at keyPath.
func NewParserResolver(keyPath, mention string) *fanout.ParserResolver {
	if keyPath == "" {
		keyPath = KeyPath
	}
	r := fanout.NewParserResolver(fanout.WithKeyPath(keyPath))
	r.Add(Parsers(mention)...)
	return r
}

func contains(path, sub string) fanout.Discriminator {
	return fanout.DiscriminatorFunc(func(v fanout.View) bool {
		s, ok := v.GetString(path)
		return ok && sub != "" && strings.Contains(s, sub)
	})
}
