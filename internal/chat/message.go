// Package chat holds the OneBot-style events the relay understands: their
// message types, the parsers producing them and the handlers and plugins the
// relay runs on them.
package chat

import (
	"errors"
	"reflect"

	"github.com/bjaus/fanout"
)

// Chat is implemented by every event that carries user text.
type Chat interface {
	fanout.Message
	Sender() int64
	Content() string
}

// Event holds the fields every frame shares.
type Event struct {
	fanout.Envelope
	Time     int64  `json:"time"`
	SelfID   int64  `json:"self_id"`
	PostType string `json:"post_type"`
}

// GroupMessage is a line posted in a group.
type GroupMessage struct {
	Event
	MessageID int64  `json:"message_id"`
	GroupID   int64  `json:"group_id"`
	UserID    int64  `json:"user_id"`
	Text      string `json:"message"`
}

func (m *GroupMessage) Sender() int64   { return m.UserID }
func (m *GroupMessage) Content() string { return m.Text }

// Validate rejects group frames without a group.
func (m *GroupMessage) Validate() error {
	if m.GroupID == 0 {
		return errors.New("group_id is required")
	}
	return nil
}

// PrivateMessage is a direct message to the bot.
type PrivateMessage struct {
	Event
	MessageID int64  `json:"message_id"`
	UserID    int64  `json:"user_id"`
	Text      string `json:"message"`
}

func (m *PrivateMessage) Sender() int64   { return m.UserID }
func (m *PrivateMessage) Content() string { return m.Text }

// Mention is a group line addressing the bot. It is parsed from the same
// frames as GroupMessage.
type Mention struct {
	Event
	GroupID int64  `json:"group_id"`
	UserID  int64  `json:"user_id"`
	Text    string `json:"message"`
}

func (m *Mention) Sender() int64   { return m.UserID }
func (m *Mention) Content() string { return m.Text }

// Heartbeat is the periodic liveness event.
type Heartbeat struct {
	Event
	Interval int64 `json:"interval"`
	Status   struct {
		Online bool `json:"online"`
		Good   bool `json:"good"`
	} `json:"status"`
}

// Lifecycle reports the bot connecting to or leaving the protocol endpoint.
type Lifecycle struct {
	Event
	SubType string `json:"sub_type"`
}

// Connected reports whether the event announces a connection.
func (m *Lifecycle) Connected() bool { return m.SubType == "connect" || m.SubType == "enable" }

// Notice is a group membership change.
type Notice struct {
	Event
	NoticeType string `json:"notice_type"`
	GroupID    int64  `json:"group_id"`
	UserID     int64  `json:"user_id"`
}

// Joined reports whether the notice is a member joining.
func (m *Notice) Joined() bool { return m.NoticeType == "group_increase" }

// MessageTypes lists every type the relay routes, for
// fanout.WithMessageTypes.
func MessageTypes() []reflect.Type {
	return []reflect.Type{
		fanout.TypeOf[*GroupMessage](),
		fanout.TypeOf[*PrivateMessage](),
		fanout.TypeOf[*Mention](),
		fanout.TypeOf[*Heartbeat](),
		fanout.TypeOf[*Lifecycle](),
		fanout.TypeOf[*Notice](),
	}
}

var (
	_ Chat = (*GroupMessage)(nil)
	_ Chat = (*PrivateMessage)(nil)
	_ Chat = (*Mention)(nil)
)
