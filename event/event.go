// Package event defines the closed set of Milky protocol events and the
// decoder for the wire envelope.  Every event arrives as
// {"event_type": ..., "time": ..., "self_id": ..., "data": {...}}; the
// event_type selects the payload shape.
package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rusq/milky/message"
)

// Wire names of the known event types.
const (
	TMessageReceive = "message_receive"
	TMessageRecall  = "message_recall"
	TFriendRequest  = "friend_request"
)

// Scene is the conversation scene of a message.
type Scene string

const (
	SceneFriend Scene = "friend"
	SceneGroup  Scene = "group"
	SceneTemp   Scene = "temp"
)

// Event is the interface implemented by all protocol events.
type Event interface {
	// EventType returns the wire name of the event type.
	EventType() string
	// EventMeta returns the envelope metadata common to all events.
	EventMeta() Meta
}

// Meta is the envelope metadata shared by every event.
type Meta struct {
	// Time is the unix timestamp of the event, seconds.
	Time int64 `json:"time"`
	// SelfID is the account number of the bot that received the event.
	SelfID int64 `json:"self_id"`
}

func (m Meta) EventMeta() Meta { return m }

// Timestamp returns the event time as time.Time.
func (m Meta) Timestamp() time.Time { return time.Unix(m.Time, 0) }

// IncomingMessage is a received message, as carried by the message_receive
// event and returned by the get_message API call.
type IncomingMessage struct {
	Scene      Scene           `json:"message_scene"`
	PeerID     int64           `json:"peer_id"` // peer account or group number
	MessageSeq int64           `json:"message_seq"`
	SenderID   int64           `json:"sender_id"`
	Time       int64           `json:"time"`
	ClientSeq  int64           `json:"client_seq,omitempty"` // friend scene only
	Segments   message.Message `json:"segments"`
}

// Reply returns the reply segment referencing this message.
func (im *IncomingMessage) Reply() message.Reply {
	return message.Reply{MessageSeq: im.MessageSeq}
}

// Message is the message_receive event.
type Message struct {
	Meta
	Data IncomingMessage `json:"data"`

	// Reply is the message referenced by a reply segment, resolved during
	// preprocessing.  Nil if the message is not a reply or if preprocessing
	// is disabled.
	Reply *IncomingMessage `json:"-"`
	// ToMe reports whether the message addresses the bot directly: a private
	// message, a reply to the bot, a leading or trailing mention of the bot,
	// or a configured nickname prefix.
	ToMe bool `json:"-"`
}

func (*Message) EventType() string { return TMessageReceive }

// SessionID returns the conversation identity of the message: peer for
// private scenes, "group_sender" for group scenes.
func (m *Message) SessionID() string {
	if m.Data.Scene == SceneGroup {
		return strconv.FormatInt(m.Data.PeerID, 10) + "_" + strconv.FormatInt(m.Data.SenderID, 10)
	}
	return strconv.FormatInt(m.Data.PeerID, 10)
}

// RecallData is the payload of the message_recall event.
type RecallData struct {
	Scene      Scene `json:"message_scene"`
	PeerID     int64 `json:"peer_id"`
	MessageSeq int64 `json:"message_seq"`
	OperatorID int64 `json:"operator_id,omitempty"`
}

// Recall is the message_recall event.
type Recall struct {
	Meta
	Data RecallData `json:"data"`
}

func (*Recall) EventType() string { return TMessageRecall }

// FriendRequestData is the payload of the friend_request event.
type FriendRequestData struct {
	RequestID  string `json:"request_id"`
	OperatorID int64  `json:"operator_id"`
	Comment    string `json:"comment,omitempty"`
	Via        string `json:"via,omitempty"`
}

// FriendRequest is the friend_request event.
type FriendRequest struct {
	Meta
	Data FriendRequestData `json:"data"`
}

func (*FriendRequest) EventType() string { return TFriendRequest }

// Unknown carries an event of a type this library does not know about.  The
// raw payload is preserved so the caller can decode it itself.
type Unknown struct {
	Meta
	Type string
	Raw  json.RawMessage
}

func (u *Unknown) EventType() string { return u.Type }

// envelope is the wire envelope of an event.
type envelope struct {
	EventType string          `json:"event_type"`
	Time      int64           `json:"time"`
	SelfID    int64           `json:"self_id"`
	Data      json.RawMessage `json:"data"`
}

// Decode decodes a raw event envelope into one of the event types.  An
// unsupported event_type yields *Unknown, not an error; an error is returned
// only if the payload does not decode.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("event envelope: %w", err)
	}
	if env.EventType == "" {
		return nil, fmt.Errorf("event envelope: missing event_type")
	}
	meta := Meta{Time: env.Time, SelfID: env.SelfID}
	var ev Event
	switch env.EventType {
	case TMessageReceive:
		ev = &Message{}
	case TMessageRecall:
		ev = &Recall{}
	case TFriendRequest:
		ev = &FriendRequest{}
	default:
		return &Unknown{Meta: meta, Type: env.EventType, Raw: env.Data}, nil
	}
	// the typed events mirror the envelope layout, so the raw envelope
	// decodes directly into them.
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, fmt.Errorf("event %s: %w", env.EventType, err)
	}
	return ev, nil
}
