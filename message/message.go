// Package message implements the Milky protocol message model.  A message is
// an ordered list of segments, each segment being one of a closed set of
// element types.  On the wire a message is a JSON array of
// {"type": ..., "data": {...}} objects.
package message

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Segment is a single element of a message.  The set of implementations in
// this package is closed: the protocol does not allow arbitrary element
// types.
type Segment interface {
	// SegmentType returns the wire name of the element type.
	SegmentType() string
}

// Message is a sequence of segments.
type Message []Segment

// Wire names of the element types.
const (
	TText       = "text"
	TMention    = "mention"
	TMentionAll = "mention_all"
	TFace       = "face"
	TReply      = "reply"
	TImage      = "image"
	TRecord     = "record"
	TVideo      = "video"
	TForward    = "forward"
	TMarketFace = "market_face"
	TLightApp   = "light_app"
	TXML        = "xml"
)

// Text is a plain text segment.
type Text struct {
	Text string `json:"text"`
}

// Mention is an "@user" segment.
type Mention struct {
	UserID int64 `json:"user_id"`
}

// MentionAll is an "@everyone" segment.
type MentionAll struct{}

// Face is a small builtin emoticon.
type Face struct {
	FaceID string `json:"face_id"`
}

// Reply references an earlier message in the same scene.
type Reply struct {
	MessageSeq int64 `json:"message_seq"`
}

// Image is a picture segment.  Incoming images carry ResourceID and TempURL,
// outgoing ones carry URI.
type Image struct {
	URI        string `json:"uri,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	TempURL    string `json:"temp_url,omitempty"`
	Summary    string `json:"summary,omitempty"`
	SubType    string `json:"sub_type,omitempty"` // "normal" or "sticker"
}

// Record is a voice message segment.
type Record struct {
	URI        string `json:"uri,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	TempURL    string `json:"temp_url,omitempty"`
	Duration   int    `json:"duration,omitempty"` // seconds, incoming only
}

// Video is a video segment.
type Video struct {
	URI        string `json:"uri,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	TempURL    string `json:"temp_url,omitempty"`
	ThumbURL   string `json:"thumb_url,omitempty"`
}

// Node is a single entry of an outgoing combined forward.
type Node struct {
	UserID   int64   `json:"user_id"`
	Name     string  `json:"name"`
	Segments Message `json:"segments"`
}

// Forward is a combined-forward segment.  Incoming forwards carry only the
// ForwardID, outgoing ones carry the list of nodes.
type Forward struct {
	ForwardID string `json:"forward_id,omitempty"`
	Messages  []Node `json:"messages,omitempty"`
}

// MarketFace is a marketplace sticker.  Receive only.
type MarketFace struct {
	URL string `json:"url"`
}

// LightApp is a mini-program card.  Receive only.
type LightApp struct {
	AppName     string `json:"app_name"`
	JSONPayload string `json:"json_payload"`
}

// XML is a legacy rich-content card.  Receive only.
type XML struct {
	ServiceID  int    `json:"service_id"`
	XMLPayload string `json:"xml_payload"`
}

func (Text) SegmentType() string       { return TText }
func (Mention) SegmentType() string    { return TMention }
func (MentionAll) SegmentType() string { return TMentionAll }
func (Face) SegmentType() string       { return TFace }
func (Reply) SegmentType() string      { return TReply }
func (Image) SegmentType() string      { return TImage }
func (Record) SegmentType() string     { return TRecord }
func (Video) SegmentType() string      { return TVideo }
func (Forward) SegmentType() string    { return TForward }
func (MarketFace) SegmentType() string { return TMarketFace }
func (LightApp) SegmentType() string   { return TLightApp }
func (XML) SegmentType() string        { return TXML }

// Plain returns a message consisting of a single text segment.
func Plain(text string) Message {
	return Message{Text{Text: text}}
}

// element is the wire representation of a segment.
type element struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes the message as an array of wire elements.
func (m Message) MarshalJSON() ([]byte, error) {
	elements := make([]struct {
		Type string  `json:"type"`
		Data Segment `json:"data"`
	}, len(m))
	for i, seg := range m {
		elements[i].Type = seg.SegmentType()
		elements[i].Data = seg
	}
	return json.Marshal(elements)
}

// UnmarshalJSON decodes an array of wire elements.  It fails on an element
// type that is not part of the protocol.
func (m *Message) UnmarshalJSON(data []byte) error {
	var elements []element
	if err := json.Unmarshal(data, &elements); err != nil {
		return err
	}
	msg := make(Message, 0, len(elements))
	for i, el := range elements {
		seg, err := decodeSegment(el)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		msg = append(msg, seg)
	}
	*m = msg
	return nil
}

func decodeSegment(el element) (Segment, error) {
	var seg Segment
	switch el.Type {
	case TText:
		seg = &Text{}
	case TMention:
		seg = &Mention{}
	case TMentionAll:
		seg = &MentionAll{}
	case TFace:
		seg = &Face{}
	case TReply:
		seg = &Reply{}
	case TImage:
		seg = &Image{}
	case TRecord:
		seg = &Record{}
	case TVideo:
		seg = &Video{}
	case TForward:
		seg = &Forward{}
	case TMarketFace:
		seg = &MarketFace{}
	case TLightApp:
		seg = &LightApp{}
	case TXML:
		seg = &XML{}
	default:
		return nil, fmt.Errorf("unknown element type %q", el.Type)
	}
	if len(el.Data) > 0 {
		if err := json.Unmarshal(el.Data, seg); err != nil {
			return nil, err
		}
	}
	return deref(seg), nil
}

// deref returns the value that the segment pointer points to, so that
// segments are comparable and switchable by value type.
func deref(s Segment) Segment {
	switch v := s.(type) {
	case *Text:
		return *v
	case *Mention:
		return *v
	case *MentionAll:
		return *v
	case *Face:
		return *v
	case *Reply:
		return *v
	case *Image:
		return *v
	case *Record:
		return *v
	case *Video:
		return *v
	case *Forward:
		return *v
	case *MarketFace:
		return *v
	case *LightApp:
		return *v
	case *XML:
		return *v
	}
	return s
}

// String returns the log representation of the message: text segments
// verbatim, all others as "[type]".
func (m Message) String() string {
	var sb strings.Builder
	for _, seg := range m {
		if t, ok := seg.(Text); ok {
			sb.WriteString(t.Text)
		} else {
			sb.WriteString("[" + seg.SegmentType() + "]")
		}
	}
	return sb.String()
}

// JoinedText returns the concatenation of all plain text segments.
func (m Message) JoinedText() string {
	var sb strings.Builder
	for _, seg := range m {
		if t, ok := seg.(Text); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

// IsText reports whether the message consists of text segments only.
func (m Message) IsText() bool {
	for _, seg := range m {
		if _, ok := seg.(Text); !ok {
			return false
		}
	}
	return true
}
