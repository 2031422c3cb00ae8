package milky

// In this file: enrichment of message events before dispatch.  A message is
// marked as addressed to the bot when it is private, replies to the bot, or
// mentions the bot at either end; the matched segments are stripped so the
// handler sees only the payload.

import (
	"context"
	"regexp"
	"strings"

	"github.com/rusq/milky/event"
	"github.com/rusq/milky/message"
)

// nicknameRe builds the nickname prefix matcher.  Nil when no nicknames are
// configured.
func nicknameRe(nicknames []string) *regexp.Regexp {
	if len(nicknames) == 0 {
		return nil
	}
	quoted := make([]string, len(nicknames))
	for i, n := range nicknames {
		quoted[i] = regexp.QuoteMeta(n)
	}
	return regexp.MustCompile(`(?i)^(` + strings.Join(quoted, "|") + `)([\s,，]*|$)`)
}

func (s *Session) preprocess(ctx context.Context, ev *event.Message) {
	s.checkReply(ctx, ev)
	s.checkAtMe(ev)
	s.checkNickname(ev)
}

// checkReply resolves the replied-to message, removes the reply segment and
// marks the event addressed to the bot when it replies to the bot's own
// message.
func (s *Session) checkReply(ctx context.Context, ev *event.Message) {
	idx := -1
	for i, seg := range ev.Data.Segments {
		if _, ok := seg.(message.Reply); ok {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	reply := ev.Data.Segments[idx].(message.Reply)
	replied, err := s.GetMessage(ctx, ev.Data.Scene, ev.Data.PeerID, reply.MessageSeq)
	if err != nil {
		s.lg.Warn("error when getting message reply info", "error", err)
		return
	}
	ev.Reply = replied
	if replied.SenderID == s.SelfID() {
		ev.ToMe = true
	}

	msg := ev.Data.Segments
	msg = append(msg[:idx], msg[idx+1:]...)

	// the mention that clients insert after the reply segment duplicates the
	// reply target; drop it, and the separator text that follows.
	if idx < len(msg) {
		if m, ok := msg[idx].(message.Mention); ok && m.UserID == replied.SenderID {
			msg = append(msg[:idx], msg[idx+1:]...)
		}
	}
	if idx < len(msg) {
		if t, ok := msg[idx].(message.Text); ok {
			t.Text = strings.TrimLeft(t.Text, " ")
			if t.Text == "" {
				msg = append(msg[:idx], msg[idx+1:]...)
			} else {
				msg[idx] = t
			}
		}
	}
	if len(msg) == 0 {
		msg = message.Plain("")
	}
	ev.Data.Segments = msg
}

// checkAtMe strips a leading or trailing mention of the bot and marks the
// event accordingly.  Non-group messages always address the bot.
func (s *Session) checkAtMe(ev *event.Message) {
	if len(ev.Data.Segments) == 0 {
		ev.Data.Segments = message.Plain("")
	}
	if ev.Data.Scene != event.SceneGroup {
		ev.ToMe = true
		return
	}

	isAtMe := func(seg message.Segment) bool {
		m, ok := seg.(message.Mention)
		return ok && m.UserID == s.SelfID()
	}
	msg := ev.Data.Segments

	// leading mention, possibly doubled with separator text in between
	if isAtMe(msg[0]) {
		ev.ToMe = true
		msg = msg[1:]
		msg = trimLeadingSpaceText(msg)
		if len(msg) > 0 && isAtMe(msg[0]) {
			msg = msg[1:]
			msg = trimLeadingSpaceText(msg)
		}
	}

	if !ev.ToMe {
		// trailing mention, possibly followed by whitespace-only text
		i := len(msg) - 1
		if i > 0 {
			if t, ok := msg[i].(message.Text); ok && strings.TrimSpace(t.Text) == "" {
				i--
			}
		}
		if i >= 0 && isAtMe(msg[i]) {
			ev.ToMe = true
			msg = msg[:i]
		}
	}

	if len(msg) == 0 {
		msg = message.Plain("")
	}
	ev.Data.Segments = msg
}

func trimLeadingSpaceText(msg message.Message) message.Message {
	if len(msg) == 0 {
		return msg
	}
	t, ok := msg[0].(message.Text)
	if !ok {
		return msg
	}
	t.Text = strings.TrimLeft(t.Text, " ")
	if t.Text == "" {
		return msg[1:]
	}
	msg[0] = t
	return msg
}

// checkNickname detects a configured bot nickname at the start of the
// message and strips it.
func (s *Session) checkNickname(ev *event.Message) {
	re := s.adpt.nickRe
	if re == nil || len(ev.Data.Segments) == 0 {
		return
	}
	first, ok := ev.Data.Segments[0].(message.Text)
	if !ok {
		return
	}
	if m := re.FindStringIndex(first.Text); m != nil {
		s.lg.Debug("user is calling me by nickname")
		ev.ToMe = true
		first.Text = first.Text[m[1]:]
		ev.Data.Segments[0] = first
	}
}
