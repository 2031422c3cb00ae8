// Copyright (c) 2021-2026 Rustam Gilyazov and Contributors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package milky

// In this file: the typed API surface of a session.  Every method routes an
// outbound action to the session's endpoint.

import (
	"context"
	"fmt"

	"github.com/rusq/milky/event"
	"github.com/rusq/milky/message"
)

// ready returns ErrSessionClosed unless the session is connected.  Outbound
// actions are not accepted while the transport is down.
func (s *Session) ready() error {
	if s.State() != StateConnected {
		return ErrSessionClosed
	}
	return nil
}

// MessageReceipt is the response to a send-message call.
type MessageReceipt struct {
	MessageSeq int64 `json:"message_seq"`
	Time       int64 `json:"time"`
	ClientSeq  int64 `json:"client_seq,omitempty"`
}

// SendPrivateMessage sends a message to a friend.
func (s *Session) SendPrivateMessage(ctx context.Context, userID int64, msg message.Message) (*MessageReceipt, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var mr MessageReceipt
	if err := s.client.Call(ctx, "send_private_message", map[string]any{
		"user_id": userID,
		"message": msg,
	}, &mr); err != nil {
		return nil, err
	}
	return &mr, nil
}

// SendGroupMessage sends a message to a group.
func (s *Session) SendGroupMessage(ctx context.Context, groupID int64, msg message.Message) (*MessageReceipt, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var mr MessageReceipt
	if err := s.client.Call(ctx, "send_group_message", map[string]any{
		"group_id": groupID,
		"message":  msg,
	}, &mr); err != nil {
		return nil, err
	}
	return &mr, nil
}

// Send replies to the message event in its own scene: a group message is
// answered in the group, anything else in the private chat with the peer.
func (s *Session) Send(ctx context.Context, ev *event.Message, msg message.Message) (*MessageReceipt, error) {
	if ev.Data.Scene == event.SceneGroup {
		return s.SendGroupMessage(ctx, ev.Data.PeerID, msg)
	}
	return s.SendPrivateMessage(ctx, ev.Data.PeerID, msg)
}

// GetMessage retrieves a single message by scene, peer and sequence number.
func (s *Session) GetMessage(ctx context.Context, scene event.Scene, peerID, messageSeq int64) (*event.IncomingMessage, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var resp struct {
		Message event.IncomingMessage `json:"message"`
	}
	if err := s.client.Call(ctx, "get_message", map[string]any{
		"message_scene": scene,
		"peer_id":       peerID,
		"message_seq":   messageSeq,
	}, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

// RecallPrivateMessage recalls a message previously sent to a friend.
func (s *Session) RecallPrivateMessage(ctx context.Context, userID, messageSeq int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.client.Call(ctx, "recall_private_message", map[string]any{
		"user_id":     userID,
		"message_seq": messageSeq,
	}, nil)
}

// RecallGroupMessage recalls a message in a group.
func (s *Session) RecallGroupMessage(ctx context.Context, groupID, messageSeq int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.client.Call(ctx, "recall_group_message", map[string]any{
		"group_id":    groupID,
		"message_seq": messageSeq,
	}, nil)
}

// LoginInfo is the identity of the bot account behind an endpoint.
type LoginInfo struct {
	UIN      int64  `json:"uin"`
	Nickname string `json:"nickname"`
}

// GetLoginInfo returns the identity of the bot account.
func (s *Session) GetLoginInfo(ctx context.Context) (*LoginInfo, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var li LoginInfo
	if err := s.client.Call(ctx, "get_login_info", nil, &li); err != nil {
		return nil, err
	}
	return &li, nil
}

// FriendCategory is a friend list category.
type FriendCategory struct {
	CategoryID   int64  `json:"category_id"`
	CategoryName string `json:"category_name"`
}

// Friend is a friend list entry.
type Friend struct {
	UserID   int64          `json:"user_id"`
	Nickname string         `json:"nickname"`
	Sex      string         `json:"sex"`
	QID      string         `json:"qid"`
	Remark   string         `json:"remark"`
	Category FriendCategory `json:"category"`
}

// GetFriendList returns the friend list.  Set noCache to bypass the
// endpoint's cache.
func (s *Session) GetFriendList(ctx context.Context, noCache bool) ([]Friend, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var resp struct {
		Friends []Friend `json:"friends"`
	}
	if err := s.client.Call(ctx, "get_friend_list", map[string]any{
		"no_cache": noCache,
	}, &resp); err != nil {
		return nil, err
	}
	return resp.Friends, nil
}

// Group is a group list entry.
type Group struct {
	GroupID        int64  `json:"group_id"`
	GroupName      string `json:"group_name"`
	MemberCount    int    `json:"member_count"`
	MaxMemberCount int    `json:"max_member_count"`
}

// GetGroupList returns the list of groups the bot is a member of.
func (s *Session) GetGroupList(ctx context.Context, noCache bool) ([]Group, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var resp struct {
		Groups []Group `json:"groups"`
	}
	if err := s.client.Call(ctx, "get_group_list", map[string]any{
		"no_cache": noCache,
	}, &resp); err != nil {
		return nil, err
	}
	return resp.Groups, nil
}

// Member is a group member.
type Member struct {
	UserID       int64  `json:"user_id"`
	Nickname     string `json:"nickname"`
	Sex          string `json:"sex"`
	GroupID      int64  `json:"group_id"`
	Card         string `json:"card"`
	Title        string `json:"title"`
	Level        int    `json:"level"`
	Role         string `json:"role"` // member, admin or owner
	JoinTime     int64  `json:"join_time"`
	LastSentTime int64  `json:"last_sent_time"`
}

// GetGroupMemberList returns the member list of a group.
func (s *Session) GetGroupMemberList(ctx context.Context, groupID int64, noCache bool) ([]Member, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var resp struct {
		Members []Member `json:"members"`
	}
	if err := s.client.Call(ctx, "get_group_member_list", map[string]any{
		"group_id": groupID,
		"no_cache": noCache,
	}, &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

// GetResourceTempURL resolves a resource ID to a temporary download URL.
func (s *Session) GetResourceTempURL(ctx context.Context, resourceID string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := s.client.Call(ctx, "get_resource_temp_url", map[string]any{
		"resource_id": resourceID,
	}, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// ForwardedMessage is one entry of a combined forward.
type ForwardedMessage struct {
	UserID   int64           `json:"user_id"`
	Name     string          `json:"name"`
	Segments message.Message `json:"segments"`
}

// GetForwardedMessages expands a combined forward by its ID.
func (s *Session) GetForwardedMessages(ctx context.Context, forwardID string) ([]ForwardedMessage, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var resp struct {
		Messages []ForwardedMessage `json:"messages"`
	}
	if err := s.client.Call(ctx, "get_forwarded_messages", map[string]any{
		"forward_id": forwardID,
	}, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// AcceptFriendRequest accepts a pending friend request.
func (s *Session) AcceptFriendRequest(ctx context.Context, requestID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.client.Call(ctx, "accept_friend_request", map[string]any{
		"request_id": requestID,
	}, nil)
}

// RejectFriendRequest rejects a pending friend request, optionally with a
// reason.
func (s *Session) RejectFriendRequest(ctx context.Context, requestID, reason string) error {
	if err := s.ready(); err != nil {
		return err
	}
	params := map[string]any{"request_id": requestID}
	if reason != "" {
		params["reason"] = reason
	}
	return s.client.Call(ctx, "reject_friend_request", params, nil)
}

// Sendable returns a copy of the message with receive-only segments made
// sendable: incoming media resolved to a URI, incoming forwards expanded
// into nodes.  Segments with no sendable form are dropped.  Set refresh to
// re-resolve resource URLs even when a cached temporary URL is present.
func (s *Session) Sendable(ctx context.Context, msg message.Message, refresh bool) (message.Message, error) {
	out := make(message.Message, 0, len(msg))
	for _, seg := range msg {
		switch v := seg.(type) {
		case message.Image:
			uri, err := s.resolveURI(ctx, v.URI, v.ResourceID, v.TempURL, refresh)
			if err != nil {
				return nil, err
			}
			out = append(out, message.Image{URI: uri, Summary: v.Summary, SubType: v.SubType})
		case message.Record:
			uri, err := s.resolveURI(ctx, v.URI, v.ResourceID, v.TempURL, refresh)
			if err != nil {
				return nil, err
			}
			out = append(out, message.Record{URI: uri})
		case message.Video:
			uri, err := s.resolveURI(ctx, v.URI, v.ResourceID, v.TempURL, refresh)
			if err != nil {
				return nil, err
			}
			out = append(out, message.Video{URI: uri, ThumbURL: v.ThumbURL})
		case message.Forward:
			if v.ForwardID == "" {
				out = append(out, v)
				continue
			}
			mm, err := s.GetForwardedMessages(ctx, v.ForwardID)
			if err != nil {
				return nil, fmt.Errorf("expanding forward: %w", err)
			}
			nodes := make([]message.Node, len(mm))
			for i, fm := range mm {
				nodes[i] = message.Node{UserID: fm.UserID, Name: fm.Name, Segments: fm.Segments}
			}
			out = append(out, message.Forward{Messages: nodes})
		case message.MarketFace, message.LightApp, message.XML:
			// receive only, no sendable form
			continue
		default:
			out = append(out, seg)
		}
	}
	return out, nil
}

func (s *Session) resolveURI(ctx context.Context, uri, resourceID, tempURL string, refresh bool) (string, error) {
	if uri != "" {
		return uri, nil
	}
	if tempURL != "" && !refresh {
		return tempURL, nil
	}
	if resourceID == "" {
		return "", fmt.Errorf("segment carries no uri and no resource id")
	}
	return s.GetResourceTempURL(ctx, resourceID)
}
