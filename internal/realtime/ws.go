package realtime

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

// Outbound message types pushed to clients.
const (
	TypeNotification            = "notification"
	TypeChatMessage             = "chat_message"
	TypeInteractionNotification = "interaction_notification"
)

// Inbound is a client frame. Clients join and leave resolution chats and
// post messages; everything else arrives over plain HTTP. AuthorID and
// Timestamp are advisory: the server derives both from the authenticated
// session and its own clock.
type Inbound struct {
	Type         string   `json:"type"`
	ResolutionID string   `json:"resolution_id,omitempty"`
	Message      string   `json:"message,omitempty"`
	AuthorID     string   `json:"author_id,omitempty"`
	Timestamp    string   `json:"timestamp,omitempty"`
	ReplyTo      string   `json:"reply_to,omitempty"`
	Mentions     []string `json:"mentions,omitempty"`
}

const (
	InboundJoinChat    = "join_chat"
	InboundLeaveChat   = "leave_chat"
	InboundChatMessage = "chat_message"
)

// Session is one websocket connection attached to the hub.
type Session struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	groups map[string]struct{}
}

// Attach wraps an accepted connection and joins the initial groups. Callers
// must run WritePump and call Close when the read loop ends.
func (h *Hub) Attach(conn *websocket.Conn, initial ...string) *Session {
	session := &Session{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 32),
		groups: make(map[string]struct{}),
	}
	for _, group := range initial {
		session.Join(group)
	}
	return session
}

func (s *Session) Join(group string) {
	if _, ok := s.groups[group]; ok {
		return
	}
	s.groups[group] = struct{}{}
	s.hub.join(group, s)
}

func (s *Session) Leave(group string) {
	if _, ok := s.groups[group]; !ok {
		return
	}
	delete(s.groups, group)
	s.hub.leave(group, s)
}

// Close leaves every group and releases the send queue.
func (s *Session) Close() {
	for group := range s.groups {
		s.hub.leave(group, s)
	}
	s.groups = make(map[string]struct{})
}

// WritePump drains the send queue onto the connection until the context is
// cancelled or a write fails.
func (s *Session) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-s.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := s.conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// Read blocks for the next client frame.
func (s *Session) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	return data, err
}
