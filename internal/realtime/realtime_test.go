package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestChatGroupDeterministic(t *testing.T) {
	first := ChatGroup("pub-abc")
	second := ChatGroup("pub-abc")
	if first != second {
		t.Fatalf("ChatGroup not deterministic: %s vs %s", first, second)
	}
	if !strings.HasPrefix(first, "res:") {
		t.Fatalf("ChatGroup missing prefix: %s", first)
	}
	if len(first) != len("res:")+32 {
		t.Fatalf("ChatGroup unexpected length: %s", first)
	}
	if ChatGroup("pub-other") == first {
		t.Fatal("different public ids must hash to different groups")
	}
}

func TestInboundEnvelopeFields(t *testing.T) {
	raw := `{"type":"chat_message","resolution_id":"pub-abc","message":"hello there","author_id":"usr_1","timestamp":"2026-01-05T10:00:00Z"}`
	var frame Inbound
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		t.Fatalf("unmarshal inbound frame: %v", err)
	}
	if frame.Type != InboundChatMessage {
		t.Fatalf("type = %q, want chat_message", frame.Type)
	}
	if frame.ResolutionID != "pub-abc" {
		t.Fatalf("resolution_id = %q, want pub-abc", frame.ResolutionID)
	}
	if frame.Message != "hello there" {
		t.Fatalf("message = %q, want the message field decoded", frame.Message)
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	member := hub.Attach(nil, "res:a")
	outsider := hub.Attach(nil, "res:b")

	hub.Broadcast("res:a", []byte("hello"))

	select {
	case payload := <-member.send:
		if string(payload) != "hello" {
			t.Fatalf("unexpected payload %q", payload)
		}
	default:
		t.Fatal("member did not receive broadcast")
	}
	select {
	case payload := <-outsider.send:
		t.Fatalf("outsider received %q", payload)
	default:
	}
}

func TestHubLeave(t *testing.T) {
	hub := NewHub()
	session := hub.Attach(nil, "res:a")
	if hub.GroupSize("res:a") != 1 {
		t.Fatalf("GroupSize = %d, want 1", hub.GroupSize("res:a"))
	}
	session.Leave("res:a")
	if hub.GroupSize("res:a") != 0 {
		t.Fatalf("GroupSize after leave = %d, want 0", hub.GroupSize("res:a"))
	}
	hub.Broadcast("res:a", []byte("hello"))
	select {
	case payload := <-session.send:
		t.Fatalf("left session received %q", payload)
	default:
	}
}

func TestBrokerRoundTrip(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	hub := NewHub()
	broker := NewBrokerWithClient(client, hub)
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go broker.Run(ctx)

	session := hub.Attach(nil, "res:a")

	// Subscription setup races with the first publish, so retry briefly.
	payload := map[string]string{"type": TypeChatMessage, "content": "hi"}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := broker.Publish(ctx, "res:a", payload); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		select {
		case raw := <-session.send:
			var got map[string]string
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatalf("unmarshal payload: %v", err)
			}
			if got["content"] != "hi" || got["type"] != TypeChatMessage {
				t.Fatalf("unexpected payload %v", got)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("broadcast never arrived")
		}
	}
}
