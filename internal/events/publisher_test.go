package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"agentdesk/internal/models"

	"github.com/nats-io/nats.go"
)

func TestSubject(t *testing.T) {
	p := NewPublisher(nil, "")
	if got := p.Subject(models.DirectionInbound); got != "agentdesk.messages.inbound" {
		t.Fatalf("unexpected subject %s", got)
	}
	if err := p.PublishMessage(context.Background(), models.Message{}); err != nil {
		t.Fatalf("publisher without connection must be a no-op: %v", err)
	}
}

func TestPublishMessage(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("set TEST_NATS_URL to run nats-backed tests")
	}
	pub, err := Connect(url, "test")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pub.Close()

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	defer sub.Close()
	ch := make(chan *nats.Msg, 1)
	if _, err := sub.ChanSubscribe("test.messages.*", ch); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	msg := models.Message{ID: "m1", ConversationID: "c1", AgentID: "a1", Direction: models.DirectionOutbound, SentAt: time.Now().UTC()}
	if err := pub.PublishMessage(context.Background(), msg); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-ch:
		if got.Subject != "test.messages.outbound" {
			t.Fatalf("unexpected subject %s", got.Subject)
		}
		var evt MessageEvent
		if err := json.Unmarshal(got.Data, &evt); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if evt.ID != "m1" || evt.ConversationID != "c1" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event not received")
	}
}
