package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"agentdesk/internal/models"
	"agentdesk/internal/storage/storagetest"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (p *recordingPublisher) PublishMessage(_ context.Context, msg models.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

type countingLocker struct {
	calls    int
	released int
}

func (l *countingLocker) Lock(context.Context, string, time.Duration, time.Duration) (func(), error) {
	l.calls++
	return func() { l.released++ }, nil
}

func TestResolveSequentialReusesActive(t *testing.T) {
	db := storagetest.Open(t)
	svc := NewService(db)
	ctx := context.Background()

	org := storagetest.Organization(t, db, "")
	agentID := storagetest.Agent(t, db, org, true)

	first, err := svc.Resolve(ctx, agentID, "5511999999999", "Ana")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	for i := 0; i < 5; i++ {
		id, err := svc.Resolve(ctx, agentID, "5511999999999", "")
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if id != first {
			t.Fatalf("resolve %d returned %s, want %s", i, id, first)
		}
	}
	active := storagetest.Count(t, db, `SELECT COUNT(*) FROM conversations WHERE agent_id = ? AND contact_id = ? AND status = 'active'`, agentID, "5511999999999")
	if active != 1 {
		t.Fatalf("expected one active conversation, got %d", active)
	}
}

func TestResolveCreatesNewAfterClose(t *testing.T) {
	db := storagetest.Open(t)
	svc := NewService(db)
	ctx := context.Background()

	org := storagetest.Organization(t, db, "")
	agentID := storagetest.Agent(t, db, org, true)

	first, err := svc.Resolve(ctx, agentID, "5511", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, first, models.ConversationClosed); err != nil {
		t.Fatalf("close: %v", err)
	}
	second, err := svc.Resolve(ctx, agentID, "5511", "")
	if err != nil {
		t.Fatalf("resolve after close: %v", err)
	}
	if second == first {
		t.Fatalf("expected a new conversation after closing the old one")
	}
	if _, err := svc.UpdateStatus(ctx, first, models.ConversationActive); !errors.Is(err, ErrActiveExists) {
		t.Fatalf("expected ErrActiveExists when reactivating, got %v", err)
	}
}

func TestResolveUsesLocker(t *testing.T) {
	db := storagetest.Open(t)
	locker := &countingLocker{}
	svc := NewService(db, WithLocker(locker, time.Second))

	org := storagetest.Organization(t, db, "")
	agentID := storagetest.Agent(t, db, org, true)

	if _, err := svc.Resolve(context.Background(), agentID, "5511", ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if locker.calls != 1 || locker.released != 1 {
		t.Fatalf("expected lock acquired and released once, got %d/%d", locker.calls, locker.released)
	}
}

func TestSaveMessageTouchesConversationAndPublishes(t *testing.T) {
	db := storagetest.Open(t)
	pub := &recordingPublisher{}
	svc := NewService(db, WithPublisher(pub))
	ctx := context.Background()

	org := storagetest.Organization(t, db, "")
	agentID := storagetest.Agent(t, db, org, true)
	convID := storagetest.Conversation(t, db, agentID, "5511")
	storagetest.Exec(t, db, `UPDATE conversations SET updated_at = ? WHERE id = ?`, time.Now().UTC().Add(-time.Hour), convID)

	msg, err := svc.SaveMessage(ctx, models.Message{ConversationID: convID, AgentID: agentID, Content: "oi", Direction: models.DirectionInbound, ExternalID: "ABC"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if msg.ID == "" {
		t.Fatalf("expected message id")
	}

	conv, msgs, err := svc.Get(ctx, convID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if conv.UpdatedAt.Before(msg.SentAt.Add(-time.Second)) {
		t.Fatalf("conversation updated_at not bumped: %v vs %v", conv.UpdatedAt, msg.SentAt)
	}
	if conv.OrganizationID != org {
		t.Fatalf("expected organization %s, got %s", org, conv.OrganizationID)
	}
	if len(msgs) != 1 || msgs[0].ExternalID != "ABC" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].ID != msg.ID {
		t.Fatalf("expected one published event, got %+v", pub.msgs)
	}

	if _, err := svc.SaveMessage(ctx, models.Message{ConversationID: convID, AgentID: agentID, Content: "x", Direction: "sideways"}); err == nil {
		t.Fatalf("expected invalid direction error")
	}
}

func TestPatchProviderMessageID(t *testing.T) {
	db := storagetest.Open(t)
	svc := NewService(db)
	ctx := context.Background()

	org := storagetest.Organization(t, db, "")
	agentID := storagetest.Agent(t, db, org, true)
	convID := storagetest.Conversation(t, db, agentID, "5511")
	msg, err := svc.SaveMessage(ctx, models.Message{ConversationID: convID, AgentID: agentID, Content: "resposta", Direction: models.DirectionOutbound})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := svc.PatchProviderMessageID(ctx, msg.ID, "WAMID-1"); err != nil {
		t.Fatalf("patch: %v", err)
	}
	_, msgs, err := svc.Get(ctx, convID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if msgs[0].ProviderMessageID != "WAMID-1" {
		t.Fatalf("provider id not stored: %+v", msgs[0])
	}
	if err := svc.PatchProviderMessageID(ctx, "missing", "x"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestRecentMessagesWindow(t *testing.T) {
	db := storagetest.Open(t)
	svc := NewService(db)
	ctx := context.Background()

	org := storagetest.Organization(t, db, "")
	agentID := storagetest.Agent(t, db, org, true)
	convID := storagetest.Conversation(t, db, agentID, "5511")

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 15; i++ {
		dir := "inbound"
		if i%2 == 1 {
			dir = "outbound"
		}
		ids = append(ids, storagetest.Message(t, db, convID, agentID, string(rune('a'+i)), dir, base.Add(time.Duration(i)*time.Second)))
	}

	msgs, err := svc.RecentMessages(ctx, convID, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.ID != ids[5+i] {
			t.Fatalf("position %d: got %s want %s", i, m.ID, ids[5+i])
		}
	}

	msgs, err = svc.RecentMessages(ctx, convID, 10, ids[14])
	if err != nil {
		t.Fatalf("recent excluding: %v", err)
	}
	if len(msgs) != 10 || msgs[9].ID != ids[13] || msgs[0].ID != ids[4] {
		t.Fatalf("exclusion not applied")
	}
}

func TestListFilters(t *testing.T) {
	db := storagetest.Open(t)
	svc := NewService(db)
	ctx := context.Background()

	org := storagetest.Organization(t, db, "")
	other := storagetest.Organization(t, db, "")
	a1 := storagetest.Agent(t, db, org, true)
	a2 := storagetest.Agent(t, db, org, true)
	a3 := storagetest.Agent(t, db, other, true)
	storagetest.Conversation(t, db, a1, "1")
	c2 := storagetest.Conversation(t, db, a2, "2")
	storagetest.Conversation(t, db, a3, "3")
	if _, err := svc.UpdateStatus(ctx, c2, models.ConversationArchived); err != nil {
		t.Fatalf("archive: %v", err)
	}

	all, err := svc.List(ctx, ListFilter{OrganizationID: org})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(all))
	}
	archived, err := svc.List(ctx, ListFilter{OrganizationID: org, Status: models.ConversationArchived})
	if err != nil {
		t.Fatalf("list archived: %v", err)
	}
	if len(archived) != 1 || archived[0].ID != c2 {
		t.Fatalf("unexpected archived list %+v", archived)
	}
	byAgent, err := svc.List(ctx, ListFilter{OrganizationID: org, AgentID: a1})
	if err != nil {
		t.Fatalf("list by agent: %v", err)
	}
	if len(byAgent) != 1 || byAgent[0].AgentID != a1 {
		t.Fatalf("unexpected agent list %+v", byAgent)
	}
	if _, err := svc.List(ctx, ListFilter{OrganizationID: org, Status: "bogus"}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}
