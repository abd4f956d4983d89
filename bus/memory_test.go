package bus

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func newTestBus(t *testing.T) *MemoryBus {
	t.Helper()
	b := NewMemoryBus(DefaultConfig())
	t.Cleanup(func() { b.Close() })
	return b
}

func createTestPipeline(t *testing.T, b *MemoryBus, participants ...string) *Pipeline {
	t.Helper()
	p, err := b.CreatePipeline("fulfilment", "order fulfilment chain", participants, nil)
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	return p
}

func recvMessage(t *testing.T, sub Subscription) *Message {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

// --- Unit Tests ---

func TestCreatePipeline(t *testing.T) {
	b := newTestBus(t)

	p := createTestPipeline(t, b, "orders", "inventory", "orders")

	if p.ID == "" {
		t.Error("pipeline ID not assigned")
	}
	if p.Status != StatusActive {
		t.Errorf("Status = %q, want active", p.Status)
	}
	// Participant set is unique.
	if len(p.Participants) != 2 {
		t.Errorf("Participants = %v, want 2 unique entries", p.Participants)
	}
	if !p.HasParticipant("orders") || !p.HasParticipant("inventory") {
		t.Errorf("participants missing: %v", p.Participants)
	}
}

func TestCreatePipelineRejectsWildcardParticipant(t *testing.T) {
	b := newTestBus(t)

	if _, err := b.CreatePipeline("p", "", []string{"orders", Wildcard}, nil); !errors.Is(err, ErrInvalidAgent) {
		t.Errorf("got %v, want ErrInvalidAgent", err)
	}
}

func TestSendMessageValidation(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "orders", "inventory")

	tests := []struct {
		name       string
		pipelineID string
		draft      Draft
		wantErr    error
	}{
		{
			"unknown pipeline",
			"nope",
			Draft{From: "orders", To: []string{"inventory"}, Type: TypeNotification},
			ErrPipelineNotFound,
		},
		{
			"sender not participant",
			p.ID,
			Draft{From: "intruder", To: []string{"inventory"}, Type: TypeNotification},
			ErrNotParticipant,
		},
		{
			"recipient not participant",
			p.ID,
			Draft{From: "orders", To: []string{"pricing"}, Type: TypeNotification},
			ErrUnknownRecipient,
		},
		{
			"missing recipient",
			p.ID,
			Draft{From: "orders", Type: TypeNotification},
			ErrInvalidAgent,
		},
		{
			"invalid type",
			p.ID,
			Draft{From: "orders", To: []string{"inventory"}, Type: MessageType("gossip")},
			ErrInvalidType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := b.SendMessage(tt.pipelineID, tt.draft)
			if msg != nil {
				t.Error("message should be nil on validation failure")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSendMessagePausedPipeline(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "orders", "inventory")

	if err := b.PausePipeline(p.ID); err != nil {
		t.Fatalf("PausePipeline: %v", err)
	}
	if _, err := b.SendMessage(p.ID, Draft{From: "orders", To: []string{"inventory"}, Type: TypeNotification}); !errors.Is(err, ErrPipelineNotActive) {
		t.Errorf("got %v, want ErrPipelineNotActive", err)
	}

	if err := b.ResumePipeline(p.ID); err != nil {
		t.Fatalf("ResumePipeline: %v", err)
	}
	if _, err := b.SendMessage(p.ID, Draft{From: "orders", To: []string{"inventory"}, Type: TypeNotification}); err != nil {
		t.Errorf("send after resume: %v", err)
	}
}

func TestSendMessageAssignsIdentity(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "orders", "inventory")

	before := time.Now()
	msg, err := b.SendMessage(p.ID, Draft{From: "orders", To: []string{"inventory"}, Type: TypeRequest, Subject: "reserve"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if msg.ID == "" {
		t.Error("message ID not assigned")
	}
	if msg.Timestamp.Before(before) {
		t.Error("timestamp not assigned at send time")
	}
	if msg.PipelineID != p.ID {
		t.Errorf("PipelineID = %q", msg.PipelineID)
	}
}

// --- Delivery Tests ---

func TestPointToPointDelivery(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "orders", "inventory", "pricing")

	inv, _ := b.SubscribeToAgent("inventory")
	pri, _ := b.SubscribeToAgent("pricing")

	b.SendMessage(p.ID, Draft{From: "orders", To: []string{"inventory"}, Type: TypeNotification, Subject: "restock"})

	msg := recvMessage(t, inv)
	if msg.Subject != "restock" {
		t.Errorf("Subject = %q", msg.Subject)
	}

	select {
	case m := <-pri.Messages():
		t.Errorf("pricing should not receive point-to-point message, got %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMulticastDelivery(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "orders", "inventory", "pricing", "shipping")

	inv, _ := b.SubscribeToAgent("inventory")
	pri, _ := b.SubscribeToAgent("pricing")
	shp, _ := b.SubscribeToAgent("shipping")

	b.SendMessage(p.ID, Draft{From: "orders", To: []string{"inventory", "pricing"}, Type: TypeNotification})

	recvMessage(t, inv)
	recvMessage(t, pri)
	select {
	case <-shp.Messages():
		t.Error("shipping was not addressed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "a", "b", "c")

	subA, _ := b.SubscribeToAgent("a")
	subB, _ := b.SubscribeToAgent("b")
	subC, _ := b.SubscribeToAgent("c")

	b.SendMessage(p.ID, Draft{From: "a", To: []string{Wildcard}, Type: TypeBroadcast})

	recvMessage(t, subB)
	recvMessage(t, subC)
	select {
	case <-subA.Messages():
		t.Error("broadcast must not be delivered to the sender")
	case <-time.After(50 * time.Millisecond):
	}

	stats, err := b.Stats(p.ID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if got := stats.Participants["b"].Received; got != 1 {
		t.Errorf("b.Received = %d, want 1", got)
	}
	if got := stats.Participants["c"].Received; got != 1 {
		t.Errorf("c.Received = %d, want 1", got)
	}
	if got := stats.Participants["a"].Received; got != 0 {
		t.Errorf("a.Received = %d, want 0", got)
	}
	if got := stats.Participants["a"].Sent; got != 1 {
		t.Errorf("a.Sent = %d, want 1", got)
	}
	if stats.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", stats.MessageCount)
	}
}

func TestDeliveryOrderPerRecipient(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "orders", "inventory")

	sub, _ := b.SubscribeToAgent("inventory")

	for i := 0; i < 10; i++ {
		payload, _ := json.Marshal(i)
		b.SendMessage(p.ID, Draft{From: "orders", To: []string{"inventory"}, Type: TypeNotification, Content: payload})
	}

	for i := 0; i < 10; i++ {
		msg := recvMessage(t, sub)
		var got int
		json.Unmarshal(msg.Content, &got)
		if got != i {
			t.Fatalf("message %d arrived out of order (got %d)", i, got)
		}
	}
}

func TestPipelineSubscription(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "orders", "inventory")

	sub, err := b.SubscribeToPipeline(p.ID)
	if err != nil {
		t.Fatalf("SubscribeToPipeline: %v", err)
	}

	b.SendMessage(p.ID, Draft{From: "orders", To: []string{"inventory"}, Type: TypeNotification})

	msg := recvMessage(t, sub)
	if msg.From != "orders" {
		t.Errorf("From = %q", msg.From)
	}

	if _, err := b.SubscribeToPipeline("nope"); !errors.Is(err, ErrPipelineNotFound) {
		t.Errorf("unknown pipeline: got %v", err)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "orders", "inventory")

	sub, _ := b.SubscribeToAgent("inventory")
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second Unsubscribe: %v", err)
	}

	b.SendMessage(p.ID, Draft{From: "orders", To: []string{"inventory"}, Type: TypeNotification})

	if _, ok := <-sub.Messages(); ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

// --- Participant Management Tests ---

func TestAddRemoveParticipant(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "orders", "inventory")

	if err := b.AddParticipant(p.ID, "pricing"); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	// Re-adding is a no-op.
	if err := b.AddParticipant(p.ID, "pricing"); err != nil {
		t.Fatalf("AddParticipant twice: %v", err)
	}

	if _, err := b.SendMessage(p.ID, Draft{From: "pricing", To: []string{"orders"}, Type: TypeNotification}); err != nil {
		t.Errorf("new participant should be able to send: %v", err)
	}

	if err := b.RemoveParticipant(p.ID, "pricing"); err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	if _, err := b.SendMessage(p.ID, Draft{From: "pricing", To: []string{"orders"}, Type: TypeNotification}); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("removed participant: got %v, want ErrNotParticipant", err)
	}
	if err := b.RemoveParticipant(p.ID, "pricing"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("removing absent participant: got %v", err)
	}

	// Stats for the removed participant survive.
	stats, _ := b.Stats(p.ID)
	if stats.Participants["pricing"].Sent != 1 {
		t.Errorf("pricing.Sent = %d, want 1", stats.Participants["pricing"].Sent)
	}
}

func TestClosePipeline(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "orders", "inventory")

	pipeSub, _ := b.SubscribeToPipeline(p.ID)
	agentSub, _ := b.SubscribeToAgent("inventory")

	if !b.ClosePipeline(p.ID) {
		t.Fatal("first close should return true")
	}
	if b.ClosePipeline(p.ID) {
		t.Error("second close should be a no-op returning false")
	}
	if b.ClosePipeline("nope") {
		t.Error("closing unknown pipeline should return false")
	}

	if _, ok := <-pipeSub.Messages(); ok {
		t.Error("pipeline subscription should be closed")
	}

	if _, err := b.SendMessage(p.ID, Draft{From: "orders", To: []string{"inventory"}, Type: TypeNotification}); !errors.Is(err, ErrPipelineNotActive) {
		t.Errorf("send on closed pipeline: got %v", err)
	}

	// Direct agent subscriptions are untouched: deliver via another pipeline.
	p2 := createTestPipeline(t, b, "orders", "inventory")
	b.SendMessage(p2.ID, Draft{From: "orders", To: []string{"inventory"}, Type: TypeNotification})
	recvMessage(t, agentSub)
}

func TestStatsSnapshotIsCopy(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "orders", "inventory")

	b.SendMessage(p.ID, Draft{From: "orders", To: []string{"inventory"}, Type: TypeNotification})

	stats, _ := b.Stats(p.ID)
	stats.Participants["orders"] = ParticipantStats{Sent: 99}
	stats.MessageCount = 99

	again, _ := b.Stats(p.ID)
	if again.Participants["orders"].Sent != 1 || again.MessageCount != 1 {
		t.Error("Stats returned a live reference")
	}
}

func TestBusClose(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	p, _ := b.CreatePipeline("p", "", []string{"a", "b"}, nil)
	sub, _ := b.SubscribeToAgent("a")

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, ok := <-sub.Messages(); ok {
		t.Error("subscription should be closed")
	}
	if _, err := b.SendMessage(p.ID, Draft{From: "a", To: []string{"b"}, Type: TypeNotification}); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close: got %v", err)
	}
}
