package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// --- Request/Response Tests ---

func TestRequestResponseRoundTrip(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "orders", "inventory")

	responder, _ := b.SubscribeToAgent("inventory")
	go func() {
		msg := <-responder.Messages()
		reply, _ := json.Marshal(map[string]int{"reserved": 3})
		b.Respond(p.ID, msg, reply)
	}()

	payload, _ := json.Marshal(map[string]int{"qty": 3})
	reply, err := b.Request(context.Background(), p.ID, "orders", "inventory", "reserve", payload, time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	if reply.Type != TypeResponse {
		t.Errorf("Type = %q, want response", reply.Type)
	}
	if reply.From != "inventory" || reply.To[0] != "orders" {
		t.Errorf("response endpoints not swapped: from=%q to=%v", reply.From, reply.To)
	}
	if reply.Metadata[MetaInResponseTo] == "" {
		t.Error("inResponseTo not set")
	}
}

func TestRequestTimeout(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "orders", "inventory")

	start := time.Now()
	reply, err := b.Request(context.Background(), p.ID, "orders", "inventory", "reserve", nil, 100*time.Millisecond)
	elapsed := time.Since(start)

	if reply != nil {
		t.Error("reply should be nil on timeout")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
	if elapsed < 100*time.Millisecond {
		t.Errorf("resolved after %v, want >= 100ms", elapsed)
	}

	// The listener is gone: an unrelated response with a different
	// correlation ID must not resolve anything or leak.
	b.SendMessage(p.ID, Draft{
		From: "inventory", To: []string{"orders"}, Type: TypeResponse,
		Metadata: map[string]string{MetaResponseID: "unrelated"},
	})

	b.waiterMu.Lock()
	pending := len(b.waiters)
	b.waiterMu.Unlock()
	if pending != 0 {
		t.Errorf("waiters leaked: %d", pending)
	}
}

func TestRequestIgnoresWrongCorrelation(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "orders", "inventory")

	responder, _ := b.SubscribeToAgent("inventory")
	go func() {
		msg := <-responder.Messages()
		// A response with a different correlation ID first.
		b.SendMessage(p.ID, Draft{
			From: "inventory", To: []string{"orders"}, Type: TypeResponse,
			Metadata: map[string]string{MetaResponseID: "someone-else"},
		})
		b.Respond(p.ID, msg, nil)
	}()

	reply, err := b.Request(context.Background(), p.ID, "orders", "inventory", "reserve", nil, time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if reply.Metadata[MetaResponseID] == "someone-else" {
		t.Error("request resolved by unrelated response")
	}
}

func TestRequestCancellation(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "orders", "inventory")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := b.Request(ctx, p.ID, "orders", "inventory", "reserve", nil, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestRequestValidationFailureRemovesWaiter(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "orders", "inventory")

	if _, err := b.Request(context.Background(), p.ID, "intruder", "inventory", "x", nil, time.Second); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("got %v, want ErrNotParticipant", err)
	}

	b.waiterMu.Lock()
	pending := len(b.waiters)
	b.waiterMu.Unlock()
	if pending != 0 {
		t.Errorf("waiters leaked: %d", pending)
	}
}

func TestRespondWithoutExpectsResponse(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "orders", "inventory")

	msg, err := b.SendMessage(p.ID, Draft{From: "orders", To: []string{"inventory"}, Type: TypeNotification})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	sub, _ := b.SubscribeToAgent("orders")
	reply, err := b.Respond(p.ID, msg, nil)
	if reply != nil || err != nil {
		t.Errorf("Respond = (%v, %v), want (nil, nil)", reply, err)
	}

	select {
	case m := <-sub.Messages():
		t.Errorf("nothing should be sent, got %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRespondCarriesCorrelation(t *testing.T) {
	b := newTestBus(t)
	p := createTestPipeline(t, b, "orders", "inventory")

	req, _ := b.SendMessage(p.ID, Draft{
		From: "orders", To: []string{"inventory"}, Type: TypeRequest, Subject: "reserve",
		Metadata: map[string]string{MetaResponseID: "r-1", MetaExpectsResponse: "true"},
	})

	reply, err := b.Respond(p.ID, req, nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Metadata[MetaResponseID] != "r-1" {
		t.Errorf("responseId = %q, want r-1", reply.Metadata[MetaResponseID])
	}
	if reply.Metadata[MetaInResponseTo] != req.ID {
		t.Errorf("inResponseTo = %q, want %q", reply.Metadata[MetaInResponseTo], req.ID)
	}
}
