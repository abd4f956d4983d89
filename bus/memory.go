package bus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/swarmlink/swarmlink/logging"
)

// MemoryBus implements MessageBus with in-process channels. All state is
// owned by the bus instance; snapshots and stats are returned by copy.
type MemoryBus struct {
	config Config
	logger *logging.Logger

	mu             sync.Mutex
	pipelines      map[string]*pipelineState
	agentSubs      map[string][]*memorySub
	pipelineSubs   map[string][]*memorySub
	agentPipelines map[string]map[string]struct{} // agent -> pipeline IDs
	closed         atomic.Bool

	waiterMu sync.Mutex
	waiters  map[string]*replyWaiter // responseID -> waiter
}

type subKind int

const (
	subAgent subKind = iota
	subPipeline
)

type memorySub struct {
	kind   subKind
	key    string
	ch     chan *Message
	closed atomic.Bool
	bus    *MemoryBus
}

// replyWaiter is a transient listener for one correlated response.
type replyWaiter struct {
	ch        chan *Message
	requester string
	responder string
}

// Option configures a MemoryBus.
type Option func(*MemoryBus)

// WithLogger sets the bus logger. Default is a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *MemoryBus) {
		b.logger = l.WithComponent("bus")
	}
}

// NewMemoryBus creates a new in-process message bus.
func NewMemoryBus(cfg Config, opts ...Option) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	b := &MemoryBus{
		config:         cfg,
		logger:         logging.Nop(),
		pipelines:      make(map[string]*pipelineState),
		agentSubs:      make(map[string][]*memorySub),
		pipelineSubs:   make(map[string][]*memorySub),
		agentPipelines: make(map[string]map[string]struct{}),
		waiters:        make(map[string]*replyWaiter),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CreatePipeline allocates a pipeline and indexes every participant.
func (b *MemoryBus) CreatePipeline(name, description string, participants, messageTypes []string) (*Pipeline, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	for _, id := range participants {
		if id == "" || id == Wildcard {
			return nil, ErrInvalidAgent
		}
	}

	now := time.Now()
	p := &pipelineState{
		id:           uuid.NewString(),
		name:         name,
		description:  description,
		participants: make(map[string]struct{}, len(participants)),
		messageTypes: append([]string(nil), messageTypes...),
		status:       StatusActive,
		created:      now,
		updated:      now,
		stats: PipelineStats{
			StartTime:    now,
			Participants: make(map[string]ParticipantStats),
		},
	}
	for _, id := range participants {
		p.participants[id] = struct{}{}
		p.stats.Participants[id] = ParticipantStats{}
	}

	b.mu.Lock()
	b.pipelines[p.id] = p
	for id := range p.participants {
		b.indexParticipant(id, p.id)
	}
	b.mu.Unlock()

	b.logger.Info("pipeline_created", map[string]interface{}{
		"pipeline":     p.id,
		"name":         name,
		"participants": len(p.participants),
	})
	return p.snapshot(), nil
}

// Pipeline returns a snapshot of a pipeline.
func (b *MemoryBus) Pipeline(id string) (*Pipeline, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pipelines[id]
	if !ok {
		return nil, ErrPipelineNotFound
	}
	return p.snapshot(), nil
}

// SendMessage validates, records and delivers a message.
func (b *MemoryBus) SendMessage(pipelineID string, draft Draft) (*Message, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if draft.From == "" {
		return nil, ErrInvalidAgent
	}
	if !draft.Type.Valid() {
		return nil, ErrInvalidType
	}

	b.mu.Lock()
	p, ok := b.pipelines[pipelineID]
	if !ok {
		b.mu.Unlock()
		return nil, ErrPipelineNotFound
	}
	if p.status != StatusActive {
		b.mu.Unlock()
		return nil, ErrPipelineNotActive
	}
	if _, ok := p.participants[draft.From]; !ok {
		b.mu.Unlock()
		return nil, ErrNotParticipant
	}

	recipients, err := resolveRecipients(p, draft)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}

	now := time.Now()
	msg := &Message{
		ID:         uuid.NewString(),
		PipelineID: pipelineID,
		From:       draft.From,
		To:         append([]string(nil), draft.To...),
		Type:       draft.Type,
		Subject:    draft.Subject,
		Content:    draft.Content,
		Metadata:   draft.Metadata,
		Timestamp:  now,
	}

	p.recordSent(draft.From, now)
	for _, r := range recipients {
		p.recordReceived(r, now)
	}

	// Delivery happens under the bus lock: sends are non-blocking and
	// the lock preserves per-recipient FIFO across concurrent senders.
	for _, r := range recipients {
		b.deliverToAgent(r, msg)
	}
	b.mu.Unlock()

	b.notifyWaiter(msg)

	b.logger.MessageSent(pipelineID, draft.From, len(recipients), string(draft.Type))
	return msg, nil
}

// resolveRecipients expands the wildcard and validates explicit targets.
// Caller holds b.mu.
func resolveRecipients(p *pipelineState, draft Draft) ([]string, error) {
	if len(draft.To) == 0 {
		return nil, ErrInvalidAgent
	}

	if len(draft.To) == 1 && draft.To[0] == Wildcard {
		out := make([]string, 0, len(p.participants)-1)
		for id := range p.participants {
			if id != draft.From {
				out = append(out, id)
			}
		}
		return out, nil
	}

	out := make([]string, 0, len(draft.To))
	for _, id := range draft.To {
		if id == "" || id == Wildcard {
			return nil, ErrInvalidAgent
		}
		if _, ok := p.participants[id]; !ok {
			return nil, ErrUnknownRecipient
		}
		out = append(out, id)
	}
	return out, nil
}

// deliverToAgent emits the message on the agent's own channels and on
// every pipeline subscription the agent is part of. Caller holds b.mu.
func (b *MemoryBus) deliverToAgent(agentID string, msg *Message) {
	for _, sub := range b.agentSubs[agentID] {
		b.push(sub, agentID, msg)
	}
	for pid := range b.agentPipelines[agentID] {
		for _, sub := range b.pipelineSubs[pid] {
			b.push(sub, agentID, msg)
		}
	}
}

// push performs a non-blocking send, dropping on a full buffer.
func (b *MemoryBus) push(sub *memorySub, agentID string, msg *Message) {
	if sub.closed.Load() {
		return
	}
	select {
	case sub.ch <- msg:
	default:
		b.logger.DeliveryDropped(agentID, msg.PipelineID)
	}
}

// notifyWaiter resolves a pending request if the message is its
// correlated response.
func (b *MemoryBus) notifyWaiter(msg *Message) {
	if msg.Type != TypeResponse {
		return
	}
	rid := msg.Metadata[MetaResponseID]
	if rid == "" {
		return
	}

	b.waiterMu.Lock()
	w, ok := b.waiters[rid]
	if ok && msg.From == w.responder && containsID(msg.To, w.requester) {
		delete(b.waiters, rid)
	} else {
		ok = false
	}
	b.waiterMu.Unlock()

	if ok {
		w.ch <- msg // buffered, single producer
		close(w.ch)
	}
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// SubscribeToAgent subscribes to every message addressed to an agent.
func (b *MemoryBus) SubscribeToAgent(agentID string) (Subscription, error) {
	if agentID == "" || agentID == Wildcard {
		return nil, ErrInvalidAgent
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		kind: subAgent,
		key:  agentID,
		ch:   make(chan *Message, b.config.BufferSize),
		bus:  b,
	}

	b.mu.Lock()
	b.agentSubs[agentID] = append(b.agentSubs[agentID], sub)
	b.mu.Unlock()

	return sub, nil
}

// SubscribeToPipeline subscribes to every delivery involving a pipeline
// participant.
func (b *MemoryBus) SubscribeToPipeline(pipelineID string) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.pipelines[pipelineID]; !ok {
		return nil, ErrPipelineNotFound
	}

	sub := &memorySub{
		kind: subPipeline,
		key:  pipelineID,
		ch:   make(chan *Message, b.config.BufferSize),
		bus:  b,
	}
	b.pipelineSubs[pipelineID] = append(b.pipelineSubs[pipelineID], sub)
	return sub, nil
}

// AddParticipant adds an agent to a pipeline. Adding an existing
// participant is a no-op.
func (b *MemoryBus) AddParticipant(pipelineID, agentID string) error {
	if agentID == "" || agentID == Wildcard {
		return ErrInvalidAgent
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pipelines[pipelineID]
	if !ok {
		return ErrPipelineNotFound
	}
	if p.status == StatusClosed {
		return ErrPipelineNotActive
	}
	if _, exists := p.participants[agentID]; exists {
		return nil
	}

	p.participants[agentID] = struct{}{}
	if _, ok := p.stats.Participants[agentID]; !ok {
		p.stats.Participants[agentID] = ParticipantStats{}
	}
	p.updated = time.Now()
	b.indexParticipant(agentID, pipelineID)
	return nil
}

// RemoveParticipant removes an agent from a pipeline. Its statistics are
// kept; already-delivered messages are unaffected.
func (b *MemoryBus) RemoveParticipant(pipelineID, agentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pipelines[pipelineID]
	if !ok {
		return ErrPipelineNotFound
	}
	if _, exists := p.participants[agentID]; !exists {
		return ErrNotParticipant
	}

	delete(p.participants, agentID)
	p.updated = time.Now()
	b.unindexParticipant(agentID, pipelineID)
	return nil
}

// PausePipeline suspends delivery on an active pipeline.
func (b *MemoryBus) PausePipeline(pipelineID string) error {
	return b.setStatus(pipelineID, StatusActive, StatusPaused)
}

// ResumePipeline reactivates a paused pipeline.
func (b *MemoryBus) ResumePipeline(pipelineID string) error {
	return b.setStatus(pipelineID, StatusPaused, StatusActive)
}

func (b *MemoryBus) setStatus(pipelineID string, from, to PipelineStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pipelines[pipelineID]
	if !ok {
		return ErrPipelineNotFound
	}
	if p.status != from {
		return ErrPipelineNotActive
	}
	p.status = to
	p.updated = time.Now()
	return nil
}

// ClosePipeline closes a pipeline and drops its pipeline subscriptions.
// Returns false if the pipeline is unknown or already closed.
func (b *MemoryBus) ClosePipeline(pipelineID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pipelines[pipelineID]
	if !ok || p.status == StatusClosed {
		return false
	}

	p.status = StatusClosed
	p.updated = time.Now()

	for _, sub := range b.pipelineSubs[pipelineID] {
		sub.closed.Store(true)
		close(sub.ch)
	}
	delete(b.pipelineSubs, pipelineID)

	for id := range p.participants {
		b.unindexParticipant(id, pipelineID)
	}

	b.logger.Info("pipeline_closed", map[string]interface{}{"pipeline": pipelineID})
	return true
}

// Request sends a request and waits for the correlated response.
func (b *MemoryBus) Request(ctx context.Context, pipelineID, from, to, subject string, content json.RawMessage, timeout time.Duration) (*Message, error) {
	responseID := uuid.NewString()
	w := &replyWaiter{
		ch:        make(chan *Message, 1),
		requester: from,
		responder: to,
	}

	b.waiterMu.Lock()
	b.waiters[responseID] = w
	b.waiterMu.Unlock()

	draft := Draft{
		From:    from,
		To:      []string{to},
		Type:    TypeRequest,
		Subject: subject,
		Content: content,
		Metadata: map[string]string{
			MetaResponseID:      responseID,
			MetaExpectsResponse: "true",
		},
	}
	if _, err := b.SendMessage(pipelineID, draft); err != nil {
		b.removeWaiter(responseID)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-w.ch:
		if reply == nil {
			return nil, ErrClosed
		}
		return reply, nil
	case <-timer.C:
		b.removeWaiter(responseID)
		return nil, ErrTimeout
	case <-ctx.Done():
		b.removeWaiter(responseID)
		return nil, ctx.Err()
	}
}

func (b *MemoryBus) removeWaiter(responseID string) {
	b.waiterMu.Lock()
	delete(b.waiters, responseID)
	b.waiterMu.Unlock()
}

// Respond sends a response correlated to an earlier request. If the
// original did not ask for a response, nothing is sent.
func (b *MemoryBus) Respond(pipelineID string, original *Message, content json.RawMessage) (*Message, error) {
	if original == nil || !original.ExpectsResponse() {
		return nil, nil
	}
	if len(original.To) == 0 || original.To[0] == Wildcard {
		return nil, ErrInvalidAgent
	}

	draft := Draft{
		From:    original.To[0],
		To:      []string{original.From},
		Type:    TypeResponse,
		Subject: "Re: " + original.Subject,
		Content: content,
		Metadata: map[string]string{
			MetaResponseID:   original.Metadata[MetaResponseID],
			MetaInResponseTo: original.ID,
		},
	}
	return b.SendMessage(pipelineID, draft)
}

// Stats returns a copy of a pipeline's delivery statistics.
func (b *MemoryBus) Stats(pipelineID string) (*PipelineStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pipelines[pipelineID]
	if !ok {
		return nil, ErrPipelineNotFound
	}
	return p.statsCopy(), nil
}

// Close shuts down the bus, all subscriptions and pending requests.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	for _, subs := range b.agentSubs {
		for _, sub := range subs {
			sub.closed.Store(true)
			close(sub.ch)
		}
	}
	for _, subs := range b.pipelineSubs {
		for _, sub := range subs {
			sub.closed.Store(true)
			close(sub.ch)
		}
	}
	b.agentSubs = nil
	b.pipelineSubs = nil
	b.mu.Unlock()

	b.waiterMu.Lock()
	for id, w := range b.waiters {
		close(w.ch)
		delete(b.waiters, id)
	}
	b.waiterMu.Unlock()

	return nil
}

// indexParticipant records agent -> pipeline membership. Caller holds b.mu.
func (b *MemoryBus) indexParticipant(agentID, pipelineID string) {
	if b.agentPipelines[agentID] == nil {
		b.agentPipelines[agentID] = make(map[string]struct{})
	}
	b.agentPipelines[agentID][pipelineID] = struct{}{}
}

// unindexParticipant removes agent -> pipeline membership. Caller holds b.mu.
func (b *MemoryBus) unindexParticipant(agentID, pipelineID string) {
	if set, ok := b.agentPipelines[agentID]; ok {
		delete(set, pipelineID)
		if len(set) == 0 {
			delete(b.agentPipelines, agentID)
		}
	}
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	switch s.kind {
	case subAgent:
		s.bus.agentSubs[s.key] = removeSub(s.bus.agentSubs[s.key], s)
	case subPipeline:
		s.bus.pipelineSubs[s.key] = removeSub(s.bus.pipelineSubs[s.key], s)
	}

	close(s.ch)
	return nil
}

func removeSub(subs []*memorySub, target *memorySub) []*memorySub {
	for i, sub := range subs {
		if sub == target {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}
