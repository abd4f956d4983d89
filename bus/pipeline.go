package bus

import (
	"sort"
	"time"
)

// PipelineStatus is the lifecycle state of a pipeline.
type PipelineStatus string

const (
	StatusActive PipelineStatus = "active"
	StatusPaused PipelineStatus = "paused"
	StatusClosed PipelineStatus = "closed"
)

// Pipeline is a snapshot of a named agent group.
type Pipeline struct {
	ID           string
	Name         string
	Description  string
	Participants []string // sorted, unique
	MessageTypes []string
	Status       PipelineStatus
	Created      time.Time
	Updated      time.Time
}

// HasParticipant reports whether an agent is in the snapshot.
func (p *Pipeline) HasParticipant(agentID string) bool {
	for _, id := range p.Participants {
		if id == agentID {
			return true
		}
	}
	return false
}

// ParticipantStats tracks one participant's traffic in a pipeline.
type ParticipantStats struct {
	Sent       int
	Received   int
	LastActive time.Time
}

// PipelineStats is derived from message flow. It is rebuilt as messages
// pass through and is never consulted for delivery decisions.
type PipelineStats struct {
	MessageCount    int
	StartTime       time.Time
	LastMessageTime time.Time
	Participants    map[string]ParticipantStats
}

// pipelineState is the bus-internal mutable record for a pipeline.
type pipelineState struct {
	id           string
	name         string
	description  string
	participants map[string]struct{}
	messageTypes []string
	status       PipelineStatus
	created      time.Time
	updated      time.Time
	stats        PipelineStats
}

// snapshot materializes an immutable Pipeline view.
func (p *pipelineState) snapshot() *Pipeline {
	ids := make([]string, 0, len(p.participants))
	for id := range p.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return &Pipeline{
		ID:           p.id,
		Name:         p.name,
		Description:  p.description,
		Participants: ids,
		MessageTypes: append([]string(nil), p.messageTypes...),
		Status:       p.status,
		Created:      p.created,
		Updated:      p.updated,
	}
}

// statsCopy deep-copies the derived statistics.
func (p *pipelineState) statsCopy() *PipelineStats {
	out := &PipelineStats{
		MessageCount:    p.stats.MessageCount,
		StartTime:       p.stats.StartTime,
		LastMessageTime: p.stats.LastMessageTime,
		Participants:    make(map[string]ParticipantStats, len(p.stats.Participants)),
	}
	for id, ps := range p.stats.Participants {
		out.Participants[id] = ps
	}
	return out
}

// recordSent updates sender-side statistics.
func (p *pipelineState) recordSent(agentID string, at time.Time) {
	p.stats.MessageCount++
	p.stats.LastMessageTime = at
	ps := p.stats.Participants[agentID]
	ps.Sent++
	ps.LastActive = at
	p.stats.Participants[agentID] = ps
}

// recordReceived updates recipient-side statistics.
func (p *pipelineState) recordReceived(agentID string, at time.Time) {
	ps := p.stats.Participants[agentID]
	ps.Received++
	ps.LastActive = at
	p.stats.Participants[agentID] = ps
}
