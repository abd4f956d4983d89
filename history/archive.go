// Package history keeps a searchable in-memory archive of coordination
// activity: messages that crossed the bus and interactions the task
// coordinator completed. It feeds operator tooling; it is never consulted
// for routing or delivery.
package history

import (
	"fmt"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/google/uuid"
)

// Record kinds.
const (
	KindMessage     = "message"
	KindInteraction = "interaction"
)

// Record is one archived coordination event.
type Record struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"` // "message" | "interaction"
	AgentType  string    `json:"agent_type,omitempty"`
	PipelineID string    `json:"pipeline_id,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	Content    string    `json:"content,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Duration   int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Archive indexes coordination records in a memory-only full-text index.
// Nothing touches disk; the archive dies with the process.
type Archive struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

// New creates an empty archive.
func New() (*Archive, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create archive index: %w", err)
	}
	return &Archive{index: index}, nil
}

// buildIndexMapping creates the index mapping for archive records.
func buildIndexMapping() mapping.IndexMapping {
	recordMapping := bleve.NewDocumentMapping()

	// Analyzed for full-text search
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name

	// Exact match
	keywordFieldMapping := bleve.NewKeywordFieldMapping()

	dateFieldMapping := bleve.NewDateTimeFieldMapping()

	recordMapping.AddFieldMappingsAt("subject", textFieldMapping)
	recordMapping.AddFieldMappingsAt("content", textFieldMapping)
	recordMapping.AddFieldMappingsAt("error", textFieldMapping)
	recordMapping.AddFieldMappingsAt("kind", keywordFieldMapping)
	recordMapping.AddFieldMappingsAt("agent_type", keywordFieldMapping)
	recordMapping.AddFieldMappingsAt("pipeline_id", keywordFieldMapping)
	recordMapping.AddFieldMappingsAt("created_at", dateFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = recordMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}

// RecordMessage archives a bus message and returns the record ID.
func (a *Archive) RecordMessage(pipelineID, from, subject, content string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return "", fmt.Errorf("archive is closed")
	}

	id := uuid.New().String()
	rec := Record{
		ID:         id,
		Kind:       KindMessage,
		AgentType:  from,
		PipelineID: pipelineID,
		Subject:    subject,
		Content:    content,
		Success:    true,
		CreatedAt:  time.Now(),
	}
	if err := a.index.Index(id, rec); err != nil {
		return "", fmt.Errorf("failed to index message record: %w", err)
	}
	return id, nil
}

// RecordInteraction archives a completed interaction. The id is the
// interaction's correlation ID and doubles as the record ID, so replayed
// completions overwrite rather than duplicate.
func (a *Archive) RecordInteraction(id, agentType, taskType string, success bool, duration time.Duration, errMsg string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("archive is closed")
	}

	rec := Record{
		ID:        id,
		Kind:      KindInteraction,
		AgentType: agentType,
		Subject:   taskType,
		Success:   success,
		Error:     errMsg,
		Duration:  duration.Milliseconds(),
		CreatedAt: time.Now(),
	}
	if err := a.index.Index(id, rec); err != nil {
		return fmt.Errorf("failed to index interaction record: %w", err)
	}
	return nil
}

// Search runs a full-text query over subjects, content and error text.
func (a *Archive) Search(queryText string, limit int) ([]Record, error) {
	return a.search(queryText, "", limit)
}

// SearchKind runs a full-text query restricted to one record kind.
func (a *Archive) SearchKind(queryText, kind string, limit int) ([]Record, error) {
	return a.search(queryText, kind, limit)
}

func (a *Archive) search(queryText, kind string, limit int) ([]Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, fmt.Errorf("archive is closed")
	}
	if limit <= 0 {
		limit = 10
	}

	matchQuery := bleve.NewMatchQuery(queryText)

	searchReq := bleve.NewSearchRequest(matchQuery)
	if kind != "" {
		kindQuery := bleve.NewTermQuery(kind)
		kindQuery.SetField("kind")

		boolQuery := bleve.NewBooleanQuery()
		boolQuery.AddMust(matchQuery)
		boolQuery.AddMust(kindQuery)
		searchReq = bleve.NewSearchRequest(boolQuery)
	}
	searchReq.Size = limit
	searchReq.Fields = []string{"kind", "agent_type", "pipeline_id", "subject", "content", "success", "error", "duration_ms"}

	searchResult, err := a.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	records := make([]Record, 0, len(searchResult.Hits))
	for _, hit := range searchResult.Hits {
		rec := Record{ID: hit.ID}
		if v, ok := hit.Fields["kind"].(string); ok {
			rec.Kind = v
		}
		if v, ok := hit.Fields["agent_type"].(string); ok {
			rec.AgentType = v
		}
		if v, ok := hit.Fields["pipeline_id"].(string); ok {
			rec.PipelineID = v
		}
		if v, ok := hit.Fields["subject"].(string); ok {
			rec.Subject = v
		}
		if v, ok := hit.Fields["content"].(string); ok {
			rec.Content = v
		}
		if v, ok := hit.Fields["success"].(bool); ok {
			rec.Success = v
		}
		if v, ok := hit.Fields["error"].(string); ok {
			rec.Error = v
		}
		if v, ok := hit.Fields["duration_ms"].(float64); ok {
			rec.Duration = int64(v)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Count returns the number of archived records.
func (a *Archive) Count() (uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, fmt.Errorf("archive is closed")
	}
	return a.index.DocCount()
}

// Close releases the index. Idempotent.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	return a.index.Close()
}
