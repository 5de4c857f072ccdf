package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Kattete/Tidal-Miner/internal/events"
	"github.com/Kattete/Tidal-Miner/internal/platform/metrics"
)

// EventPersister writes domain events through an EventRepository. It
// satisfies events.EventPersister.
type EventPersister struct {
	repo    EventRepository
	metrics *metrics.Collector
	timeout time.Duration
}

// NewEventPersister wraps repo. A nil collector means the global one.
func NewEventPersister(repo EventRepository, m *metrics.Collector) *EventPersister {
	if m == nil {
		m = metrics.Get()
	}
	return &EventPersister{repo: repo, metrics: m, timeout: 5 * time.Second}
}

func (p *EventPersister) Append(e events.GameEvent) error {
	stored, err := FromDomain(e)
	if err != nil {
		p.metrics.RecordEventWrite(0, err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	err = p.repo.Append(ctx, stored)
	p.metrics.RecordEventWrite(time.Since(start), err)
	return err
}

// FromDomain converts a domain event into its stored form. Typed payloads
// are flattened to their JSON object form.
func FromDomain(e events.GameEvent) (GameEvent, error) {
	stored := GameEvent{
		ID:        e.ID,
		SessionID: e.SessionID,
		Timestamp: e.Timestamp,
		EventType: string(e.Type),
		ActorID:   e.ActorID,
		TargetID:  e.TargetID,
	}
	if e.Payload == nil {
		return stored, nil
	}
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return GameEvent{}, fmt.Errorf("failed to marshal payload of %s: %w", e.ID, err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		// Scalar payloads are kept under a single key.
		payload = map[string]interface{}{"value": e.Payload}
	}
	stored.Payload = payload
	return stored, nil
}
