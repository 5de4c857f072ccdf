// Package network - replay.go
// Event replay endpoint: JSON export of the in-memory event history.
//
// Moderators and support tools use it to see exactly what happened to a
// session, in append order.
package network

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Kattete/Tidal-Miner/internal/events"
	"github.com/Kattete/Tidal-Miner/internal/infra/storage"
	"github.com/Kattete/Tidal-Miner/internal/platform/logger"
)

// ReplayHandler provides the event replay API.
type ReplayHandler struct {
	eventLog *events.EventLog
	logger   *logger.Logger
}

// NewReplayHandler creates a new replay handler.
func NewReplayHandler(el *events.EventLog, log *logger.Logger) *ReplayHandler {
	if log == nil {
		log = logger.NewDiscard()
	}
	return &ReplayHandler{
		eventLog: el,
		logger:   log,
	}
}

// ReplayEvent is an event as exported for viewing.
type ReplayEvent struct {
	ID        string                 `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	ActorID   string                 `json:"actor_id,omitempty"`
	TargetID  string                 `json:"target_id,omitempty"`
	Summary   string                 `json:"summary"`
	Impact    string                 `json:"impact"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ReplayResponse is the API response for a replay query.
type ReplayResponse struct {
	SessionID   string        `json:"session_id,omitempty"`
	TotalEvents int           `json:"total_events"`
	Cursor      int           `json:"cursor"` // pass as ?after= to fetch only newer events
	FilteredBy  string        `json:"filtered_by,omitempty"`
	GeneratedAt string        `json:"generated_at"`
	Events      []ReplayEvent `json:"events"`
}

// HandleReplay returns the event history, optionally filtered.
// GET /api/events?session=ID&type=CRAFT_COMPLETED&after=N
func (rh *ReplayHandler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session")
	eventType := q.Get("type")

	after := 0
	if raw := q.Get("after"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonError(w, "after must be a non-negative integer", http.StatusBadRequest)
			return
		}
		after = n
	}

	all, cursor := rh.eventLog.Since(after)

	replayEvents := make([]ReplayEvent, 0, len(all))
	for _, e := range all {
		if sessionID != "" && e.SessionID != sessionID {
			continue
		}
		if eventType != "" && string(e.Type) != eventType {
			continue
		}
		replayEvents = append(replayEvents, rh.convert(e, false))
	}

	filterDesc := ""
	if eventType != "" {
		filterDesc = "type " + eventType
	}
	jsonSuccess(w, ReplayResponse{
		SessionID:   sessionID,
		TotalEvents: len(replayEvents),
		Cursor:      cursor,
		FilteredBy:  filterDesc,
		GeneratedAt: time.Now().Format(time.RFC3339),
		Events:      replayEvents,
	})
}

// HandleEventDetail returns one event with its full payload.
// GET /api/events/{id}
func (rh *ReplayHandler) HandleEventDetail(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["id"]
	for _, e := range rh.eventLog.Replay() {
		if e.ID == eventID {
			jsonSuccess(w, rh.convert(e, true))
			return
		}
	}
	jsonError(w, "Event not found", http.StatusNotFound)
}

// HandleStats returns event counts per type.
// GET /api/events/stats?session=ID
func (rh *ReplayHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")

	var list []events.GameEvent
	if sessionID != "" {
		list = rh.eventLog.BySession(sessionID)
	} else {
		list = rh.eventLog.Replay()
	}

	byType := make(map[string]int)
	for _, e := range list {
		byType[string(e.Type)]++
	}

	jsonSuccess(w, map[string]interface{}{
		"generated_at": time.Now().Format(time.RFC3339),
		"session_id":   sessionID,
		"total_events": len(list),
		"by_type":      byType,
	})
}

// RegisterRoutes sets up the replay API routes.
func (rh *ReplayHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/events", rh.HandleReplay).Methods(http.MethodGet)
	router.HandleFunc("/api/events/stats", rh.HandleStats).Methods(http.MethodGet)
	router.HandleFunc("/api/events/{id}", rh.HandleEventDetail).Methods(http.MethodGet)
}

// convert transforms an internal event to its exported form. The storage
// form is reused so replay and recap describe events the same way.
func (rh *ReplayHandler) convert(e events.GameEvent, withDetails bool) ReplayEvent {
	out := ReplayEvent{
		ID:        e.ID,
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		Type:      string(e.Type),
		SessionID: e.SessionID,
		ActorID:   e.ActorID,
		TargetID:  e.TargetID,
	}

	stored, err := storage.FromDomain(e)
	if err != nil {
		rh.logger.Warnf("Event %s payload could not be encoded: %v", e.ID, err)
		out.Summary, out.Impact = "Unreadable event.", "NEUTRAL"
		return out
	}
	out.Summary, out.Impact = storage.Describe(stored)
	if withDetails {
		out.Details = stored.Payload
	}
	return out
}
