package events

import (
	"context"
	"sync"
	"time"

	"coffeebot/internal/logger"
	"coffeebot/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventMatchRecorded is emitted after a pair is persisted
	EventMatchRecorded EventType = "match.recorded"
	// EventRunCompleted is emitted when a matching run finishes
	EventRunCompleted EventType = "run.completed"
	// EventPreferenceUpdated is emitted when a user changes their days
	EventPreferenceUpdated EventType = "preference.updated"
)

// AllTypes lists every event type the bot emits.
var AllTypes = []EventType{EventMatchRecorded, EventRunCompleted, EventPreferenceUpdated}

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// MatchRecordedData contains data for match recorded events.
type MatchRecordedData struct {
	RunID    string `json:"run_id"`
	Date     string `json:"date"`
	Email1   string `json:"email1"`
	Email2   string `json:"email2"`
	Fallback bool   `json:"fallback"`
}

// RunCompletedData contains data for run completed events.
type RunCompletedData struct {
	Result models.RunResult `json:"result"`
}

// PreferenceUpdatedData contains data for preference updated events.
type PreferenceUpdatedData struct {
	Email string        `json:"email"`
	Days  models.DaySet `json:"days"`
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	logger   *logger.Logger
	inflight sync.WaitGroup
}

// NewManager creates a new event manager.
func NewManager(enabled bool, log *logger.Logger) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		logger:   log,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}
	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers. Handlers run
// asynchronously and outlive cancellation of ctx.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	m.mu.RLock()
	if !m.enabled {
		m.mu.RUnlock()
		return
	}
	handlers := m.handlers[eventType]
	m.inflight.Add(len(handlers))
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	ctx = context.WithoutCancel(ctx)

	for _, handler := range handlers {
		go func(h Handler) {
			defer m.inflight.Done()
			if err := h(ctx, event); err != nil {
				m.logger.Error("event handler failed", "event", string(event.Type), "error", err)
			}
		}(handler)
	}
}

// PublishMatchRecorded publishes a match recorded event.
func (m *Manager) PublishMatchRecorded(ctx context.Context, runID, date string, pair models.Pair) {
	email1, email2 := pair.Canonical()
	m.Publish(ctx, EventMatchRecorded, MatchRecordedData{
		RunID:    runID,
		Date:     date,
		Email1:   email1,
		Email2:   email2,
		Fallback: pair.Fallback,
	})
}

// PublishRunCompleted publishes a run completed event.
func (m *Manager) PublishRunCompleted(ctx context.Context, result models.RunResult) {
	m.Publish(ctx, EventRunCompleted, RunCompletedData{Result: result})
}

// PublishPreferenceUpdated publishes a preference updated event.
func (m *Manager) PublishPreferenceUpdated(ctx context.Context, email string, days models.DaySet) {
	m.Publish(ctx, EventPreferenceUpdated, PreferenceUpdatedData{Email: email, Days: days})
}

// Wait blocks until every handler started so far has returned.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// Shutdown stops accepting events and waits for running handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.inflight.Wait()
}
