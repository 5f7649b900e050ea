package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the logger
const (
	ActionSubmitRecord  = "submit_record"
	ActionReadRecord    = "read_record"
	ActionReadHistory   = "read_history"
	ActionRequestAccess = "request_access"
	ActionGrantAccess   = "grant_access"
	ActionRevokeAccess  = "revoke_access"
	ActionLogin         = "login"
	ActionLogout        = "logout"
	ActionRegister      = "register"
)

// Outcomes for audit events
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Event is a single audit trail entry. Patient is the address of the
// record owner the action touched, Actor the principal performing it.
type Event struct {
	ID       string    `json:"id"`
	Actor    string    `json:"actor"`
	Role     string    `json:"role,omitempty"`
	Patient  string    `json:"patient,omitempty"`
	Action   string    `json:"action"`
	Outcome  string    `json:"outcome"`
	Detail   string    `json:"detail,omitempty"`
	Recorded time.Time `json:"recorded"`
}

// Logger keeps an in-memory audit trail of record and consent activity
type Logger struct {
	enabled bool
	events  map[string]*Event
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	eventCh chan *Event
}

// NewLogger creates a new audit logger
func NewLogger(enabled bool) *Logger {
	return &Logger{
		enabled: enabled,
		events:  make(map[string]*Event),
		stopCh:  make(chan struct{}),
		eventCh: make(chan *Event, 1000),
	}
}

// Start starts the audit logger
func (l *Logger) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = true
	l.mu.Unlock()

	go l.processEvents(ctx)
	return nil
}

// Stop stops the audit logger
func (l *Logger) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		close(l.stopCh)
		l.running = false
	}
}

func (l *Logger) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case event := <-l.eventCh:
			l.mu.Lock()
			l.events[event.ID] = event
			l.mu.Unlock()
		}
	}
}

// Record appends an event to the audit trail. It never blocks callers
// on the hot path: when the buffer is full the event is dropped.
func (l *Logger) Record(event Event) *Event {
	if !l.enabled {
		return nil
	}

	event.ID = uuid.New().String()
	if event.Recorded.IsZero() {
		event.Recorded = time.Now().UTC()
	}

	select {
	case l.eventCh <- &event:
	default:
	}
	return &event
}

// GetEvent retrieves an audit event by ID
func (l *Logger) GetEvent(id string) (*Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	event, ok := l.events[id]
	return event, ok
}

// EventFilter defines filters for event queries
type EventFilter struct {
	Actor     string
	Patient   string
	Action    string
	Outcome   string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
}

// GetEvents retrieves audit events matching the filter, oldest first
func (l *Logger) GetEvents(filter EventFilter) []*Event {
	l.mu.RLock()
	var results []*Event
	for _, event := range l.events {
		if matchesFilter(event, filter) {
			results = append(results, event)
		}
	}
	l.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Recorded.Before(results[j].Recorded)
	})
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results
}

func matchesFilter(event *Event, filter EventFilter) bool {
	if filter.Actor != "" && event.Actor != filter.Actor {
		return false
	}
	if filter.Patient != "" && event.Patient != filter.Patient {
		return false
	}
	if filter.Action != "" && event.Action != filter.Action {
		return false
	}
	if filter.Outcome != "" && event.Outcome != filter.Outcome {
		return false
	}
	if filter.StartDate != nil && event.Recorded.Before(*filter.StartDate) {
		return false
	}
	if filter.EndDate != nil && event.Recorded.After(*filter.EndDate) {
		return false
	}
	return true
}

// Stats contains audit statistics
type Stats struct {
	TotalEvents  int            `json:"total_events"`
	DeniedEvents int            `json:"denied_events"`
	FailedEvents int            `json:"failed_events"`
	ByAction     map[string]int `json:"by_action"`
	ByOutcome    map[string]int `json:"by_outcome"`
}

// GetStats returns audit statistics
func (l *Logger) GetStats() *Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := &Stats{
		ByAction:  make(map[string]int),
		ByOutcome: make(map[string]int),
	}

	for _, event := range l.events {
		stats.TotalEvents++
		stats.ByAction[event.Action]++
		stats.ByOutcome[event.Outcome]++

		switch event.Outcome {
		case OutcomeDenied:
			stats.DeniedEvents++
		case OutcomeError:
			stats.FailedEvents++
		}
	}

	return stats
}
