// Package live keeps an in-memory feed of finished backtest runs, with dedup,
// a bounded snapshot of recent runs and pub/sub for gRPC and WebSocket
// streaming.
package live

import (
	"sync"
	"time"

	"meridian/internal/domain"
)

// DefaultCapacity is the number of recent runs a Model retains.
const DefaultCapacity = 256

// RunEvent summarises a finished run for streaming clients.
type RunEvent struct {
	ID          string         `json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	Symbol      string         `json:"symbol"`
	Strategy    string         `json:"strategy"`
	Policy      string         `json:"policy"`
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	Trades      int            `json:"trades"`
	FinalEquity float64        `json:"final_equity"`
	Metrics     domain.Metrics `json:"metrics"`
}

// EventOf summarises run.
func EventOf(run *domain.BacktestRun) RunEvent {
	return RunEvent{
		ID:          run.ID,
		CreatedAt:   run.CreatedAt,
		Symbol:      run.Result.Symbol,
		Strategy:    run.Result.Strategy,
		Policy:      run.Result.Policy,
		Start:       run.Start,
		End:         run.End,
		Trades:      len(run.Result.Trades),
		FinalEquity: run.Result.FinalEquity(),
		Metrics:     run.Result.Metrics,
	}
}

// Model holds the most recent run events, deduplicated by run ID, and fans
// new events out to subscribers.
type Model struct {
	mu       sync.RWMutex
	recent   []RunEvent // oldest first
	seen     map[string]bool
	capacity int

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan RunEvent
}

// NewModel creates a model retaining up to capacity events. A non-positive
// capacity means DefaultCapacity.
func NewModel(capacity int) *Model {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Model{
		seen:     make(map[string]bool),
		capacity: capacity,
		subs:     make(map[int]chan RunEvent),
	}
}

// Add records ev and notifies subscribers. Returns false if the run was
// already seen.
func (m *Model) Add(ev RunEvent) bool {
	m.mu.Lock()
	if m.seen[ev.ID] {
		m.mu.Unlock()
		return false
	}
	m.seen[ev.ID] = true
	m.recent = append(m.recent, ev)
	if over := len(m.recent) - m.capacity; over > 0 {
		for _, old := range m.recent[:over] {
			delete(m.seen, old.ID)
		}
		m.recent = append([]RunEvent(nil), m.recent[over:]...)
	}
	m.mu.Unlock()

	// Non-blocking send.
	m.subsMu.Lock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber, drop event.
		}
	}
	m.subsMu.Unlock()

	return true
}

// NotifyRun records a finished run.
func (m *Model) NotifyRun(run *domain.BacktestRun) {
	m.Add(EventOf(run))
}

// Snapshot returns a copy of the retained events, oldest first.
func (m *Model) Snapshot() []RunEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RunEvent, len(m.recent))
	copy(out, m.recent)
	return out
}

// Len returns the number of retained events.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recent)
}

// Subscribe creates a new subscription channel for run events.
func (m *Model) Subscribe(bufSize int) (id int, ch <-chan RunEvent) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	id = m.nextSubID
	m.nextSubID++
	c := make(chan RunEvent, bufSize)
	m.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (m *Model) Unsubscribe(id int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if ch, ok := m.subs[id]; ok {
		close(ch)
		delete(m.subs, id)
	}
}
