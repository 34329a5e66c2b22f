// Package telemetry publishes live session progress: it keeps the latest
// engine progress per direction, fans events out to subscribers and serves
// them over HTTP and websocket.
package telemetry

import (
	"sync"
	"time"

	"github.com/rjboer/duplexradar/internal/logging"
	"github.com/rjboer/duplexradar/internal/sdr"
	"github.com/rjboer/duplexradar/internal/stream"
)

// Event is one progress update as sent to clients.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Session   string    `json:"session,omitempty"`
	Direction string    `json:"direction"`
	State     string    `json:"state"`
	stream.Progress
}

// Status is the current picture of the running session.
type Status struct {
	Session  string            `json:"session,omitempty"`
	Phase    string            `json:"phase"`
	Error    string            `json:"error,omitempty"`
	Progress map[string]*Event `json:"progress"`
	Updated  time.Time         `json:"updated"`
}

const defaultHistoryLimit = 500

// Hub collects progress and fans it out to subscribers. It implements
// stream.Observer and never blocks the engines: slow subscribers drop
// events.
type Hub struct {
	mu           sync.RWMutex
	session      string
	phase        string
	errText      string
	latest       map[sdr.Direction]Event
	history      []Event
	historyLimit int
	subscribers  map[chan Event]struct{}
	updated      time.Time
	logger       logging.Logger
}

// NewHub builds a hub keeping up to historyLimit events.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Hub{
		phase:        "idle",
		latest:       make(map[sdr.Direction]Event),
		historyLimit: historyLimit,
		subscribers:  make(map[chan Event]struct{}),
		logger:       logging.Or(logger),
	}
}

// BeginSession resets progress for a new session.
func (h *Hub) BeginSession(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = id
	h.phase = "setup"
	h.errText = ""
	h.latest = make(map[sdr.Direction]Event)
	h.history = h.history[:0]
	h.updated = time.Now()
}

// SetPhase records a coarse session phase such as "streaming" or "done".
func (h *Hub) SetPhase(phase string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.phase = phase
	h.errText = ""
	if err != nil {
		h.errText = err.Error()
	}
	h.updated = time.Now()
}

// Progress implements stream.Observer.
func (h *Hub) Progress(p stream.Progress) {
	h.mu.Lock()
	ev := Event{
		Timestamp: time.Now(),
		Session:   h.session,
		Direction: p.Direction.String(),
		State:     p.State.String(),
		Progress:  p,
	}
	h.latest[p.Direction] = ev
	h.history = append(h.history, ev)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	h.updated = ev.Timestamp
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}

// Snapshot returns the current status.
func (h *Hub) Snapshot() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Status{
		Session:  h.session,
		Phase:    h.phase,
		Error:    h.errText,
		Progress: make(map[string]*Event, len(h.latest)),
		Updated:  h.updated,
	}
	for dir, ev := range h.latest {
		st.Progress[dir.String()] = &ev
	}
	return st
}

// History returns a copy of the retained events.
func (h *Hub) History() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, len(h.history))
	copy(out, h.history)
	return out
}

// Subscribe registers a listener for live events. The returned cancel
// function unregisters it and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	n := len(h.subscribers)
	h.mu.Unlock()
	h.logger.Debug("telemetry subscriber added", logging.Field{Key: "subscribers", Value: n})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// MultiObserver fans progress out to several observers.
type MultiObserver []stream.Observer

func (m MultiObserver) Progress(p stream.Progress) {
	for _, o := range m {
		if o != nil {
			o.Progress(p)
		}
	}
}
