package agent

import (
	"sync"
	"time"

	"drover/internal/logging"
	"drover/pkg/types"
)

// EventType names a run lifecycle notification.
type EventType string

const (
	EventRunStarted        EventType = "run_started"
	EventIterationStarted  EventType = "iteration_started"
	EventStepAppended      EventType = "step_appended"
	EventApprovalRequested EventType = "approval_requested"
	EventApprovalResolved  EventType = "approval_resolved"
	EventRunPaused         EventType = "run_paused"
	EventRunResumed        EventType = "run_resumed"
	EventRunFinished       EventType = "run_finished"
)

// Event is one notification about a run. Fields beyond Type, RunID and
// Time are populated per type.
type Event struct {
	Type       EventType       `json:"type"`
	RunID      string          `json:"run_id"`
	Time       time.Time       `json:"time"`
	Goal       string          `json:"goal,omitempty"`
	Status     types.RunStatus `json:"status,omitempty"`
	Iteration  int             `json:"iteration,omitempty"`
	Step       *types.Step     `json:"step,omitempty"`
	ApprovalID string          `json:"approval_id,omitempty"`
	Resolution string          `json:"resolution,omitempty"`
}

const defaultEventHistory = 256

// Broadcaster fans run events out to subscribers. Publishing never
// blocks: a subscriber that stops draining its channel loses events
// rather than stalling the run. A bounded per-broadcaster history lets
// late subscribers replay what they missed.
type Broadcaster struct {
	logger logging.Logger

	mu         sync.Mutex
	subs       map[int]chan Event
	nextSubID  int
	history    []Event
	maxHistory int
	dropped    uint64
	closed     bool
}

// NewBroadcaster creates a broadcaster keeping up to defaultEventHistory
// events for replay.
func NewBroadcaster(logger logging.Logger) *Broadcaster {
	return &Broadcaster{
		logger:     logging.OrNop(logger),
		subs:       make(map[int]chan Event),
		maxHistory: defaultEventHistory,
	}
}

// Subscribe registers a new subscriber with the given channel buffer.
// The returned cancel function removes the subscription and closes the
// channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	subID := b.nextSubID
	b.nextSubID++
	b.subs[subID] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[subID]; ok {
				delete(b.subs, subID)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has room and
// records it in the history.
func (b *Broadcaster) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.history = append(b.history, event)
	if len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}

	for subID, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped++
			b.logger.Warn("subscriber %d is not draining, dropping %s event", subID, event.Type)
		}
	}
}

// History returns the retained events for one run, oldest first. An
// empty runID returns everything retained.
func (b *Broadcaster) History(runID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, 0, len(b.history))
	for _, event := range b.history {
		if runID == "" || event.RunID == runID {
			out = append(out, event)
		}
	}
	return out
}

// Dropped returns how many deliveries were skipped for full buffers.
func (b *Broadcaster) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Publishing after Close is a
// no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for subID, ch := range b.subs {
		delete(b.subs, subID)
		close(ch)
	}
}
