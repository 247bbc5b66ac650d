// Package status fans renderer state changes out to API subscribers. Slow
// subscribers never stall the tick loop: deliveries that do not fit in a
// subscriber's buffer are dropped.
package status

import (
	"log/slog"
	"sync"

	"drawstream/internal/domain"
	"drawstream/internal/renderer"
)

const subscriberBuffer = 16

// Event is one update on the subscriber stream.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// statusKey identifies a distinct observable state; ticks that do not move
// the key are suppressed so subscribers see changes, not the frame clock.
type statusKey struct {
	phase     domain.Phase
	activeID  string
	stepIndex int
	percent   int
	holdSec   int
	queueLen  int
}

func keyOf(snap renderer.Snapshot) statusKey {
	k := statusKey{
		phase:     snap.Phase,
		stepIndex: snap.StepIndex,
		percent:   int(snap.Progress * 100),
		holdSec:   int(snap.HoldRemainingSec),
		queueLen:  snap.QueueLen,
	}
	if snap.Active != nil {
		k.activeID = snap.Active.ID
	}
	return k
}

// Notifier is a many-subscriber broadcast bus.
type Notifier struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[int]chan Event
	next int
	last statusKey
	seen bool
}

// New builds an empty notifier.
func New(log *slog.Logger) *Notifier {
	return &Notifier{log: log, subs: make(map[int]chan Event)}
}

// Subscribe registers a buffered receiver. The cancel func must be called
// when the subscriber goes away; it closes the channel.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.next
	n.next++
	ch := make(chan Event, subscriberBuffer)
	n.subs[id] = ch
	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
	}
}

// Publish broadcasts an event to every subscriber without blocking.
func (n *Notifier) Publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, sub := range n.subs {
		select {
		case sub <- ev:
		default:
			n.log.Debug("status event dropped", "subscriber", id, "type", ev.Type)
		}
	}
}

// PublishSnapshot forwards a renderer snapshot, suppressing ticks that carry
// no observable change. Safe to call from the tick loop every frame.
func (n *Notifier) PublishSnapshot(snap renderer.Snapshot) {
	key := keyOf(snap)
	n.mu.Lock()
	if n.seen && key == n.last {
		n.mu.Unlock()
		return
	}
	n.last = key
	n.seen = true
	n.mu.Unlock()
	n.Publish(Event{Type: "status", Payload: snap})
}

// Subscribers reports the current subscriber count.
func (n *Notifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
