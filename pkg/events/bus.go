// Package events provides the per-session event bus, the typed event
// publisher used by the pipeline, and the WebSocket connection manager that
// relays bus events to clients.
//
// The bus is strictly in-process: subscribers get a bounded buffer, publish
// never blocks, and a slow subscriber loses its oldest queued events rather
// than stalling the pipeline. Lost events are surfaced as a single marker
// event carrying the drop count.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kiranamart/mandi/pkg/models"
)

// Event type values carried in models.Event.Type.
const (
	TypeStageUpdate          = "stage_update"
	TypeRunStarted           = "run_started"
	TypeRunCompleted         = "run_completed"
	TypeRunCancelled         = "run_cancelled"
	TypeConfirmationRequired = "confirmation_required"
	TypeOTPRequired          = "otp_required"
	TypeDropped              = "events_dropped"
)

// DefaultBufferSize is the per-subscriber buffer when the config gives none.
const DefaultBufferSize = 64

// Bus is the per-session pub/sub hub. Subscriptions are keyed by session id
// only; subscribing to a session that does not exist yet is valid and simply
// yields events once that session starts producing them.
type Bus struct {
	mu       sync.RWMutex
	sessions map[string]map[*Subscription]struct{}
	buffer   int
	closed   bool

	logger *slog.Logger
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		sessions: make(map[string]map[*Subscription]struct{}),
		buffer:   bufferSize,
		logger:   slog.Default().With("component", "events.Bus"),
	}
}

// Subscription is one subscriber's view of a session's event stream.
type Subscription struct {
	sessionID string
	ch        chan models.Event

	mu     sync.Mutex
	missed int
	closed bool
}

// SessionID returns the session this subscription is bound to.
func (s *Subscription) SessionID() string { return s.sessionID }

// Events returns the receive channel. It is closed when the subscription is
// removed from the bus, so `for ev := range sub.Events()` terminates cleanly.
func (s *Subscription) Events() <-chan models.Event { return s.ch }

// Subscribe registers a new subscriber for the session's events.
func (b *Bus) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		sessionID: sessionID,
		ch:        make(chan models.Event, b.buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		sub.closed = true
		return sub
	}
	subs, ok := b.sessions[sessionID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.sessions[sessionID] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscription and closes its channel. Safe to call
// more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if subs, ok := b.sessions[sub.sessionID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.sessions, sub.sessionID)
		}
	}
	b.mu.Unlock()

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// Publish delivers the event to every subscriber of its session. It never
// blocks: a subscriber whose buffer is full loses its oldest queued event,
// and a marker event carrying the cumulative drop count is delivered ahead
// of newer events once there is room.
func (b *Bus) Publish(ev models.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := b.sessions[ev.SessionID]
	targets := make([]*Subscription, 0, len(subs))
	for sub := range subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.offer(ev)
	}
}

// SubscriberCount returns the number of live subscriptions for a session.
// Unexported users poll this in tests instead of sleeping.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions[sessionID])
}

// Close shuts the bus down and closes every subscription channel.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	all := make([]*Subscription, 0)
	for _, subs := range b.sessions {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	b.sessions = make(map[string]map[*Subscription]struct{})
	b.mu.Unlock()

	for _, sub := range all {
		sub.mu.Lock()
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		sub.mu.Unlock()
	}
}

// offer enqueues one event, evicting the oldest queued events when the
// buffer is full. Eviction is accounted in missed; a pending missed count is
// flushed as a TypeDropped marker before newer events whenever a slot frees
// up, so delivery order stays publish order with gaps made explicit.
func (s *Subscription) offer(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if s.missed > 0 {
		marker := models.Event{
			Type:      TypeDropped,
			SessionID: s.sessionID,
			Dropped:   s.missed,
			Timestamp: time.Now().UTC(),
		}
		select {
		case s.ch <- marker:
			s.missed = 0
		default:
			// Still full; the eviction loop below frees a slot for the
			// event itself and the marker goes out on a later offer.
		}
	}

	for {
		select {
		case s.ch <- ev:
			return
		default:
			select {
			case old := <-s.ch:
				if old.Type == TypeDropped {
					s.missed += old.Dropped
				} else {
					s.missed++
				}
			default:
				// Raced with the consumer draining the channel; retry.
			}
		}
	}
}
