// Package status fans receiver status snapshots out to attached observers.
package status

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultBufferSize is the number of snapshots queued per observer.
const DefaultBufferSize = 16

// Observer receives status snapshots. Deliver is only ever called from one
// goroutine per observer; an error detaches the observer.
type Observer interface {
	Deliver(deviceID string, payload []byte) error
	Close() error
}

type frame struct {
	deviceID string
	payload  []byte
}

type subscription struct {
	id       string
	deviceID string // empty means every device
	observer Observer
	frames   chan frame
	done     chan struct{}
	once     sync.Once
}

// offer queues f, dropping the oldest queued snapshot when the buffer is full.
// Only called with the hub lock held, so there is a single producer.
func (s *subscription) offer(f frame) {
	for {
		select {
		case s.frames <- f:
			return
		default:
		}
		select {
		case <-s.frames:
		default:
		}
	}
}

func (s *subscription) wants(deviceID string) bool {
	return s.deviceID == "" || s.deviceID == deviceID
}

// Hub keeps the latest snapshot of every device and delivers each new one to
// every observer. A slow observer only loses its own stale snapshots.
type Hub struct {
	mu         sync.Mutex
	subs       map[string]*subscription
	latest     map[string][]byte
	limiter    *ConnectionLimiter
	bufferSize int
}

// Option is a functional option for configuring the hub.
type Option func(*Hub)

// WithBufferSize sets the per-observer queue length.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithMaxExternal caps remote observers, evicting the oldest.
func WithMaxExternal(n int) Option {
	return func(h *Hub) {
		h.limiter = NewConnectionLimiter(n)
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subs:       make(map[string]*subscription),
		latest:     make(map[string][]byte),
		limiter:    NewConnectionLimiter(0),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish records status as the latest snapshot of deviceID and queues it for
// every interested observer. It never blocks on observers.
func (h *Hub) Publish(deviceID string, status any) {
	payload, err := json.Marshal(status)
	if err != nil {
		log.Error().Err(err).Str("device", deviceID).Msg("Failed to encode status")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest[deviceID] = payload
	for _, sub := range h.subs {
		if sub.wants(deviceID) {
			sub.offer(frame{deviceID: deviceID, payload: payload})
		}
	}
}

// Forget drops the latest snapshot of a device that went away.
func (h *Hub) Forget(deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.latest, deviceID)
}

// Latest returns the latest snapshot of deviceID.
func (h *Hub) Latest(deviceID string) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	payload, ok := h.latest[deviceID]
	return payload, ok
}

// Subscribe attaches an observer for deviceID (every device when empty) and
// immediately queues the latest matching snapshots. It returns the observer id.
func (h *Hub) Subscribe(observer Observer, remoteIP, deviceID string) string {
	sub := &subscription{
		id:       uuid.NewString(),
		deviceID: deviceID,
		observer: observer,
		frames:   make(chan frame, h.bufferSize),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[sub.id] = sub
	for id, payload := range h.latest {
		if sub.wants(id) {
			sub.offer(frame{deviceID: id, payload: payload})
		}
	}
	count := len(h.subs)
	h.mu.Unlock()

	go h.run(sub)

	log.Info().Str("observer", sub.id).Str("remote", remoteIP).Int("observers", count).Msg("Observer attached")

	if evicted := h.limiter.Add(sub.id, remoteIP); evicted != "" {
		log.Info().Str("observer", evicted).Msg("Evicting oldest remote observer")
		h.Unsubscribe(evicted)
	}
	return sub.id
}

// Refresh queues the latest snapshots again for one observer.
func (h *Hub) Refresh(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	for deviceID, payload := range h.latest {
		if sub.wants(deviceID) {
			sub.offer(frame{deviceID: deviceID, payload: payload})
		}
	}
}

// Unsubscribe detaches and closes an observer. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()

	h.limiter.Remove(id)
	if !ok {
		return
	}
	sub.once.Do(func() {
		close(sub.done)
		if err := sub.observer.Close(); err != nil {
			log.Debug().Err(err).Str("observer", id).Msg("Error closing observer")
		}
	})
}

// Count returns the number of attached observers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close detaches every observer.
func (h *Hub) Close() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.Unsubscribe(id)
	}
}

func (h *Hub) run(sub *subscription) {
	for {
		select {
		case <-sub.done:
			return
		case f := <-sub.frames:
			if err := sub.observer.Deliver(f.deviceID, f.payload); err != nil {
				log.Debug().Err(err).Str("observer", sub.id).Msg("Delivery failed, detaching observer")
				h.Unsubscribe(sub.id)
				return
			}
		}
	}
}
