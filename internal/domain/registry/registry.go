// Package registry tracks the receivers currently on the network and owns one
// session per receiver.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-connect-streamer/internal/domain/device"
)

// ErrDeviceNotFound indicates no receiver matches the lookup.
var ErrDeviceNotFound = errors.New("device not found")

// Session is what the registry needs from a per-device session.
type Session interface {
	Connect(ctx context.Context) error
	Close()
}

// entry is one device slot, keyed by device name. A reserved entry has no
// session yet: its first connect is in flight.
type entry[S Session] struct {
	device   device.Device
	session  S
	reserved bool
}

// Registry maps devices to their sessions.
type Registry[S Session] struct {
	mu            sync.Mutex
	entries       map[string]*entry[S]
	factory       func(dev device.Device) S
	defaultDevice string
	onRemove      func(dev device.Device)
}

// Option is a functional option for configuring the registry.
type Option[S Session] func(*Registry[S])

// WithDefaultDevice names the device Resolve picks when several are present.
func WithDefaultDevice[S Session](name string) Option[S] {
	return func(r *Registry[S]) {
		r.defaultDevice = name
	}
}

// WithOnRemove registers a callback run after a device is removed.
func WithOnRemove[S Session](fn func(dev device.Device)) Option[S] {
	return func(r *Registry[S]) {
		r.onRemove = fn
	}
}

// New creates an empty registry. factory builds the session of a newly found device.
func New[S Session](factory func(dev device.Device) S, opts ...Option[S]) *Registry[S] {
	r := &Registry[S]{
		entries: make(map[string]*entry[S]),
		factory: factory,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run consumes discovery events in order until ctx ends or events closes.
// Reservations are taken in event order; each connect then runs on its own
// goroutine so a slow receiver does not hold up the others. Run returns once
// every connect it started has finished.
func (r *Registry[S]) Run(ctx context.Context, events <-chan device.Event) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case device.Up:
				slot, replaced, reserved := r.reserve(ev.Device)
				if !reserved {
					continue
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					r.connect(ctx, slot, replaced)
				}()
			case device.Down:
				r.DeviceDown(ev.Device.ID)
			}
		}
	}
}

// DeviceUp registers a device and connects its session. A device already
// being connected is ignored; a live device with the same name is replaced.
// A failed first connect is logged and the session kept: commands reconnect
// on demand.
func (r *Registry[S]) DeviceUp(ctx context.Context, dev device.Device) {
	slot, replaced, ok := r.reserve(dev)
	if !ok {
		return
	}
	r.connect(ctx, slot, replaced)
}

// reserve claims a slot for dev. It reports false while another connect for
// the same name is in flight, and returns the live entry being replaced.
func (r *Registry[S]) reserve(dev device.Device) (slot, replaced *entry[S], ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, exists := r.entries[dev.Name]
	if exists && current.reserved {
		log.Debug().Str("device", dev.Name).Msg("Device connect already in progress")
		return nil, nil, false
	}
	slot = &entry[S]{device: dev, reserved: true}
	r.entries[dev.Name] = slot
	if exists {
		replaced = current
	}
	return slot, replaced, true
}

// connect closes the replaced session, connects a new one and fills the
// reserved slot, unless the slot was dropped meanwhile.
func (r *Registry[S]) connect(ctx context.Context, slot, replaced *entry[S]) {
	dev := slot.device
	if replaced != nil {
		log.Info().Str("device", dev.Name).Str("ip", dev.Address).Msg("Device re-announced, replacing session")
		replaced.session.Close()
		r.removed(replaced.device)
	}

	session := r.factory(dev)
	if err := session.Connect(ctx); err != nil {
		log.Warn().Err(err).Str("device", dev.Name).Str("ip", dev.Address).Msg("Unable to connect to device")
	}

	r.mu.Lock()
	if r.entries[dev.Name] != slot {
		// Removed while connecting.
		r.mu.Unlock()
		session.Close()
		return
	}
	slot.session = session
	slot.reserved = false
	r.mu.Unlock()

	log.Info().Str("device", dev.Name).Str("uuid", dev.ID).Str("addr", dev.Addr()).Msg("Device registered")
}

// DeviceDown closes and removes a device by id. Unknown ids are ignored.
func (r *Registry[S]) DeviceDown(id string) {
	r.mu.Lock()
	var found *entry[S]
	for name, e := range r.entries {
		if e.device.ID == id {
			found = e
			delete(r.entries, name)
			break
		}
	}
	r.mu.Unlock()

	if found == nil {
		return
	}
	log.Info().Str("device", found.device.Name).Str("uuid", id).Msg("Device lost")
	if !found.reserved {
		found.session.Close()
	}
	r.removed(found.device)
}

func (r *Registry[S]) removed(dev device.Device) {
	if r.onRemove != nil {
		r.onRemove(dev)
	}
}

// Get returns the session of a registered device.
func (r *Registry[S]) Get(id string) (S, device.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.device.ID == id && !e.reserved {
			return e.session, e.device, true
		}
	}
	var zero S
	return zero, device.Device{}, false
}

// Resolve picks a device: by id when given, else the only registered device,
// else the default device.
func (r *Registry[S]) Resolve(id string) (S, device.Device, error) {
	if id != "" {
		s, dev, ok := r.Get(id)
		if !ok {
			return s, dev, ErrDeviceNotFound
		}
		return s, dev, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	live := make([]*entry[S], 0, len(r.entries))
	for _, e := range r.entries {
		if !e.reserved {
			live = append(live, e)
		}
	}
	if len(live) == 1 {
		return live[0].session, live[0].device, nil
	}
	if e, ok := r.entries[r.defaultDevice]; ok && !e.reserved {
		return e.session, e.device, nil
	}

	var zero S
	return zero, device.Device{}, ErrDeviceNotFound
}

// List returns the registered devices sorted by name.
func (r *Registry[S]) List() []device.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	devices := make([]device.Device, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.reserved {
			devices = append(devices, e.device)
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices
}

// Close closes every session and empties the registry.
func (r *Registry[S]) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry[S])
	r.mu.Unlock()

	for _, e := range entries {
		if !e.reserved {
			e.session.Close()
		}
	}
}
