// Package discovery finds playback receivers with mDNS and reports them as
// device events.
package discovery

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-connect-streamer/internal/domain/device"
)

const (
	// DefaultService is the mDNS service type receivers advertise
	DefaultService = "_tidalconnect._tcp"

	// DefaultDomain is the mDNS browse domain
	DefaultDomain = "local."

	// DefaultInterval between browse rounds
	DefaultInterval = 30 * time.Second

	// DefaultWindow is how long each browse round listens
	DefaultWindow = 5 * time.Second

	// DefaultExpiry after which an unseen receiver is reported gone
	DefaultExpiry = 95 * time.Second
)

// BrowseFunc browses service in domain until ctx ends, writing entries.
type BrowseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Browser periodically browses for receivers.
type Browser struct {
	service  string
	domain   string
	interval time.Duration
	window   time.Duration
	browse   BrowseFunc
	tracker  *tracker
}

// Option is a functional option for configuring the browser.
type Option func(*Browser)

// WithService sets the mDNS service type.
func WithService(service string) Option {
	return func(b *Browser) {
		if service != "" {
			b.service = service
		}
	}
}

// WithInterval sets the time between browse rounds and how long each listens.
func WithInterval(interval, window time.Duration) Option {
	return func(b *Browser) {
		b.interval = interval
		b.window = window
	}
}

// WithExpiry sets how long a receiver may go unseen.
func WithExpiry(expiry time.Duration) Option {
	return func(b *Browser) {
		b.tracker.expiry = expiry
	}
}

// WithBrowseFunc replaces the mDNS resolver (useful for testing).
func WithBrowseFunc(fn BrowseFunc) Option {
	return func(b *Browser) {
		b.browse = fn
	}
}

// NewBrowser creates a browser using the system network interfaces.
func NewBrowser(opts ...Option) *Browser {
	b := &Browser{
		service:  DefaultService,
		domain:   DefaultDomain,
		interval: DefaultInterval,
		window:   DefaultWindow,
		browse:   zeroconfBrowse,
		tracker:  newTracker(DefaultExpiry),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func zeroconfBrowse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return err
	}
	return resolver.Browse(ctx, service, domain, entries)
}

// Run browses until ctx ends, sending device events. events is closed on return.
func (b *Browser) Run(ctx context.Context, events chan<- device.Event) {
	defer close(events)

	log.Info().Str("service", b.service).Msg("Starting receiver discovery")

	for {
		b.round(ctx, events)

		for _, ev := range b.tracker.expire(time.Now()) {
			if !send(ctx, events, ev) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.interval):
		}
	}
}

// round browses for one window.
func (b *Browser) round(ctx context.Context, events chan<- device.Event) {
	rctx, cancel := context.WithTimeout(ctx, b.window)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-rctx.Done():
				return
			case entry := <-entries:
				if entry == nil {
					continue
				}
				if ev, ok := b.tracker.observe(entry, time.Now()); ok {
					send(ctx, events, ev)
				}
			}
		}
	}()

	if err := b.browse(rctx, b.service, b.domain, entries); err != nil {
		log.Warn().Err(err).Msg("Failed to browse for receivers")
		cancel()
	}
	<-rctx.Done()
	wg.Wait()
}

func send(ctx context.Context, events chan<- device.Event, ev device.Event) bool {
	log.Debug().Str("device", ev.Device.Name).Str("event", ev.Kind.String()).Msg("Discovery event")
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

type seen struct {
	device   device.Device
	lastSeen time.Time
}

// tracker remembers which receivers are present.
type tracker struct {
	mu      sync.Mutex
	expiry  time.Duration
	devices map[string]*seen
}

func newTracker(expiry time.Duration) *tracker {
	return &tracker{expiry: expiry, devices: make(map[string]*seen)}
}

// observe records an entry and returns the event it causes, if any.
func (t *tracker) observe(entry *zeroconf.ServiceEntry, now time.Time) (device.Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	name := entry.Instance
	current, known := t.devices[name]

	// A goodbye packet carries a zero TTL.
	if entry.TTL == 0 {
		if !known {
			return device.Event{}, false
		}
		delete(t.devices, name)
		return device.Event{Kind: device.Down, Device: current.device}, true
	}

	if len(entry.AddrIPv4) == 0 {
		return device.Event{}, false
	}
	dev := device.New(name, description(entry), entry.AddrIPv4[0].String(), entry.Port)

	if known && current.device == dev {
		current.lastSeen = now
		return device.Event{}, false
	}
	t.devices[name] = &seen{device: dev, lastSeen: now}
	return device.Event{Kind: device.Up, Device: dev}, true
}

// expire forgets receivers not seen within the expiry.
func (t *tracker) expire(now time.Time) []device.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	var events []device.Event
	for name, s := range t.devices {
		if now.Sub(s.lastSeen) > t.expiry {
			delete(t.devices, name)
			events = append(events, device.Event{Kind: device.Down, Device: s.device})
		}
	}
	return events
}

// description is the friendly name from the "fn" TXT record, else the instance name.
func description(entry *zeroconf.ServiceEntry) string {
	for _, txt := range entry.Text {
		if fn, ok := strings.CutPrefix(txt, "fn="); ok && fn != "" {
			return fn
		}
	}
	return entry.Instance
}
