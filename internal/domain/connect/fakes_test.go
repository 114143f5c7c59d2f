package connect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edumarques81/stellar-connect-streamer/internal/domain/device"
	"github.com/edumarques81/stellar-connect-streamer/internal/domain/queue"
	"github.com/edumarques81/stellar-connect-streamer/internal/infra/catalog"
)

var errConnClosed = errors.New("connection closed")

type fakeConn struct {
	mu   sync.Mutex
	sent []map[string]any

	incoming  chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	// ignoreClose makes CloseGracefully a no-op so Receive stays blocked
	ignoreClose bool
	pings       int32
	closeCalls  int32

	// sendGate holds every Send until closed; entered closes on the first one
	sendGate  chan struct{}
	entered   chan struct{}
	enterOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 32),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) Send(data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	if c.sendGate != nil {
		c.enterOnce.Do(func() { close(c.entered) })
		<-c.sendGate
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Receive() ([]byte, error) {
	select {
	case data := <-c.incoming:
		return data, nil
	case <-c.closed:
		return nil, errConnClosed
	}
}

func (c *fakeConn) Ping() error {
	atomic.AddInt32(&c.pings, 1)
	return errors.New("pong lost")
}

func (c *fakeConn) CloseGracefully() error {
	if c.ignoreClose {
		return nil
	}
	c.shut()
	return nil
}

func (c *fakeConn) Close() error {
	atomic.AddInt32(&c.closeCalls, 1)
	c.shut()
	return nil
}

func (c *fakeConn) shut() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// commands returns the names of the commands sent so far.
func (c *fakeConn) commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.sent))
	for i, msg := range c.sent {
		names[i], _ = msg["command"].(string)
	}
	return names
}

func (c *fakeConn) message(i int) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[i]
}

func (c *fakeConn) notify(t *testing.T, msg map[string]any) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal notification: %v", err)
	}
	c.incoming <- data
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	// ignoreClose is applied to every dialed connection
	ignoreClose bool
	sendGate    chan struct{}
	entered     chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		d.conns = append(d.conns, nil)
		return nil, d.err
	}
	c := newFakeConn()
	c.ignoreClose = d.ignoreClose
	c.sendGate, c.entered = d.sendGate, d.entered
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type fakeIdentity struct {
	mu    sync.Mutex
	id    string
	calls int32
}

func (f *fakeIdentity) UserID() (string, bool) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id, f.id != ""
}

func (f *fakeIdentity) set(id string) {
	f.mu.Lock()
	f.id = id
	f.mu.Unlock()
}

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []Status
}

func (p *recordingPublisher) Publish(deviceID string, status any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, status.(Status))
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.statuses)
}

func (p *recordingPublisher) last() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statuses[len(p.statuses)-1]
}

// fakeCatalog serves queues whose items carry the media ids of their tracks.
type fakeCatalog struct {
	mu          sync.Mutex
	queues      map[string][]catalog.Track
	fetches     int32
	mutationErr error
	reorderFail int
	reorders    int
	etag        int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{queues: map[string][]catalog.Track{}}
}

func (f *fakeCatalog) put(queueID string, tracks []catalog.Track) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[queueID] = tracks
}

func (f *fakeCatalog) FetchQueue(ctx context.Context, queueID string) (*catalog.Queue, error) {
	atomic.AddInt32(&f.fetches, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	tracks, ok := f.queues[queueID]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return mirrorOf(queueID, tracks).Queue, nil
}

func (f *fakeCatalog) FetchQueueContent(ctx context.Context, queueID string, offset, limit int) ([]catalog.QueueTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tracks := f.queues[queueID]
	end := min(offset+limit, len(tracks))
	return mirrorOf(queueID, tracks[offset:end]).Tracks, nil
}

func (f *fakeCatalog) FetchTrack(ctx context.Context, trackID catalog.ID) (*catalog.Track, error) {
	t := newTrack(trackID)
	return &t, nil
}

func (f *fakeCatalog) nextETag() string {
	f.etag++
	return fmt.Sprintf("etag-%d", f.etag)
}

func (f *fakeCatalog) AddToQueue(ctx context.Context, queueID, etag, afterID string, tracks []catalog.Track, originalOrder int) ([]catalog.QueueItem, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutationErr != nil {
		return nil, "", f.mutationErr
	}
	return mirrorOf(queueID, tracks).Queue.Items, f.nextETag(), nil
}

func (f *fakeCatalog) DeleteFromQueue(ctx context.Context, queueID, etag, itemID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutationErr != nil {
		return "", f.mutationErr
	}
	return f.nextETag(), nil
}

func (f *fakeCatalog) ReorderQueue(ctx context.Context, queueID, etag, moveID, afterID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutationErr != nil {
		return "", f.mutationErr
	}
	f.reorders++
	if f.reorders == f.reorderFail {
		return "", errors.New("queue store unavailable")
	}
	return f.nextETag(), nil
}

func (f *fakeCatalog) ServerInfo(ctx context.Context) (catalog.ServerInfo, error) {
	return catalog.ServerInfo{QueueServerURL: "https://queue/queues", ContentServerURL: "https://api"}, nil
}

func newTrack(id catalog.ID) catalog.Track {
	return catalog.Track{ID: id, Title: "Track " + id.String(), Duration: 180, AudioQuality: "LOSSLESS"}
}

func tracksWithIDs(ids ...string) []catalog.Track {
	tracks := make([]catalog.Track, len(ids))
	for i, id := range ids {
		tracks[i] = newTrack(catalog.ID(id))
	}
	return tracks
}

func mirrorOf(queueID string, tracks []catalog.Track) queue.Mirror {
	m := queue.Mirror{Queue: &catalog.Queue{ID: queueID, ETag: "etag-0", Total: len(tracks)}}
	m.Tracks = []catalog.QueueTrack{}
	for _, t := range tracks {
		m.Queue.Items = append(m.Queue.Items, catalog.QueueItem{ID: "item-" + t.ID.String(), MediaID: t.ID})
		m.Tracks = append(m.Tracks, catalog.QueueTrack{Item: t, Type: "track"})
	}
	return m
}

type harness struct {
	session   *Session
	dialer    *fakeDialer
	identity  *fakeIdentity
	publisher *recordingPublisher
	catalog   *fakeCatalog
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WaitDelay = 20 * time.Millisecond
	cfg.RetryDelay = 30 * time.Millisecond
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.CloseTimeout = 50 * time.Millisecond
	return cfg
}

func newHarness(t *testing.T, userID string, cfg Config) *harness {
	t.Helper()
	h := &harness{
		dialer:    &fakeDialer{},
		identity:  &fakeIdentity{id: userID},
		publisher: &recordingPublisher{},
		catalog:   newFakeCatalog(),
	}
	dev := device.New("Living Room", "Living Room speaker", "192.168.1.20", 2019)
	h.session = NewSession(dev, h.dialer, h.identity, queue.NewSynchronizer(h.catalog), h.publisher, cfg)
	t.Cleanup(h.session.Close)
	return h
}

// connected returns a harness whose session is connected.
func connected(t *testing.T) (*harness, *fakeConn) {
	t.Helper()
	h := newHarness(t, "42", testConfig())
	if err := h.session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return h, h.dialer.conn(0)
}

// prime installs a playback status as if the receiver had reported it.
func (h *harness) prime(m queue.Mirror, position int, state State, progress int64) {
	s := h.session
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Queue = m.Queue
	s.status.Tracks = m.Tracks
	s.status.Position = position
	s.status.State = state
	s.status.Progress = progress
	if position >= 0 {
		s.lastMediaID = m.Tracks[position].Item.ID
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
