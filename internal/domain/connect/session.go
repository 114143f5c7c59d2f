// Package connect drives one playback receiver over its persistent control
// connection and mirrors its playback status.
package connect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-connect-streamer/internal/domain/device"
	"github.com/edumarques81/stellar-connect-streamer/internal/domain/queue"
	"github.com/edumarques81/stellar-connect-streamer/internal/infra/catalog"
)

// Common errors
var (
	// ErrNotConnected indicates no connection to the receiver is open
	ErrNotConnected = errors.New("not connected to receiver")

	// ErrNoQueue indicates the operation needs a loaded queue
	ErrNoQueue = errors.New("no queue loaded")

	// ErrPositionOutOfRange indicates a position outside the track list
	ErrPositionOutOfRange = errors.New("position out of range")

	// ErrClosed indicates the session was closed for good
	ErrClosed = errors.New("session closed")
)

// Config holds session timings and identity.
type Config struct {
	AppID   string
	AppName string

	// WaitDelay between connect attempts while no user is logged in
	WaitDelay time.Duration
	// RetryDelay before reconnecting after a receiver session error
	RetryDelay time.Duration
	// HeartbeatInterval between pings
	HeartbeatInterval time.Duration
	// CloseTimeout bounds the wait for the receiver to acknowledge a close
	CloseTimeout time.Duration

	// ReconnectOnSessionEnd reconnects after the receiver ends the session
	ReconnectOnSessionEnd bool

	// InboxSize is the number of notifications buffered ahead of the dispatcher
	InboxSize int
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		AppID:             "tidal",
		AppName:           "tidal",
		WaitDelay:         1000 * time.Millisecond,
		RetryDelay:        5000 * time.Millisecond,
		HeartbeatInterval: 1000 * time.Millisecond,
		CloseTimeout:      2000 * time.Millisecond,
		InboxSize:         64,
	}
}

// Conn is an open control connection. Send and Ping may be called
// concurrently with Receive.
type Conn interface {
	Send(data []byte) error
	Receive() ([]byte, error)
	Ping() error
	// CloseGracefully starts the close handshake; Receive fails once it completes.
	CloseGracefully() error
	Close() error
}

// Dialer opens control connections.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Identity tells whether a user is logged in.
type Identity interface {
	UserID() (string, bool)
}

// Publisher receives every status change. Publish must not block.
type Publisher interface {
	Publish(deviceID string, status any)
}

// link is the per-connection state. disconnected() is its baseline.
type link struct {
	phase      Phase
	conn       Conn
	cancel     context.CancelFunc
	readerDone chan struct{}
	sessionID  catalog.ID
	requestID  int64
	retry      *time.Timer
}

func disconnected() link {
	return link{
		phase:      Disconnected,
		conn:       nil,
		cancel:     nil,
		readerDone: nil,
		sessionID:  "",
		requestID:  0,
		retry:      nil,
	}
}

// Session is the control session with one receiver.
type Session struct {
	device    device.Device
	dialer    Dialer
	identity  Identity
	sync      *queue.Synchronizer
	publisher Publisher
	cfg       Config
	log       zerolog.Logger

	// connectMu serializes connect and teardown sequences
	connectMu sync.Mutex

	mu          sync.Mutex
	link        link
	status      Status
	lastMediaID catalog.ID
	closed      bool
}

// NewSession creates a disconnected session for dev.
func NewSession(dev device.Device, dialer Dialer, identity Identity, sync *queue.Synchronizer, publisher Publisher, cfg Config) *Session {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultConfig().InboxSize
	}
	return &Session{
		device:    dev,
		dialer:    dialer,
		identity:  identity,
		sync:      sync,
		publisher: publisher,
		cfg:       cfg,
		log:       log.With().Str("device", dev.Name).Str("addr", dev.Addr()).Logger(),
		link:      disconnected(),
		status:    stoppedStatus(),
	}
}

// Device returns the receiver this session drives.
func (s *Session) Device() device.Device {
	return s.device
}

// Phase returns the connection state.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link.phase
}

// SessionID returns the id the receiver assigned, if any.
func (s *Session) SessionID() catalog.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link.sessionID
}

// Status returns a snapshot of the playback status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.clone()
}

// Connect opens the control connection and starts the session. With no user
// logged in it returns nil and tries again after the wait delay. A dial
// failure is returned and not retried.
func (s *Session) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.link.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.stopRetryLocked()

	userID, ok := s.identity.UserID()
	if !ok {
		s.link.phase = Disconnected
		s.scheduleRetryLocked(s.cfg.WaitDelay)
		s.mu.Unlock()
		s.log.Debug().Dur("wait", s.cfg.WaitDelay).Msg("No user logged in, waiting before connecting")
		return nil
	}
	s.link.phase = Connecting
	s.mu.Unlock()

	conn, err := s.dialer.Dial(ctx, s.device.Addr())
	if err != nil {
		s.mu.Lock()
		s.link.phase = Disconnected
		s.mu.Unlock()
		s.log.Warn().Err(err).Msg("Unable to connect to receiver")
		return fmt.Errorf("connect to %s: %w", s.device.Addr(), err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	lctx, cancel := context.WithCancel(context.Background())
	readerDone := make(chan struct{})
	s.link.conn = conn
	s.link.cancel = cancel
	s.link.readerDone = readerDone
	s.mu.Unlock()

	err = s.sendCommand(cmdStartSession, startSession{
		AppID:             s.cfg.AppID,
		AppName:           s.cfg.AppName,
		SessionCredential: userID,
	})
	if err != nil {
		s.mu.Lock()
		s.link = disconnected()
		s.mu.Unlock()
		cancel()
		conn.Close()
		return fmt.Errorf("start session: %w", err)
	}

	s.mu.Lock()
	s.link.phase = Connected
	s.mu.Unlock()

	inbox := make(chan []byte, s.cfg.InboxSize)
	go s.read(lctx, conn, inbox, readerDone)
	go s.dispatch(lctx, inbox)
	go s.heartbeat(lctx, conn)

	s.log.Info().Msg("Connected to receiver")
	return nil
}

// Shutdown closes the connection and resets the session to its
// disconnected baseline. The session can connect again afterwards.
func (s *Session) Shutdown() {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	l := s.link
	s.link = disconnected()
	s.status = stoppedStatus()
	s.lastMediaID = ""
	s.publishLocked()
	s.mu.Unlock()

	s.release(l)
}

// Close shuts the session down for good.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Shutdown()
}

// release stops the timers of l and closes its connection, waiting up to
// CloseTimeout for the receiver to acknowledge.
func (s *Session) release(l link) {
	if l.retry != nil {
		l.retry.Stop()
	}
	if l.conn == nil {
		return
	}
	l.cancel()

	if err := l.conn.CloseGracefully(); err != nil {
		s.log.Debug().Err(err).Msg("Close handshake failed")
	}
	select {
	case <-l.readerDone:
	case <-time.After(s.cfg.CloseTimeout):
		s.log.Warn().Dur("timeout", s.cfg.CloseTimeout).Msg("Receiver did not acknowledge close")
	}
	if err := l.conn.Close(); err != nil {
		s.log.Debug().Err(err).Msg("Error closing connection")
	}
	s.log.Info().Msg("Disconnected from receiver")
}

// dropTransport forgets a connection the reader found dead. Playback status is kept.
func (s *Session) dropTransport(conn Conn) {
	s.mu.Lock()
	if s.link.conn != conn {
		s.mu.Unlock()
		return
	}
	l := s.link
	s.link = disconnected()
	s.mu.Unlock()

	l.cancel()
	conn.Close()
}

func (s *Session) stopRetryLocked() {
	if s.link.retry != nil {
		s.link.retry.Stop()
		s.link.retry = nil
	}
}

func (s *Session) scheduleRetryLocked(delay time.Duration) {
	s.stopRetryLocked()
	s.link.retry = time.AfterFunc(delay, func() {
		if err := s.Connect(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
			s.log.Warn().Err(err).Msg("Reconnect failed")
		}
	})
}

// publishLocked hands a snapshot to the publisher. Called with mu held so
// observers see changes in order.
func (s *Session) publishLocked() {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(s.device.ID, s.status.clone())
}

// sendCommand sends a command on the open connection. Until the session is
// started only startSession may go out.
func (s *Session) sendCommand(command string, payload any) error {
	s.mu.Lock()
	conn := s.link.conn
	if conn == nil || (s.link.phase != Connected && command != cmdStartSession) {
		s.mu.Unlock()
		return ErrNotConnected
	}
	requestID := s.link.requestID
	s.link.requestID++
	s.mu.Unlock()

	data, err := encodeCommand(command, requestID, payload)
	if err != nil {
		return err
	}
	s.log.Debug().Str("command", command).Int64("requestId", requestID).Msg("Sending command")
	if err := conn.Send(data); err != nil {
		return fmt.Errorf("send %s: %w", command, err)
	}
	return nil
}

// ensureConnected connects on demand before a caller command. A connect in
// flight is waited for through Connect.
func (s *Session) ensureConnected(ctx context.Context) error {
	s.mu.Lock()
	closed, connected := s.closed, s.link.phase == Connected
	s.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if connected {
		return nil
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	connected = s.link.phase == Connected
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	return nil
}

func (s *Session) command(ctx context.Context, command string, payload any) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}
	return s.sendCommand(command, payload)
}

func (s *Session) read(ctx context.Context, conn Conn, inbox chan<- []byte, done chan struct{}) {
	defer close(done)
	for {
		data, err := conn.Receive()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("Connection to receiver lost")
				s.dropTransport(conn)
			}
			return
		}
		select {
		case inbox <- data:
		case <-ctx.Done():
			return
		}
	}
}

// dispatch handles notifications one at a time, in arrival order.
func (s *Session) dispatch(ctx context.Context, inbox <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-inbox:
			s.handle(ctx, data)
		}
	}
}

func (s *Session) heartbeat(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				s.log.Debug().Err(err).Msg("Heartbeat failed")
			}
		}
	}
}
