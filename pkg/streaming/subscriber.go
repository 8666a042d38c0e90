package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phenomenon0/betting-analytics/pkg/betting"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrReconnectExhausted is reported by Err when the subscriber gives up reconnecting.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// State represents the subscriber connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ReceivedEvent is an Event as read off the wire, with Data left encoded.
type ReceivedEvent struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ValidationFailed decodes the payload of a validation failure event.
func (e ReceivedEvent) ValidationFailed() (betting.ValidationFailedPayload, error) {
	var p betting.ValidationFailedPayload
	if e.Type != EventTypeValidationFailed {
		return p, fmt.Errorf("event %s is not %s", e.Type, EventTypeValidationFailed)
	}
	err := json.Unmarshal(e.Data, &p)
	return p, err
}

// SubscriberConfig holds subscriber configuration.
type SubscriberConfig struct {
	// URL is the hub's WebSocket URL, e.g. ws://localhost:8080/ws
	URL string

	// EventTypes restricts delivery to these types. Empty keeps the hub defaults.
	EventTypes []EventType

	// Reconnect settings
	ReconnectEnabled     bool
	ReconnectMinDelay    time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int // 0 = unlimited

	ReadTimeout time.Duration
	BufferSize  int
	Logger      *zap.Logger
}

// DefaultSubscriberConfig returns a config with sensible defaults.
func DefaultSubscriberConfig(url string) SubscriberConfig {
	return SubscriberConfig{
		URL:                  url,
		ReconnectEnabled:     true,
		ReconnectMinDelay:    1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		ReconnectMaxAttempts: 0, // unlimited
		ReadTimeout:          90 * time.Second,
		BufferSize:           256,
	}
}

// Subscriber consumes a Hub's event stream and reconnects on failure.
type Subscriber struct {
	config SubscriberConfig
	log    *zap.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	state  int32 // atomic State

	events    chan ReceivedEvent
	closeCh   chan struct{}
	closeOnce sync.Once

	attempts int
	dropped  atomic.Int64

	errMu sync.Mutex
	err   error
}

// NewSubscriber creates a subscriber. Call Connect to start receiving.
func NewSubscriber(config SubscriberConfig) *Subscriber {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriber{
		config:  config,
		log:     log,
		events:  make(chan ReceivedEvent, config.BufferSize),
		closeCh: make(chan struct{}),
	}
}

// Connect dials the hub and applies the event filter.
func (s *Subscriber) Connect(ctx context.Context) error {
	if s.State() == StateClosed {
		return errors.New("subscriber is closed")
	}
	s.setState(StateConnecting)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.config.URL, nil)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("dial failed: %w", err)
	}

	if err := s.applyFilter(conn); err != nil {
		conn.Close()
		s.setState(StateDisconnected)
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.setState(StateConnected)
	s.attempts = 0

	go s.readLoop(conn)
	return nil
}

// applyFilter replaces the hub's default subscriptions with the configured types.
func (s *Subscriber) applyFilter(conn *websocket.Conn) error {
	if len(s.config.EventTypes) == 0 {
		return nil
	}

	all := make([]string, len(DefaultEventTypes))
	for i, t := range DefaultEventTypes {
		all[i] = string(t)
	}
	wanted := make([]string, len(s.config.EventTypes))
	for i, t := range s.config.EventTypes {
		wanted[i] = string(t)
	}

	msgs := []interface{}{
		map[string]interface{}{"type": "unsubscribe", "events": all},
		map[string]interface{}{"type": "subscribe", "events": wanted},
	}
	for _, msg := range msgs {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe failed: %w", err)
		}
	}
	return nil
}

// Events returns the channel events are delivered on. It is never closed;
// select on Done as well.
func (s *Subscriber) Events() <-chan ReceivedEvent {
	return s.events
}

// Done is closed when the subscriber is closed or has given up reconnecting.
func (s *Subscriber) Done() <-chan struct{} {
	return s.closeCh
}

// Err returns why the subscriber stopped, or nil if it was closed by the caller
// or is still running.
func (s *Subscriber) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// State returns the current connection state.
func (s *Subscriber) State() State {
	return State(atomic.LoadInt32(&s.state))
}

// Close stops the subscriber.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		close(s.closeCh)

		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.connMu.Unlock()
	})
	return nil
}

func (s *Subscriber) setState(st State) {
	old := State(atomic.SwapInt32(&s.state, int32(st)))
	if old == StateClosed && st != StateClosed {
		// Closed is terminal
		atomic.StoreInt32(&s.state, int32(StateClosed))
		return
	}
	if old != st {
		s.log.Debug("subscriber state changed", zap.Stringer("from", old), zap.Stringer("to", st))
	}
}

func (s *Subscriber) readLoop(conn *websocket.Conn) {
	for {
		if s.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if s.State() == StateClosed {
				return
			}
			s.log.Warn("stream connection lost", zap.Error(err))
			s.setState(StateDisconnected)
			if s.config.ReconnectEnabled {
				go s.reconnect()
			}
			return
		}

		var ev ReceivedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.log.Debug("ignoring malformed event", zap.Error(err))
			continue
		}

		select {
		case s.events <- ev:
		default:
			// Buffer full, drop event
			s.dropped.Add(1)
		}
	}
}

// backoff returns the delay before the given reconnect attempt (1-based).
func (s *Subscriber) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		return s.config.ReconnectMaxDelay
	}
	delay := s.config.ReconnectMinDelay * time.Duration(1<<uint(attempt-1))
	if delay > s.config.ReconnectMaxDelay || delay <= 0 {
		delay = s.config.ReconnectMaxDelay
	}
	return delay
}

func (s *Subscriber) reconnect() {
	s.setState(StateReconnecting)

	for {
		if s.State() == StateClosed {
			return
		}

		s.attempts++
		if s.config.ReconnectMaxAttempts > 0 && s.attempts > s.config.ReconnectMaxAttempts {
			s.log.Error("giving up on stream", zap.Int("attempts", s.config.ReconnectMaxAttempts))
			s.errMu.Lock()
			s.err = fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, s.config.ReconnectMaxAttempts)
			s.errMu.Unlock()
			s.Close()
			return
		}

		select {
		case <-s.closeCh:
			return
		case <-time.After(s.backoff(s.attempts)):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := s.Connect(ctx)
		cancel()
		if err == nil {
			return
		}

		s.log.Warn("reconnect attempt failed", zap.Int("attempt", s.attempts), zap.Error(err))
	}
}
