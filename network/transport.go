package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"lanshare/logging"
	"lanshare/models"
)

const (
	// DefaultRetryInterval is the fixed delay between reconnect attempts.
	DefaultRetryInterval = 5 * time.Second
	// DefaultDialTimeout bounds one websocket dial plus handshake write.
	DefaultDialTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds one frame write.
	DefaultWriteTimeout = 30 * time.Second
)

var (
	// ErrTransportDisposed indicates the transport was already disposed.
	ErrTransportDisposed = errors.New("network: transport disposed")
)

// TransportState is the lifecycle state of the relay connection.
type TransportState string

const (
	StateIdle       TransportState = "IDLE"
	StateConnecting TransportState = "CONNECTING"
	StateOpen       TransportState = "OPEN"
	StateClosed     TransportState = "CLOSED"
	StateWaiting    TransportState = "WAITING"
	StateDisposed   TransportState = "DISPOSED"
)

// ConnectionError describes a failed dial, handshake, read or write.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("network: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportOptions controls Transport behavior.
type TransportOptions struct {
	URL           string
	Identity      models.ClientIdentity
	RetryInterval time.Duration
	DialTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxFrameSize  int64
	Header        http.Header
	Dialer        *websocket.Dialer
	Logger        *logrus.Logger
	// OnStateChange is called after every state transition, from the goroutine that caused it.
	OnStateChange func(TransportState)
}

func (o TransportOptions) withDefaults() TransportOptions {
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = MaxFrameSize
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	o.Logger = logging.OrDefault(o.Logger)
	return o
}

// Transport owns the single persistent relay connection and reconnects it on failure.
//
// A connection and the reconnect timer never exist at the same time.
type Transport struct {
	options   TransportOptions
	log       *logrus.Entry
	handshake []byte
	retry     backoff.BackOff

	ctx    context.Context
	cancel context.CancelFunc

	stateMu sync.RWMutex
	state   TransportState

	handlerMu sync.RWMutex
	handler   func([]byte)

	connMu sync.Mutex
	conn   *websocket.Conn

	writeMu sync.Mutex

	attempts atomic.Int64

	startOnce   sync.Once
	disposeOnce sync.Once
	started     atomic.Bool
	done        chan struct{}
}

// NewTransport validates options and returns an idle transport.
func NewTransport(options TransportOptions) (*Transport, error) {
	options = options.withDefaults()

	parsed, err := url.Parse(options.URL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return nil, fmt.Errorf("relay url %q: scheme must be ws or wss", options.URL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("relay url %q: missing host", options.URL)
	}

	handshake, err := EncodeHandshake(options.Identity)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		options:   options,
		log:       options.Logger.WithFields(logrus.Fields{"component": "transport", "url": options.URL}),
		handshake: handshake,
		retry:     backoff.NewConstantBackOff(options.RetryInterval),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
		done:      make(chan struct{}),
	}, nil
}

// OnFrame registers the single consumer of inbound frames.
//
// The handler runs on the read goroutine, one frame at a time in arrival order.
// It must not call Dispose.
func (t *Transport) OnFrame(handler func([]byte)) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handler = handler
}

// Connect starts the connection loop. Later calls are no-ops.
func (t *Transport) Connect() error {
	if t.ctx.Err() != nil {
		return ErrTransportDisposed
	}
	t.startOnce.Do(func() {
		t.started.Store(true)
		go t.run()
	})
	return nil
}

// State returns the current state.
func (t *Transport) State() TransportState {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	return t.state
}

// Attempts returns the number of dials started so far.
func (t *Transport) Attempts() int64 {
	return t.attempts.Load()
}

// Send writes one frame. It reports false when the connection is not open or the write fails.
func (t *Transport) Send(frame []byte) bool {
	if t.State() != StateOpen {
		return false
	}

	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		return false
	}

	if err := t.write(conn, frame); err != nil {
		t.log.WithError(&ConnectionError{Op: "write", URL: t.options.URL, Err: err}).Warn("relay write failed")
		// the read loop observes the close and drives reconnection
		_ = conn.Close()
		return false
	}
	return true
}

// Dispose cancels any pending retry, closes the live connection and stops the loop.
// It is safe to call in any state and more than once.
func (t *Transport) Dispose() {
	t.disposeOnce.Do(func() {
		t.cancel()

		t.connMu.Lock()
		conn := t.conn
		t.connMu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			_ = conn.Close()
		}

		if t.started.Load() {
			<-t.done
		}
		t.setState(StateDisposed)
	})
}

func (t *Transport) run() {
	defer close(t.done)

	for {
		if t.ctx.Err() != nil {
			return
		}

		t.setState(StateConnecting)
		attempt := t.attempts.Add(1)
		conn, err := t.dial()
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			t.log.WithField("attempt", attempt).WithError(err).Warn("relay connection failed")
		} else {
			t.retry.Reset()
			t.serve(conn)
		}

		if t.ctx.Err() != nil {
			return
		}
		t.setState(StateClosed)

		wait := t.retry.NextBackOff()
		t.setState(StateWaiting)
		t.log.WithField("retry_in", wait).Debug("waiting before reconnect")

		timer := time.NewTimer(wait)
		select {
		case <-t.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (t *Transport) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(t.ctx, t.options.DialTimeout)
	defer cancel()

	conn, resp, err := t.options.Dialer.DialContext(ctx, t.options.URL, t.options.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, &ConnectionError{Op: "dial", URL: t.options.URL, Err: err}
	}
	conn.SetReadLimit(t.options.MaxFrameSize)

	if err := t.write(conn, t.handshake); err != nil {
		_ = conn.Close()
		return nil, &ConnectionError{Op: "handshake", URL: t.options.URL, Err: err}
	}

	t.connMu.Lock()
	if t.ctx.Err() != nil {
		t.connMu.Unlock()
		_ = conn.Close()
		return nil, &ConnectionError{Op: "dial", URL: t.options.URL, Err: ErrTransportDisposed}
	}
	t.conn = conn
	t.connMu.Unlock()

	t.setState(StateOpen)
	t.log.Info("relay connection open")
	return conn, nil
}

func (t *Transport) serve(conn *websocket.Conn) {
	defer func() {
		t.connMu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.connMu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.log.Info("relay closed the connection")
			} else {
				t.log.WithError(&ConnectionError{Op: "read", URL: t.options.URL, Err: err}).Warn("relay connection lost")
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		t.handlerMu.RLock()
		handler := t.handler
		t.handlerMu.RUnlock()
		if handler != nil {
			handler(payload)
		}
	}
}

func (t *Transport) write(conn *websocket.Conn, frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(t.options.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *Transport) setState(state TransportState) {
	t.stateMu.Lock()
	if t.state == StateDisposed || t.state == state {
		t.stateMu.Unlock()
		return
	}
	t.state = state
	t.stateMu.Unlock()

	t.log.WithField("state", state).Debug("transport state changed")
	if t.options.OnStateChange != nil {
		t.options.OnStateChange(state)
	}
}
