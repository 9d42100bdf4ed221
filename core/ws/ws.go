// Package ws provides the WebSocket session bridge: a full-duplex
// counterpart to the HTTP request path. Frames are pumped between the
// connection and per-session queues by dedicated goroutines, so user
// logic never touches the socket directly. Queue waits are suspension
// points: when a session is bound to an invocation, blocking on the
// next inbound frame or on a full outbound queue releases the
// call-lock and reacquires it before the handler resumes.
package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Upgrader performs the standard upgrade handshake and produces
// Sessions. One Upgrader is shared by all WebSocket routes of an
// application.
type Upgrader struct {
	upgrader     websocket.Upgrader
	queueSize    int
	readLimit    int64
	writeTimeout time.Duration
	logger       *slog.Logger
}

// Option configures an Upgrader.
type Option func(*Upgrader)

// WithReadBuffer sets the connection read buffer size in bytes.
func WithReadBuffer(size int) Option {
	return func(u *Upgrader) {
		u.upgrader.ReadBufferSize = size
	}
}

// WithWriteBuffer sets the connection write buffer size in bytes.
func WithWriteBuffer(size int) Option {
	return func(u *Upgrader) {
		u.upgrader.WriteBufferSize = size
	}
}

// WithHandshakeTimeout bounds the duration of the upgrade handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(u *Upgrader) {
		u.upgrader.HandshakeTimeout = d
	}
}

// WithOriginCheck sets the origin policy for upgrade requests.
func WithOriginCheck(fn func(r *http.Request) bool) Option {
	return func(u *Upgrader) {
		u.upgrader.CheckOrigin = fn
	}
}

// WithAllowAnyOrigin disables origin checking entirely.
func WithAllowAnyOrigin() Option {
	return func(u *Upgrader) {
		u.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
}

// WithSubprotocols advertises the given subprotocols during the
// handshake.
func WithSubprotocols(protocols ...string) Option {
	return func(u *Upgrader) {
		u.upgrader.Subprotocols = protocols
	}
}

// WithQueueSize sets the capacity of the inbound and outbound frame
// queues. Sends block once the outbound queue is full, backpressuring
// the handler when the peer reads slowly.
func WithQueueSize(n int) Option {
	return func(u *Upgrader) {
		if n > 0 {
			u.queueSize = n
		}
	}
}

// WithReadLimit caps the size of a single inbound frame in bytes.
func WithReadLimit(n int64) Option {
	return func(u *Upgrader) {
		u.readLimit = n
	}
}

// WithWriteTimeout bounds each write to the underlying connection.
func WithWriteTimeout(d time.Duration) Option {
	return func(u *Upgrader) {
		u.writeTimeout = d
	}
}

// WithLogger sets the logger used for session diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Upgrader) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// NewUpgrader creates an Upgrader.
func NewUpgrader(opts ...Option) *Upgrader {
	u := &Upgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		queueSize:    32,
		writeTimeout: 10 * time.Second,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upgrade completes the handshake and returns an Open session with its
// read and write pumps running. The caller owns the session and must
// Close it when done.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (*Session, error) {
	s := newSession(u)
	// The handshake is the Connecting phase of the lifecycle.
	conn, err := u.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		s.state.Store(int32(StateClosed))
		return nil, err
	}
	s.conn = conn
	if u.readLimit > 0 {
		conn.SetReadLimit(u.readLimit)
	}
	s.state.Store(int32(StateOpen))

	go s.readPump()
	go s.writePump()
	return s, nil
}

// Yield is the suspension hook a session is bound to: it releases the
// call-lock around fn and reacquires it before returning.
type Yield func(fn func(ctx context.Context) error) error
