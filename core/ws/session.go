package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is a session lifecycle phase.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Message is a single WebSocket frame.
type Message struct {
	Type int
	Data []byte
}

// Session is one live WebSocket connection. Inbound frames are queued
// by the read pump and consumed one at a time through Receive; outbound
// frames are queued by Send and drained by the write pump. Closing from
// either side flushes queued outbound frames before the close frame is
// written.
type Session struct {
	id           uuid.UUID
	conn         *websocket.Conn
	inbound      chan Message
	outbound     chan Message
	state        atomic.Int32
	closeOnce    sync.Once
	closing      chan struct{}
	done         chan struct{}
	closeCode    int
	writeTimeout time.Duration
	logger       *slog.Logger
	yield        Yield
}

func newSession(u *Upgrader) *Session {
	s := &Session{
		id:           uuid.New(),
		inbound:      make(chan Message, u.queueSize),
		outbound:     make(chan Message, u.queueSize),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
		closeCode:    websocket.CloseNormalClosure,
		writeTimeout: u.writeTimeout,
		logger:       u.logger,
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// State returns the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

// Bind installs the suspension hook used by Receive and Send. While
// bound, a blocked Receive or Send releases the call-lock so other
// invocations proceed, and reacquires it before returning.
func (s *Session) Bind(yield Yield) { s.yield = yield }

// Receive dequeues the next inbound frame. It blocks until a frame is
// available, the context is cancelled, or the session is closed, in
// which case it returns ErrConnectionClosed.
func (s *Session) Receive(ctx context.Context) (Message, error) {
	var msg Message
	wait := func(ctx context.Context) error {
		select {
		case m, ok := <-s.inbound:
			if !ok {
				return ErrConnectionClosed
			}
			msg = m
			return nil
		case <-s.done:
			// Drain frames that arrived before the close.
			select {
			case m, ok := <-s.inbound:
				if ok {
					msg = m
					return nil
				}
			default:
			}
			return ErrConnectionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	var err error
	if s.yield != nil {
		err = s.yield(wait)
	} else {
		err = wait(ctx)
	}
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Send queues a frame for delivery. When the outbound queue is full it
// waits for the write pump to drain a slot, backpressuring the handler
// against a slow peer; while the session is bound to an invocation that
// wait is a suspension point, so the call-lock is released for its
// duration. After the session has closed it fails with
// ErrConnectionClosed.
func (s *Session) Send(msg Message) error {
	if s.State() >= StateClosing {
		return ErrConnectionClosed
	}
	select {
	case s.outbound <- msg:
		return nil
	case <-s.closing:
		return ErrConnectionClosed
	default:
	}

	wait := func(ctx context.Context) error {
		select {
		case s.outbound <- msg:
			return nil
		case <-s.closing:
			return ErrConnectionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.yield != nil {
		return s.yield(wait)
	}
	return wait(context.Background())
}

// SendText queues a text frame.
func (s *Session) SendText(data string) error {
	return s.Send(Message{Type: websocket.TextMessage, Data: []byte(data)})
}

// SendJSON marshals v and queues it as a text frame.
func (s *Session) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Send(Message{Type: websocket.TextMessage, Data: data})
}

// Close initiates shutdown with the given close code, defaulting to
// 1000 (normal closure). Queued outbound frames are flushed before the
// close frame is written. Close is idempotent; it returns once the
// session reaches the Closed state.
func (s *Session) Close(code ...int) error {
	s.closeOnce.Do(func() {
		if len(code) > 0 && code[0] != 0 {
			s.closeCode = code[0]
		}
		s.state.Store(int32(StateClosing))
		close(s.closing)
	})
	<-s.done
	return nil
}

// readPump moves frames from the connection into the inbound queue
// until the connection fails or closes.
func (s *Session) readPump() {
	defer func() {
		// Peer-initiated close tears down the whole session.
		_ = s.Close()
	}()
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				s.logger.Warn("websocket read failed",
					"session_id", s.id,
					"error", err)
			}
			return
		}
		select {
		case s.inbound <- Message{Type: msgType, Data: data}:
		case <-s.closing:
			return
		}
	}
}

// writePump drains the outbound queue to the connection. On close it
// flushes remaining queued frames, writes the close frame, and moves
// the session to Closed.
func (s *Session) writePump() {
	for {
		select {
		case msg := <-s.outbound:
			if err := s.write(msg); err != nil {
				s.terminate()
				return
			}
		case <-s.closing:
			s.flush()
			s.terminate()
			return
		}
	}
}

// flush writes frames already queued at close time.
func (s *Session) flush() {
	for {
		select {
		case msg := <-s.outbound:
			if err := s.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(msg Message) error {
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(msg.Type, msg.Data)
}

func (s *Session) terminate() {
	// Make sure closing is signalled even when termination started from
	// a write failure rather than Close.
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		close(s.closing)
	})
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(s.closeCode, ""), deadline)
	_ = s.conn.Close()
	s.state.Store(int32(StateClosed))
	close(s.done)
}
