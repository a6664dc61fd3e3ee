// pattern: Imperative Shell

package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"coderoom/internal/broker"
	"coderoom/internal/logging"
)

const sendTimeout = 5 * time.Second

// HandleSession upgrades to websocket and runs one collaboration session.
//
// Per-connection lifecycle: CONNECTED (terminal spawned eagerly) →
// optionally JOINED (first accepted join-room event) → CLOSED. Teardown
// runs exactly once on any close, explicit or abrupt: terminal kill,
// then member removal, then presence re-broadcast to the room left
// behind.
//
// Frame protocol: binary frames are terminal bytes in both directions,
// private to the connection; text frames are JSON event envelopes.
func (s *Server) HandleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(1 << 20) // 1 MB read limit

	connID := uuid.NewString()
	logger := s.logger.With("conn", connID)

	// The session outlives r.Context() after the upgrade.
	ctx := context.Background()
	sink := newWSSink(conn)

	// One shell per connection, started at accept time, not at join time.
	// A spawn failure is surfaced to this connection only; the session
	// continues shell-less.
	if err := s.terminals.Spawn(connID, s.shell, sink.SendBinary); err != nil {
		if env, encErr := broker.NewEnvelope(broker.EventTerminalError, broker.TerminalError{
			Message: "terminal failed to start",
		}); encErr == nil {
			_ = sink.Send(env)
		}
	}

	// Exactly once, in this order, even on abrupt disconnect: kill the
	// shell, remove the member, re-broadcast presence.
	var once sync.Once
	teardown := func() {
		once.Do(func() {
			s.terminals.Kill(connID)
			s.router.HandleDisconnect(connID)
		})
	}
	defer teardown()

	logger.Info("session connected")

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			logger.Info("session disconnected", "reason", err)
			return
		}

		if msgType == websocket.MessageBinary {
			s.terminals.Write(connID, data)
			continue
		}

		var env broker.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Debug("unparseable frame dropped", "error", err)
			continue
		}
		s.dispatch(ctx, connID, sink, env, logger)
	}
}

// dispatch routes one inbound envelope. Handlers run synchronously on
// the connection's read loop, so a connection's events are processed in
// transport order and never concurrently with each other.
func (s *Server) dispatch(ctx context.Context, connID string, sink *wsSink, env broker.Envelope, logger *logging.ScopedLogger) {
	switch env.Event {
	case broker.EventJoinRoom:
		var p broker.JoinPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			logger.Debug("bad join payload", "error", err)
			return
		}
		s.router.HandleJoin(ctx, connID, sink, p)

	case broker.EventSendChat:
		s.router.HandleChat(connID, env.Data)

	case broker.EventCodeChange:
		var p broker.CodeChangePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			logger.Debug("bad code-change payload", "error", err)
			return
		}
		s.router.HandleCodeChange(ctx, connID, p)

	case broker.EventCursorMove:
		var p broker.CursorMovePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			logger.Debug("bad cursor payload", "error", err)
			return
		}
		s.router.HandleCursorMove(connID, p)

	case broker.EventResize:
		var p broker.ResizePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			logger.Debug("bad resize payload", "error", err)
			return
		}
		s.terminals.Resize(connID, p.Rows, p.Cols)

	default:
		logger.Debug("unknown event dropped", "event", env.Event)
	}
}

// wsSink adapts a websocket connection to broker.Sink. Sends are
// serialized and bounded so one slow client cannot wedge a broadcast.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSSink(conn *websocket.Conn) *wsSink {
	return &wsSink{conn: conn}
}

// Send writes one JSON event envelope as a text frame.
func (s *wsSink) Send(env broker.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.write(websocket.MessageText, data)
}

// SendBinary writes raw terminal output as a binary frame.
func (s *wsSink) SendBinary(p []byte) {
	_ = s.write(websocket.MessageBinary, p)
}

func (s *wsSink) write(typ websocket.MessageType, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return s.conn.Write(ctx, typ, data)
}
