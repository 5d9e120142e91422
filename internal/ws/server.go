// Package ws is the OCPP-J transport: WebSocket upgrade, identity
// resolution from the connection path, and the per-connection read loop.
package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"csms/internal/core"
	"csms/internal/dispatcher"
	"csms/internal/ocpp"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// UnknownChargePoint is the sentinel identity for connections whose path
// yields no usable segment. The connection is served, not rejected.
const UnknownChargePoint = "unknown"

// Conn wraps a websocket connection with its resolved identity and a
// write lock; gorilla connections do not support concurrent writers.
type Conn struct {
	ws   *websocket.Conn
	cpId string
	mu   sync.Mutex
}

func (c *Conn) Write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return nil
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Conn) Close() {
	if c.ws != nil {
		_ = c.ws.Close()
	}
}

type Server struct {
	registry   *Registry
	dispatcher *dispatcher.Dispatcher
	core       *core.Service
	log        *zap.SugaredLogger
	upgrader   websocket.Upgrader
}

func NewServer(reg *Registry, d *dispatcher.Dispatcher, c *core.Service, log *zap.SugaredLogger) *Server {
	return &Server{
		registry:   reg,
		dispatcher: d,
		core:       c,
		log:        log.With("component", "ws"),
		upgrader: websocket.Upgrader{
			Subprotocols:    []string{"ocpp1.6"},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Charge points do not send an Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ChargePointID resolves an identity from the connection path: the last
// non-empty segment, or the unknown sentinel.
func ChargePointID(path string) string {
	segments := strings.Split(path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return UnknownChargePoint
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cpId := ChargePointID(r.URL.Path)
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("upgrade failed", "charge_point", cpId, "error", err)
		return
	}

	conn := &Conn{ws: sock, cpId: cpId}
	s.registry.Add(cpId, conn)
	s.log.Infow("charge point connected", "charge_point", cpId)

	if err := s.core.Connected(context.Background(), cpId, time.Now().UTC()); err != nil {
		// Partial resume is an observable outcome; the connection
		// stays up either way.
		s.log.Warnw("resume on connect failed", "charge_point", cpId, "error", err)
	}

	s.readLoop(conn)
}

// readLoop processes one message at a time, so a charge point's calls
// are handled and answered in arrival order.
func (s *Server) readLoop(conn *Conn) {
	defer func() {
		conn.Close()
		remaining := s.registry.Remove(conn.cpId, conn)
		if err := s.core.Disconnected(context.Background(), conn.cpId, time.Now().UTC(), remaining == 0); err != nil {
			s.log.Warnw("disconnect bookkeeping failed", "charge_point", conn.cpId, "error", err)
		}
		s.log.Infow("charge point disconnected", "charge_point", conn.cpId, "remaining_sockets", remaining)
	}()

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		if out := s.respond(context.Background(), conn.cpId, raw); out != nil {
			if err := conn.Write(out); err != nil {
				s.log.Warnw("write failed", "charge_point", conn.cpId, "error", err)
				return
			}
		}
	}
}

// respond handles one inbound frame and returns the outbound frame, or
// nil when the frame was malformed and no reply is owed.
func (s *Server) respond(ctx context.Context, cpId string, raw []byte) []byte {
	call, err := ocpp.ParseCall(raw)
	if err != nil {
		s.log.Warnw("dropping malformed frame", "charge_point", cpId, "error", err)
		return nil
	}

	payload, err := s.dispatcher.Dispatch(ctx, cpId, call.Action, call.Payload)
	if err != nil {
		return ocpp.Error(call.UniqueId, errorCode(err), err.Error(), nil)
	}
	return ocpp.Result(call.UniqueId, payload)
}

func errorCode(err error) string {
	var (
		notImpl    *dispatcher.NotImplementedError
		validation *ocpp.ValidationError
		conflict   *core.ConflictError
		notFound   *core.NotFoundError
	)
	switch {
	case errors.As(err, &notImpl):
		return ocpp.CodeNotImplemented
	case errors.As(err, &validation):
		return ocpp.CodeFormationViolation
	case errors.As(err, &conflict), errors.As(err, &notFound):
		return ocpp.CodeGenericError
	default:
		return ocpp.CodeInternalError
	}
}
