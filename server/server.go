// Package server exposes the query engine over a realtime WebSocket chat
// channel plus a small REST surface for session management. It is a protocol
// adapter only; all semantics live in the engine.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hupe1980/sentinelmesh/core"
	"github.com/hupe1980/sentinelmesh/engine"
	"github.com/hupe1980/sentinelmesh/logging"
)

// Options configure the Server.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	// MaxMessageSize bounds a single inbound chat frame.
	MaxMessageSize int64
	Logger         logging.Logger
}

// Server handles WebSocket chat connections and session REST calls.
type Server struct {
	engine   *engine.Engine
	upgrader websocket.Upgrader
	opts     Options
}

// New creates a Server around the given engine.
func New(eng *engine.Engine, optFns ...func(o *Options)) *Server {
	opts := Options{
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 1 << 16,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Server{
		engine: eng,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		opts: opts,
	}
}

// Routes mounts all endpoints on e.
func (s *Server) Routes(e *echo.Echo) {
	e.Use(middleware.Recover())
	e.GET("/ws/chat", s.handleChat)
	e.GET("/api/sessions/:id/history", s.handleHistory)
	e.DELETE("/api/sessions/:id", s.handleClear)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

// handleChat upgrades to WebSocket and runs the connection lifecycle. Each
// inbound frame is one query; queries on the same connection run
// concurrently and answers are written in completion order. Disconnect
// cancels all in-flight queries.
func (s *Server) handleChat(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.opts.Logger.Warn("websocket upgrade failed", "error", err)
		return err
	}

	conn := &connection{
		ws:   ws,
		send: make(chan []byte, 16),
	}
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	go s.writePump(conn)
	s.readPump(ctx, cancel, conn)
	return nil
}

// connection owns one WebSocket. All writes go through the send channel so
// a single goroutine touches the socket's write side.
type connection struct {
	ws        *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	// inflight tracks query goroutines so close waits for them before the
	// send channel goes away.
	inflight sync.WaitGroup
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.inflight.Wait()
		close(c.send)
	})
}

// readPump reads chat requests until the client disconnects.
func (s *Server) readPump(ctx context.Context, cancel context.CancelFunc, conn *connection) {
	defer func() {
		cancel()
		go conn.close()
	}()

	conn.ws.SetReadLimit(s.opts.MaxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.opts.Logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		conn.ws.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		s.handleMessage(ctx, conn, message)
	}
}

// writePump serializes socket writes and keeps the connection alive with
// pings.
func (s *Server) writePump(conn *connection) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case message, ok := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if !ok {
				conn.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				s.opts.Logger.Warn("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses one chat frame and dispatches it to the engine.
func (s *Server) handleMessage(ctx context.Context, conn *connection, data []byte) {
	var req ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.reply(conn, ErrorResponse{Error: "invalid JSON message"})
		return
	}

	conn.inflight.Add(1)
	go func() {
		defer conn.inflight.Done()

		result, err := s.engine.Handle(ctx, engine.Request{
			Query:     req.Query,
			SessionID: req.SessionID,
			Model:     req.Model,
			Agent:     req.Agent,
		})
		if err != nil {
			s.reply(conn, ErrorResponse{Error: err.Error()})
			return
		}
		s.reply(conn, toChatResponse(result))
	}()
}

// reply marshals and queues a frame. A dead write side drains nothing, so
// the send is bounded rather than blocking the query goroutine forever.
func (s *Server) reply(conn *connection, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.opts.Logger.Error("response marshal failed", "error", err)
		return
	}
	select {
	case conn.send <- data:
	case <-time.After(s.opts.WriteTimeout):
		s.opts.Logger.Warn("response dropped, connection not draining")
	}
}

// handleHistory returns the stored turn log for a session.
func (s *Server) handleHistory(c echo.Context) error {
	id := c.Param("id")
	turns, err := s.engine.History(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "history unavailable"})
	}
	if turns == nil {
		turns = []core.Turn{}
	}
	return c.JSON(http.StatusOK, HistoryResponse{SessionID: id, Turns: turns})
}

// handleClear removes a session and its history.
func (s *Server) handleClear(c echo.Context) error {
	if err := s.engine.Clear(c.Request().Context(), c.Param("id")); err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "clear failed"})
	}
	return c.NoContent(http.StatusNoContent)
}
