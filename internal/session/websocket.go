package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// WebsocketSource exchanges text frames with one websocket client. Each
// text frame is one utterance; each reply is one text frame.
type WebsocketSource struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	once  sync.Once
	lines chan line
	done  chan struct{}
}

// NewWebsocketSource wraps an established connection.
func NewWebsocketSource(conn *websocket.Conn, logger *slog.Logger) *WebsocketSource {
	if logger == nil {
		logger = slog.Default()
	}
	conn.SetReadLimit(maxMessageSize)
	return &WebsocketSource{
		conn:   conn,
		logger: logger,
		lines:  make(chan line, 1),
		done:   make(chan struct{}),
	}
}

// Name implements Source.
func (s *WebsocketSource) Name() string { return "websocket" }

func (s *WebsocketSource) readLoop() {
	defer close(s.lines)
	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed normally")
				err = io.EOF
			}
			s.send(line{err: err})
			return
		}
		if typ != websocket.TextMessage {
			s.logger.Debug("ignoring non-text websocket frame", "type", typ)
			continue
		}
		if !s.send(line{text: string(data)}) {
			return
		}
	}
}

// send hands l to Next, giving up once the source is closed.
func (s *WebsocketSource) send(l line) bool {
	select {
	case s.lines <- l:
		return true
	case <-s.done:
		return false
	}
}

// Next implements Source.
func (s *WebsocketSource) Next(ctx context.Context) (string, error) {
	s.once.Do(func() { go s.readLoop() })

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l, ok := <-s.lines:
		if !ok {
			return "", io.EOF
		}
		return l.text, l.err
	}
}

// Reply implements Source.
func (s *WebsocketSource) Reply(_ context.Context, text string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Close sends a close frame with the given reason and closes the
// connection.
func (s *WebsocketSource) Close(reason string) error {
	close(s.done)

	s.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	s.writeMu.Unlock()

	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Handler upgrades HTTP requests to websockets and runs one session per
// connection on the controller.
type Handler struct {
	controller *Controller
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	// base is the parent of every session context; it is canceled on
	// server shutdown so sessions end with the process.
	base context.Context
}

// NewHandler returns a websocket handler. base bounds every session.
func NewHandler(base context.Context, controller *Controller, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		controller: controller,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger,
		base:   base,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	log := h.logger.With("remote", r.RemoteAddr)
	src := NewWebsocketSource(conn, log)

	reason, err := h.controller.Run(h.base, src)
	switch {
	case errors.Is(err, context.Canceled):
		reason = "shutdown"
	case err != nil:
		log.Error("session failed", "error", err)
		reason = "error"
	}

	if cerr := src.Close(fmt.Sprintf("session ended: %s", reason)); cerr != nil {
		log.Debug("websocket close", "error", cerr)
	}
}
