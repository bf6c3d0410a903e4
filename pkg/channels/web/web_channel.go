// Package web implements the user transport: a WebSocket surface carrying
// JSON frames and an equivalent request/stream surface returning text/plain.
package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/PhillHH/chat-agent/pkg/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for decoupled UI
	},
}

// WebConfig carries the listener settings for the user transport.
type WebConfig struct {
	Port         int  `json:"port"`
	AdminEnabled bool `json:"admin_enabled"`
}

// IncomingMessage is the JSON payload on both surfaces.
type IncomingMessage struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// SafeConn serializes writes to a websocket connection.
type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(messageType, data)
}

// filterFailText is the 500-class message shown when de-identification
// fails; the turn carries no reply content in that case.
const filterFailText = "Filter service failed."

// httpStream is one active request/stream response body.
type httpStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	wrote   bool
}

func (s *httpStream) wroteBody() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wrote
}

func (s *httpStream) writeFrame(frame api.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload string
	switch frame.Type {
	case api.FrameChunk:
		payload = frame.Text
	case api.FrameSystem, api.FrameError:
		payload = "\n\n" + frame.Text
	case api.FrameAgentMessage:
		payload = "\n[Agent] " + frame.Text
	default:
		return nil
	}

	if _, err := fmt.Fprint(s.w, payload); err != nil {
		return err
	}
	s.wrote = true
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// WebChannel is the production user transport. It owns the gateway's HTTP
// server; other surfaces (operator transport, admin backend) register their
// routes on the shared mux.
type WebChannel struct {
	config WebConfig
	server *http.Server
	mux    *http.ServeMux
	admin  AdminStore

	mu          sync.RWMutex
	connections map[string]*SafeConn   // session id → WS connection
	streams     map[string]*httpStream // session id → active POST stream

	turnMu sync.Mutex
	turns  map[string]*sync.Mutex // serializes POST turns per session
}

// NewWebChannel creates the user transport channel. admin may be nil when no
// archive is available; the admin endpoints then respond 403.
func NewWebChannel(cfg WebConfig, admin AdminStore) *WebChannel {
	return &WebChannel{
		config:      cfg,
		mux:         http.NewServeMux(),
		admin:       admin,
		connections: make(map[string]*SafeConn),
		streams:     make(map[string]*httpStream),
		turns:       make(map[string]*sync.Mutex),
	}
}

// Mux exposes the shared request multiplexer so sibling surfaces can mount
// their routes before or after the server starts.
func (c *WebChannel) Mux() *http.ServeMux {
	return c.mux
}

func (c *WebChannel) ID() string {
	return "web"
}

func (c *WebChannel) Start(ctx api.ChannelContext) error {
	c.mux.HandleFunc("POST /chat/message", func(w http.ResponseWriter, r *http.Request) {
		c.handleChatMessage(w, r, ctx)
	})
	c.mux.HandleFunc("GET /chat/ws/{session_id}", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})
	c.registerAdminRoutes()

	addr := fmt.Sprintf(":%d", c.config.Port)
	c.server = &http.Server{
		Addr:    addr,
		Handler: c.mux,
	}

	slog.Info("User transport listening", "port", c.config.Port)

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return nil
}

func (c *WebChannel) Stop() error {
	if c.server != nil {
		return c.server.Close()
	}
	return nil
}

// Send delivers one frame to the session, preferring a live WebSocket and
// falling back to an active request/stream body.
func (c *WebChannel) Send(session api.SessionContext, frame api.Frame) error {
	c.mu.RLock()
	conn, hasWS := c.connections[session.SessionID]
	stream, hasStream := c.streams[session.SessionID]
	c.mu.RUnlock()

	if hasWS {
		data, err := json.Marshal(frame)
		if err != nil {
			return fmt.Errorf("failed to marshal frame: %w", err)
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}
	if hasStream {
		return stream.writeFrame(frame)
	}
	return fmt.Errorf("session %s not connected", session.SessionID)
}

// Stream implements api.Channel.Stream.
func (c *WebChannel) Stream(session api.SessionContext, frames <-chan api.Frame) error {
	var lastErr error
	for frame := range frames {
		if err := c.Send(session, frame); err != nil {
			// Keep draining so the producer is never blocked on a dead
			// connection.
			lastErr = err
		}
	}
	return lastErr
}

// handleChatMessage is the request/stream surface: one user message in, the
// restored reply streamed back as text/plain.
func (c *WebChannel) handleChatMessage(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	var incoming IncomingMessage
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if incoming.SessionID == "" || incoming.Message == "" {
		http.Error(w, "session_id and message are required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	// Concurrent posts for one session would otherwise cross-wire their
	// response streams; a later turn waits for the earlier one.
	turn := c.turnLock(incoming.SessionID)
	turn.Lock()
	defer turn.Unlock()

	flusher, _ := w.(http.Flusher)
	stream := &httpStream{w: w, flusher: flusher}

	c.mu.Lock()
	c.streams[incoming.SessionID] = stream
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.streams, incoming.SessionID)
		c.mu.Unlock()
	}()

	// Synchronous dispatch: returns once the turn is fully handled, which
	// also ends the response body.
	err := ctx.OnMessage(c.ID(), &api.UnifiedMessage{
		Session: api.SessionContext{ChannelID: c.ID(), SessionID: incoming.SessionID},
		Content: incoming.Message,
	})
	if err != nil {
		// The turn was rejected before any reply content existed; as long
		// as no body byte went out, the status line is still ours to set.
		if !stream.wroteBody() {
			http.Error(w, filterFailText, http.StatusInternalServerError)
			return
		}
		slog.Error("Turn failed after streaming started", "session", incoming.SessionID, "error", err)
	}
}

func (c *WebChannel) turnLock(sessionID string) *sync.Mutex {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	m, ok := c.turns[sessionID]
	if !ok {
		m = &sync.Mutex{}
		c.turns[sessionID] = m
	}
	return m
}

// handleWebSocket is the bidirectional surface.
func (c *WebChannel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		http.Error(w, "session id missing", http.StatusBadRequest)
		return
	}

	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS upgrade failed", "session", sessionID, "error", err)
		return
	}

	conn := &SafeConn{Conn: rawConn}

	c.mu.Lock()
	c.connections[sessionID] = conn
	c.mu.Unlock()

	slog.Info("WebSocket connected", "session", sessionID)

	defer func() {
		c.mu.Lock()
		delete(c.connections, sessionID)
		c.mu.Unlock()
		conn.Close()
		slog.Info("WebSocket disconnected", "session", sessionID)
	}()

	session := api.SessionContext{ChannelID: c.ID(), SessionID: sessionID}

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var content string
		var incoming IncomingMessage
		if err := json.Unmarshal(msgBytes, &incoming); err == nil && incoming.Message != "" {
			content = incoming.Message
		} else {
			// Fallback: treat the payload as plain text
			content = string(msgBytes)
		}
		if content == "" {
			continue
		}

		// Synchronous: one turn at a time per connection.
		err = ctx.OnMessage(c.ID(), &api.UnifiedMessage{
			Session: session,
			Content: content,
		})
		if err != nil {
			// Rejected turn: render the transport's error frame; the
			// connection stays open for the next message.
			if sendErr := c.Send(session, api.Frame{Type: api.FrameError, Text: filterFailText}); sendErr != nil {
				return
			}
		}
	}
}
