// Package handler orchestrates the per-message pipeline: audit, status
// check, de-identification, model streaming with restoration, escalation
// detection, and the AI→HUMAN handoff.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PhillHH/chat-agent/pkg/api"
	"github.com/PhillHH/chat-agent/pkg/assistant"
	"github.com/PhillHH/chat-agent/pkg/config"
	"github.com/PhillHH/chat-agent/pkg/escalation"
	"github.com/PhillHH/chat-agent/pkg/vault"
)

// User-facing texts.
const (
	holdingText     = "Ein menschlicher Mitarbeiter hat die Konversation übernommen. Bitte warten Sie auf eine Antwort."
	handoffText     = "Ein Mitarbeiter übernimmt."
	streamFailText  = "⚠️ Die Verbindung zum KI-Dienst wurde unterbrochen. Die Antwort ist möglicherweise unvollständig."
	connectTemplate = "\n[SYSTEM] Um diesen Chat zu übernehmen, antworten Sie dem Bot mit: connect %s"
)

// Scanner is the de-identification surface.
type Scanner interface {
	Clean(ctx context.Context, text string) (string, error)
}

// Restorer is the streaming re-identification surface.
type Restorer interface {
	Restore(ctx context.Context, in <-chan string) <-chan string
}

// Assistant streams model turns and exposes conversation history.
type Assistant interface {
	Stream(ctx context.Context, sessionID, prompt string) (<-chan assistant.Chunk, error)
	History(ctx context.Context, sessionID string) []string
}

// StatusStore reads and flips the per-session answering mode.
type StatusStore interface {
	GetStatus(ctx context.Context, sessionID string) vault.Mode
	SetStatus(ctx context.Context, sessionID string, mode vault.Mode) error
}

// Auditor persists conversation turns. Implementations must not block.
type Auditor interface {
	RecordUser(sessionID, content string)
	RecordAssistant(sessionID, content string)
}

// OperatorBridge mirrors turns to a bound operator conversation.
type OperatorBridge interface {
	Mirror(sessionID, role, text string)
	Binding(sessionID string) (api.ConversationRef, bool)
}

// Notifier posts pre-binding escalation notices.
type Notifier interface {
	NotifyEscalation(ctx context.Context, sessionID string, chatHistory []string) error
}

// Router is the per-message orchestrator. One instance serves all sessions;
// a per-session mutex serializes turns so fragments of turn N fully precede
// turn N+1 on the user transport.
type Router struct {
	scanner   Scanner
	restorer  Restorer
	assistant Assistant
	status    StatusStore
	audit     Auditor
	bridge    OperatorBridge
	notifier  Notifier
	responder api.MessageResponder
	sysCfg    *config.SystemConfig

	mu    sync.Mutex
	turns map[string]*sync.Mutex
}

// NewRouter wires the pipeline collaborators into a Router.
func NewRouter(
	sc Scanner,
	re Restorer,
	as Assistant,
	st StatusStore,
	au Auditor,
	br OperatorBridge,
	no Notifier,
	responder api.MessageResponder,
	sysCfg *config.SystemConfig,
) *Router {
	return &Router{
		scanner:   sc,
		restorer:  re,
		assistant: as,
		status:    st,
		audit:     au,
		bridge:    br,
		notifier:  no,
		responder: responder,
		sysCfg:    sysCfg,
		turns:     make(map[string]*sync.Mutex),
	}
}

// OnMessage is the entry point registered with the gateway. It handles one
// user turn end to end. A de-identification failure rejects the turn with a
// non-nil error before any reply content exists, so transports can answer
// with a 500-class status; everything past that point is reported in-band.
func (r *Router) OnMessage(msg *api.UnifiedMessage) error {
	session := msg.Session
	turn := r.turnLock(session.SessionID)
	turn.Lock()
	defer turn.Unlock()

	start := time.Now()
	slog.Info("Turn started", "session", session.SessionID, "channel", session.ChannelID)

	// The user row is enqueued before anything else so it precedes the
	// assistant row for the same turn in the archive.
	r.audit.RecordUser(session.SessionID, msg.Content)
	r.bridge.Mirror(session.SessionID, "user", msg.Content)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.sysCfg.LLMTimeoutMs)*time.Millisecond)
	defer cancel()

	// The status read here governs the whole cycle.
	if r.status.GetStatus(ctx, session.SessionID) == vault.ModeHuman {
		r.handleHumanMode(ctx, session)
		return nil
	}

	anonymized, err := r.scanner.Clean(ctx, msg.Content)
	if err != nil {
		// Data-protection failures are never absorbed: the turn aborts.
		slog.Error("De-identification failed", "session", session.SessionID, "error", err)
		return err
	}

	chunks, err := r.assistant.Stream(ctx, session.SessionID, anonymized)
	if err != nil {
		slog.Error("Assistant stream failed to start", "session", session.SessionID, "error", err)
		r.send(session, api.Frame{Type: api.FrameError, Text: streamFailText})
		return nil
	}

	finalText, detector, streamErr := r.pump(ctx, session, chunks)

	r.send(session, api.Frame{Type: api.FrameDone})

	r.audit.RecordAssistant(session.SessionID, finalText)
	r.bridge.Mirror(session.SessionID, "assistant", finalText)

	switch {
	case streamErr != nil:
		// Abnormal stream end: the restored prefix has been delivered and
		// persisted; notify and do NOT escalate.
		slog.Error("Assistant stream ended abnormally", "session", session.SessionID, "error", streamErr)
		r.send(session, api.Frame{Type: api.FrameSystem, Text: streamFailText})
	case detector.Triggered():
		r.escalate(ctx, session, anonymized)
	}

	slog.Info("Turn finished", "session", session.SessionID, "duration", time.Since(start).String())
	return nil
}

// pump tees the raw model stream into the escalation detector and the
// restorer, forwards restored fragments (sentinel stripped) to the user,
// and returns the assembled final text.
func (r *Router) pump(ctx context.Context, session api.SessionContext, chunks <-chan assistant.Chunk) (string, *escalation.Detector, error) {
	buffer := r.sysCfg.InternalChannelBuffer
	if buffer < 1 {
		buffer = 1
	}

	detector := &escalation.Detector{}
	restIn := make(chan string, buffer)
	var streamErr error

	go func() {
		defer close(restIn)
		for c := range chunks {
			if c.Err != nil {
				streamErr = c.Err
				continue
			}
			if c.Text == "" {
				continue
			}
			detector.Feed(c.Text)
			select {
			case restIn <- c.Text:
			case <-ctx.Done():
				// Keep draining so the producer can finish; the raw
				// accumulator path stays alive for escalation detection.
				for rest := range chunks {
					detector.Feed(rest.Text)
				}
				return
			}
		}
	}()

	stripper := &escalation.Stripper{}
	var finalText strings.Builder

	emit := func(text string) {
		if text == "" {
			return
		}
		finalText.WriteString(text)
		r.send(session, api.Frame{Type: api.FrameChunk, Text: text})
	}

	for frag := range r.restorer.Restore(ctx, restIn) {
		emit(stripper.Feed(frag))
	}
	emit(stripper.Flush())

	// restIn is closed here, so the streamErr write happened-before.
	return finalText.String(), detector, streamErr
}

// handleHumanMode answers with the holding message. The user message itself
// was already mirrored to the bound operator; with no binding in place the
// escalation notification is retried so the session is not stranded.
func (r *Router) handleHumanMode(ctx context.Context, session api.SessionContext) {
	r.send(session, api.Frame{
		Type:   api.FrameSystem,
		Text:   holdingText,
		Status: api.StatusHumanMode,
	})

	if _, bound := r.bridge.Binding(session.SessionID); !bound {
		history := r.historyWithFallback(ctx, session.SessionID, "")
		history = append(history, fmt.Sprintf(connectTemplate, session.SessionID))
		if err := r.notifier.NotifyEscalation(ctx, session.SessionID, history); err != nil {
			slog.Error("Escalation re-notification failed", "session", session.SessionID, "error", err)
		}
	}
}

// escalate runs the handoff side effects after the stream terminated: the
// user has seen all content before the handoff notice appears.
func (r *Router) escalate(ctx context.Context, session api.SessionContext, anonymizedPrompt string) {
	slog.Info("Escalation triggered", "session", session.SessionID)

	if _, bound := r.bridge.Binding(session.SessionID); !bound {
		history := r.historyWithFallback(ctx, session.SessionID, anonymizedPrompt)
		history = append(history, fmt.Sprintf(connectTemplate, session.SessionID))
		if err := r.notifier.NotifyEscalation(ctx, session.SessionID, history); err != nil {
			slog.Error("Escalation notification failed", "session", session.SessionID, "error", err)
		}
	}

	if err := r.status.SetStatus(ctx, session.SessionID, vault.ModeHuman); err != nil {
		slog.Error("Status flip failed", "session", session.SessionID, "error", err)
	}

	r.send(session, api.Frame{
		Type:   api.FrameSystem,
		Text:   handoffText,
		Status: api.StatusEscalation,
	})
}

func (r *Router) historyWithFallback(ctx context.Context, sessionID, anonymizedPrompt string) []string {
	history := r.assistant.History(ctx, sessionID)
	if len(history) == 0 && anonymizedPrompt != "" {
		history = []string{fmt.Sprintf("Kundenfrage (anonymisiert): %s", anonymizedPrompt)}
	}
	return history
}

func (r *Router) send(session api.SessionContext, frame api.Frame) {
	if err := r.responder.SendFrame(session, frame); err != nil {
		slog.Debug("Frame delivery failed", "session", session.SessionID, "type", frame.Type, "error", err)
	}
}

func (r *Router) turnLock(sessionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.turns[sessionID]
	if !ok {
		m = &sync.Mutex{}
		r.turns[sessionID] = m
	}
	return m
}
