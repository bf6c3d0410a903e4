package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PhillHH/chat-agent/pkg/api"
	"github.com/PhillHH/chat-agent/pkg/audit"
	"github.com/PhillHH/chat-agent/pkg/scanner"
	"github.com/PhillHH/chat-agent/pkg/vault"
)

// echoContext plays the router: it answers every message with two chunk
// frames and a done frame through the channel, or rejects the turn when
// rejectWith is set (a failed de-identification).
type echoContext struct {
	channel    *WebChannel
	messages   []*api.UnifiedMessage
	rejectWith error
}

func (e *echoContext) OnMessage(channelID string, msg *api.UnifiedMessage) error {
	e.messages = append(e.messages, msg)
	if e.rejectWith != nil {
		return e.rejectWith
	}
	e.channel.Send(msg.Session, api.Frame{Type: api.FrameChunk, Text: "Hallo "})
	e.channel.Send(msg.Session, api.Frame{Type: api.FrameChunk, Text: "Peter!"})
	e.channel.Send(msg.Session, api.Frame{Type: api.FrameSystem, Text: "Ein Mitarbeiter übernimmt."})
	e.channel.Send(msg.Session, api.Frame{Type: api.FrameDone})
	return nil
}

func (e *echoContext) SendFrame(session api.SessionContext, frame api.Frame) error {
	return e.channel.Send(session, frame)
}

func (e *echoContext) StreamFrames(session api.SessionContext, frames <-chan api.Frame) error {
	return e.channel.Stream(session, frames)
}

func newTestChannel(t *testing.T, admin AdminStore, adminEnabled bool) (*WebChannel, *echoContext) {
	t.Helper()
	ch := NewWebChannel(WebConfig{Port: 0, AdminEnabled: adminEnabled}, admin)
	ctx := &echoContext{channel: ch}
	require.NoError(t, ch.Start(ctx))
	t.Cleanup(func() { ch.Stop() })
	return ch, ctx
}

func TestChatMessageStreamsPlainText(t *testing.T) {
	ch, ctx := newTestChannel(t, nil, false)

	req := httptest.NewRequest(http.MethodPost, "/chat/message",
		strings.NewReader(`{"session_id":"sess_1","message":"Hallo"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ch.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "Hallo Peter!\n\nEin Mitarbeiter übernimmt.", rec.Body.String())

	require.Len(t, ctx.messages, 1)
	assert.Equal(t, "sess_1", ctx.messages[0].Session.SessionID)
	assert.Equal(t, "web", ctx.messages[0].Session.ChannelID)
	assert.Equal(t, "Hallo", ctx.messages[0].Content)
}

func TestChatMessageFilterFailureIs500(t *testing.T) {
	ch, ctx := newTestChannel(t, nil, false)
	ctx.rejectWith = scanner.ErrFilterFailed

	req := httptest.NewRequest(http.MethodPost, "/chat/message",
		strings.NewReader(`{"session_id":"sess_1","message":"Mail x@example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ch.Mux().ServeHTTP(rec, req)

	// A rejected turn produced no reply content, so the status line still
	// carries the failure: a 500, not a 200 with error text in the body.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Filter service failed.")
	assert.NotContains(t, rec.Body.String(), "Hallo")
}

func TestChatMessageStoreFailureIs500(t *testing.T) {
	ch, ctx := newTestChannel(t, nil, false)
	ctx.rejectWith = vault.ErrStoreUnavailable

	req := httptest.NewRequest(http.MethodPost, "/chat/message",
		strings.NewReader(`{"session_id":"sess_1","message":"Hallo"}`))
	rec := httptest.NewRecorder()
	ch.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Filter service failed.")
}

func TestChatMessageRejectsMissingFields(t *testing.T) {
	ch, ctx := newTestChannel(t, nil, false)

	req := httptest.NewRequest(http.MethodPost, "/chat/message", strings.NewReader(`{"message":"x"}`))
	rec := httptest.NewRecorder()
	ch.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ctx.messages)
}

func TestChatMessageRejectsInvalidJSON(t *testing.T) {
	ch, _ := newTestChannel(t, nil, false)

	req := httptest.NewRequest(http.MethodPost, "/chat/message", strings.NewReader(`{`))
	rec := httptest.NewRecorder()
	ch.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendWithoutConnectionFails(t *testing.T) {
	ch, _ := newTestChannel(t, nil, false)

	err := ch.Send(api.SessionContext{ChannelID: "web", SessionID: "sess_gone"}, api.Frame{Type: api.FrameChunk, Text: "x"})
	require.Error(t, err)
}

func TestStreamConsumedFully(t *testing.T) {
	ch, _ := newTestChannel(t, nil, false)

	frames := make(chan api.Frame, 3)
	frames <- api.Frame{Type: api.FrameChunk, Text: "a"}
	frames <- api.Frame{Type: api.FrameChunk, Text: "b"}
	close(frames)

	// No connection: every Send fails, but the stream is still drained so
	// the producer never blocks.
	err := ch.Stream(api.SessionContext{ChannelID: "web", SessionID: "sess_gone"}, frames)
	require.Error(t, err)
	assert.Empty(t, frames)
}

func TestAdminEndpointsWithArchive(t *testing.T) {
	store, err := audit.Open(":memory:", 16)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	store.RecordUser("sess_adm", "Hallo")
	store.RecordAssistant("sess_adm", "Guten Tag!")
	store.Flush()

	ch, _ := newTestChannel(t, store, true)

	req := httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)
	rec := httptest.NewRecorder()
	ch.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sess_adm")

	req = httptest.NewRequest(http.MethodGet, "/admin/sessions/sess_adm", nil)
	rec = httptest.NewRecorder()
	ch.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Guten Tag!")

	req = httptest.NewRequest(http.MethodGet, "/admin/sessions/sess_missing", nil)
	rec = httptest.NewRecorder()
	ch.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin/sessions/sess_adm/note",
		strings.NewReader(`{"notes":"brauchbar"}`))
	rec = httptest.NewRecorder()
	ch.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/export", nil)
	rec = httptest.NewRecorder()
	ch.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Body.String(), "sess_adm")
}

func TestAdminDisabledReturns403(t *testing.T) {
	ch, _ := newTestChannel(t, nil, false)

	req := httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)
	rec := httptest.NewRecorder()
	ch.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
