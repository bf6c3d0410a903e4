package bridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PhillHH/chat-agent/pkg/api"
)

// fakeOperatorChannel records everything sent into operator conversations.
type fakeOperatorChannel struct {
	id   string
	sent []sentMessage
	err  error
}

type sentMessage struct {
	ref  api.ConversationRef
	text string
}

func (f *fakeOperatorChannel) ID() string                           { return f.id }
func (f *fakeOperatorChannel) Start(ctx api.OperatorContext) error  { return nil }
func (f *fakeOperatorChannel) Stop() error                          { return nil }
func (f *fakeOperatorChannel) SendToConversation(ref api.ConversationRef, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{ref: ref, text: text})
	return nil
}

// fakeUserGateway records frames delivered to end users.
type fakeUserGateway struct {
	frames []deliveredFrame
}

type deliveredFrame struct {
	session api.SessionContext
	frame   api.Frame
}

func (f *fakeUserGateway) SendFrame(session api.SessionContext, frame api.Frame) error {
	f.frames = append(f.frames, deliveredFrame{session: session, frame: frame})
	return nil
}

func newTestBridge() (*Bridge, *fakeOperatorChannel, *fakeUserGateway) {
	users := &fakeUserGateway{}
	op := &fakeOperatorChannel{id: "botframework"}
	b := New("web")
	b.SetUserGateway(users)
	b.RegisterChannel(op)
	return b, op, users
}

func opRef(conv string) api.ConversationRef {
	return api.ConversationRef{ChannelID: "botframework", ConversationID: conv, ServiceURL: "https://svc.example"}
}

func TestConnectCommandBindsAndAcknowledges(t *testing.T) {
	b, op, users := newTestBridge()

	b.OnOperatorMessage(opRef("19:meeting"), "connect sess_42")

	ref, ok := b.Binding("sess_42")
	require.True(t, ok)
	assert.Equal(t, "19:meeting", ref.ConversationID)

	sid, ok := b.SessionFor(opRef("19:meeting"))
	require.True(t, ok)
	assert.Equal(t, "sess_42", sid)

	require.Len(t, op.sent, 1)
	assert.Contains(t, op.sent[0].text, "sess_42")

	require.Len(t, users.frames, 1)
	assert.Equal(t, api.FrameSystem, users.frames[0].frame.Type)
	assert.Equal(t, "sess_42", users.frames[0].session.SessionID)
	assert.Equal(t, "web", users.frames[0].session.ChannelID)
}

func TestConnectCommandIsCaseInsensitive(t *testing.T) {
	b, _, _ := newTestBridge()

	b.OnOperatorMessage(opRef("conv1"), "CONNECT sess_AbC123")

	_, ok := b.Binding("sess_AbC123")
	assert.True(t, ok)
}

func TestUnboundMessageGetsHelpText(t *testing.T) {
	b, op, users := newTestBridge()

	b.OnOperatorMessage(opRef("convX"), "Hallo, jemand da?")

	require.Len(t, op.sent, 1)
	assert.Contains(t, op.sent[0].text, "connect <session-id>")
	assert.Empty(t, users.frames)
}

func TestBoundMessageForwardsToUser(t *testing.T) {
	b, _, users := newTestBridge()
	b.OnOperatorMessage(opRef("convY"), "connect sess_77")
	users.frames = nil

	b.OnOperatorMessage(opRef("convY"), "Guten Tag, hier ist der Support.")

	require.Len(t, users.frames, 1)
	got := users.frames[0]
	assert.Equal(t, api.FrameAgentMessage, got.frame.Type)
	assert.Equal(t, "Guten Tag, hier ist der Support.", got.frame.Text)
	assert.Equal(t, "Agent", got.frame.Sender)
	assert.Equal(t, "sess_77", got.session.SessionID)
}

func TestRebindReplacesOldConversation(t *testing.T) {
	b, _, _ := newTestBridge()
	b.OnOperatorMessage(opRef("old"), "connect sess_1")
	b.OnOperatorMessage(opRef("new"), "connect sess_1")

	ref, ok := b.Binding("sess_1")
	require.True(t, ok)
	assert.Equal(t, "new", ref.ConversationID)

	_, ok = b.SessionFor(opRef("old"))
	assert.False(t, ok)
}

func TestForwardToOperatorTagsRoles(t *testing.T) {
	b, op, _ := newTestBridge()
	b.Bind("sess_9", opRef("convZ"))

	require.NoError(t, b.ForwardToOperator("sess_9", "user", "Hallo?"))
	require.NoError(t, b.ForwardToOperator("sess_9", "assistant", "Guten Tag!"))

	require.Len(t, op.sent, 2)
	assert.Equal(t, "[USER] Hallo?", op.sent[0].text)
	assert.Equal(t, "[BOT] Guten Tag!", op.sent[1].text)
}

func TestForwardToOperatorUnbound(t *testing.T) {
	b, _, _ := newTestBridge()
	err := b.ForwardToOperator("sess_none", "user", "x")
	assert.ErrorIs(t, err, ErrUnbound)
}

func TestMirrorSwallowsDeliveryFailure(t *testing.T) {
	b, op, _ := newTestBridge()
	b.Bind("sess_9", opRef("convZ"))
	op.err = errors.New("connector down")

	// Must not panic or surface: user-facing flow is unaffected.
	b.Mirror("sess_9", "user", "Hallo?")
	b.Mirror("sess_unbound", "user", "Hallo?")
}
