package audit

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", 64)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordOrderingUserBeforeAssistant(t *testing.T) {
	s := openTestStore(t)

	s.RecordUser("sess_1", "Hallo")
	s.RecordAssistant("sess_1", "Guten Tag!")
	s.RecordUser("sess_1", "Wie spät ist es?")
	s.RecordAssistant("sess_1", "Es ist elf Uhr.")
	s.Flush()

	detail, err := s.GetSession("sess_1")
	require.NoError(t, err)
	require.Len(t, detail.Messages, 4)

	assert.Equal(t, "user", detail.Messages[0].Role)
	assert.Equal(t, "assistant", detail.Messages[1].Role)
	assert.Equal(t, "user", detail.Messages[2].Role)
	assert.Equal(t, "assistant", detail.Messages[3].Role)
	assert.Equal(t, "Hallo", detail.Messages[0].Content)
	assert.Equal(t, "Es ist elf Uhr.", detail.Messages[3].Content)
}

func TestSessionRowCreatedOnce(t *testing.T) {
	s := openTestStore(t)

	s.RecordUser("sess_2", "eins")
	s.RecordUser("sess_2", "zwei")
	s.Flush()

	sessions, err := s.ListSessions(0, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess_2", sessions[0].ID)
}

func TestGetSessionNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSession("sess_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateNote(t *testing.T) {
	s := openTestStore(t)
	s.RecordUser("sess_3", "Hallo")
	s.Flush()

	require.NoError(t, s.UpdateNote("sess_3", "gutes Beispiel für Training"))

	detail, err := s.GetSession("sess_3")
	require.NoError(t, err)
	assert.Equal(t, "gutes Beispiel für Training", detail.Notes)

	assert.ErrorIs(t, s.UpdateNote("sess_missing", "x"), ErrNotFound)
}

func TestExportCSV(t *testing.T) {
	s := openTestStore(t)
	s.RecordUser("sess_4", "Hallo, mein Name ist <PERSON_abc12345>")
	s.RecordAssistant("sess_4", "Guten Tag!")
	s.Flush()
	require.NoError(t, s.UpdateNote("sess_4", "note"))

	var buf bytes.Buffer
	require.NoError(t, s.ExportCSV(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "session_id")
	assert.Contains(t, lines[1], "sess_4")
	assert.Contains(t, lines[1], "user")
	assert.Contains(t, lines[2], "assistant")
}

func TestListSessionsPagination(t *testing.T) {
	s := openTestStore(t)
	s.RecordUser("sess_a", "x")
	s.RecordUser("sess_b", "y")
	s.RecordUser("sess_c", "z")
	s.Flush()

	page, err := s.ListSessions(0, 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := s.ListSessions(2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}
