package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-dev/parley/internal/models"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNewFileStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := NewFileStore(filepath.Join(dir, "state"))
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "state", "sessions"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCreateSession_Defaults(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.CreateSession("")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "New Session", sess.Name)
	assert.Equal(t, models.PermissionAsk, sess.PermissionMode)
	assert.False(t, sess.CreatedAt.IsZero())
}

func TestCreateThenLoad_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.CreateSession("My Chat")
	require.NoError(t, err)

	loaded, err := s.LoadSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "My Chat", loaded.Name)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Empty(t, loaded.Messages)
}

func TestLoadSession_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadSession("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendMessage_NotFound_NoFileCreated(t *testing.T) {
	s := newTestStore(t)

	err := s.AppendMessage("missing", models.Message{Role: models.RoleUser, Content: "hi"})
	require.ErrorIs(t, err, ErrNotFound)

	_, statErr := os.Stat(s.sessionPath("missing"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAppendMessage_PreservesOrder(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.CreateSession("ordered")
	require.NoError(t, err)

	const n = 25
	for i := 0; i < n; i++ {
		err := s.AppendMessage(sess.ID, models.Message{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
	}

	loaded, err := s.LoadSession(sess.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, n)
	for i, m := range loaded.Messages {
		assert.Equal(t, fmt.Sprintf("message %d", i), m.Content)
		assert.NotEmpty(t, m.ID)
		assert.False(t, m.Timestamp.IsZero())
	}
}

func TestAppendMessage_BumpsUpdatedAt(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.CreateSession("bump")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.AppendMessage(sess.ID, models.Message{Role: models.RoleUser, Content: "x"}))

	loaded, err := s.LoadSession(sess.ID)
	require.NoError(t, err)
	assert.True(t, loaded.UpdatedAt.After(sess.UpdatedAt))
}

func TestAppendMessage_ToolFields(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.CreateSession("tools")
	require.NoError(t, err)

	err = s.AppendMessage(sess.ID, models.Message{
		Role:           models.RoleTool,
		Content:        "ran search",
		ToolName:       "search",
		ToolInput:      `{"query":"go"}`,
		ToolResult:     "3 hits",
		ToolStatus:     "ok",
		ToolDurationMS: 120,
		ToolCallID:     "call_1",
	})
	require.NoError(t, err)

	loaded, err := s.LoadSession(sess.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 1)
	m := loaded.Messages[0]
	assert.Equal(t, "search", m.ToolName)
	assert.Equal(t, "call_1", m.ToolCallID)
	assert.EqualValues(t, 120, m.ToolDurationMS)
}

func TestLoadSession_IgnoresEmptyAndMalformedLines(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.CreateSession("messy")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(sess.ID, models.Message{Role: models.RoleUser, Content: "hello"}))

	// Inject an empty line and a garbage line between valid records.
	path := s.sessionPath(sess.ID)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(data, []byte("\n{not json}\n")...), 0o600))

	loaded, err := s.LoadSession(sess.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 1)
}

func TestUpdateSession_RewritesMetadataOnly(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.CreateSession("before")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(sess.ID, models.Message{Role: models.RoleUser, Content: "keep me"}))

	name := "after"
	mode := models.PermissionAllowAll
	updated, err := s.UpdateSession(sess.ID, SessionUpdate{Name: &name, PermissionMode: &mode})
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Name)
	assert.Equal(t, models.PermissionAllowAll, updated.PermissionMode)

	loaded, err := s.LoadSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", loaded.Name)
	require.Len(t, loaded.Messages, 1)
	assert.Equal(t, "keep me", loaded.Messages[0].Content)
}

func TestUpdateSession_NotFound(t *testing.T) {
	s := newTestStore(t)

	name := "x"
	_, err := s.UpdateSession("missing", SessionUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSession(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.CreateSession("doomed")
	require.NoError(t, err)

	existed, err := s.DeleteSession(sess.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.DeleteSession(sess.ID)
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = s.LoadSession(sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessions_SkipsCorruptFiles(t *testing.T) {
	s := newTestStore(t)

	a, err := s.CreateSession("alpha")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	b, err := s.CreateSession("beta")
	require.NoError(t, err)

	// One corrupt file alongside the valid ones.
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "corrupt.jsonl"), []byte("garbage\n"), 0o600))

	items, err := s.ListSessions()
	require.NoError(t, err)
	require.Len(t, items, 2)

	// Sorted by UpdatedAt descending.
	assert.Equal(t, b.ID, items[0].ID)
	assert.Equal(t, a.ID, items[1].ID)
}

func TestListSessions_PreviewFromFirstUserMessage(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.CreateSession("preview")
	require.NoError(t, err)

	long := strings.Repeat("a", 150)
	require.NoError(t, s.AppendMessage(sess.ID, models.Message{Role: models.RoleAssistant, Content: "welcome"}))
	require.NoError(t, s.AppendMessage(sess.ID, models.Message{Role: models.RoleUser, Content: long}))
	require.NoError(t, s.AppendMessage(sess.ID, models.Message{Role: models.RoleUser, Content: "second"}))

	items, err := s.ListSessions()
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, 3, items[0].MessageCount)
	assert.Len(t, items[0].Preview, 100)
	assert.Equal(t, strings.Repeat("a", 100), items[0].Preview)
}

func TestListSessions_PreviewMultibyte(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.CreateSession("multibyte")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(sess.ID, models.Message{Role: models.RoleUser, Content: strings.Repeat("日", 120)}))

	items, err := s.ListSessions()
	require.NoError(t, err)
	require.Len(t, items, 1)

	// Truncation lands on a rune boundary, never mid-character.
	assert.True(t, utf8.ValidString(items[0].Preview))
	assert.Equal(t, strings.Repeat("日", 100), items[0].Preview)
}
