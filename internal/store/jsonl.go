package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parley-dev/parley/internal/models"
)

// previewLimit caps the first-user-message preview in session listings.
const previewLimit = 100

// FileStore persists each session as a JSONL log under <dir>/sessions.
// Line 1 is the session metadata record; every following line is one
// message record, in append order.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// sessionRecord is the on-disk form of the metadata line.
type sessionRecord struct {
	Type string `json:"type"`
	models.Session
}

// messageRecord is the on-disk form of a message line.
type messageRecord struct {
	Type string `json:"type"`
	models.Message
}

// NewFileStore creates a FileStore rooted at dir, creating the sessions
// directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	sessDir := filepath.Join(dir, "sessions")
	if err := os.MkdirAll(sessDir, 0o700); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}
	return &FileStore{dir: sessDir}, nil
}

func (s *FileStore) sessionPath(id string) string {
	return filepath.Join(s.dir, id+".jsonl")
}

// CreateSession generates a new session and writes its metadata line.
func (s *FileStore) CreateSession(name string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		name = "New Session"
	}
	now := time.Now().UTC()
	sess := &models.Session{
		ID:             models.NewID(),
		Name:           name,
		CreatedAt:      now,
		UpdatedAt:      now,
		PermissionMode: models.PermissionAsk,
	}

	line, err := json.Marshal(sessionRecord{Type: "session", Session: *sess})
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	if err := os.WriteFile(s.sessionPath(sess.ID), append(line, '\n'), 0o600); err != nil {
		return nil, fmt.Errorf("write session file: %w", err)
	}
	return sess, nil
}

// ListSessions scans every session log, parsing only as much as needed
// for the listing. Files that fail to parse are skipped rather than
// aborting the whole listing.
func (s *FileStore) ListSessions() ([]models.SessionListItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read sessions directory: %w", err)
	}

	items := []models.SessionListItem{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		item, err := s.readListItem(filepath.Join(s.dir, e.Name()))
		if err != nil {
			slog.Warn("skipping unreadable session file", "file", e.Name(), "error", err)
			continue
		}
		items = append(items, *item)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return items, nil
}

func (s *FileStore) readListItem(path string) (*models.SessionListItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	lines := splitLines(data)
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty session file")
	}

	var header sessionRecord
	if err := json.Unmarshal(lines[0], &header); err != nil {
		return nil, fmt.Errorf("parse metadata line: %w", err)
	}
	if header.Type != "session" {
		return nil, fmt.Errorf("first record is %q, not session", header.Type)
	}

	item := &models.SessionListItem{Session: header.Session}
	for _, line := range lines[1:] {
		var rec messageRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.Type != "message" {
			continue
		}
		item.MessageCount++
		if item.Preview == "" && rec.Role == models.RoleUser {
			item.Preview = truncate(rec.Content, previewLimit)
		}
	}
	return item, nil
}

// LoadSession reads the whole log, classifying records by their type
// discriminator. Empty and malformed lines are ignored.
func (s *FileStore) LoadSession(id string) (*models.SessionWithMessages, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id)
}

func (s *FileStore) loadLocked(id string) (*models.SessionWithMessages, error) {
	data, err := os.ReadFile(s.sessionPath(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	lines := splitLines(data)
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty session file: %s", id)
	}

	var header sessionRecord
	if err := json.Unmarshal(lines[0], &header); err != nil {
		return nil, fmt.Errorf("parse metadata line: %w", err)
	}

	result := &models.SessionWithMessages{
		Session:  header.Session,
		Messages: []models.Message{},
	}
	for _, line := range lines[1:] {
		var rec messageRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("skipping malformed message line", "session", id, "error", err)
			continue
		}
		if rec.Type != "message" {
			continue
		}
		result.Messages = append(result.Messages, rec.Message)
	}
	return result, nil
}

// AppendMessage appends one message line and bumps the metadata record's
// UpdatedAt. Fails with ErrNotFound if the log does not exist; no file
// is created in that case.
func (s *FileStore) AppendMessage(id string, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.sessionPath(id)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read session file: %w", err)
	}

	header, rest, err := splitHeader(data)
	if err != nil {
		return err
	}
	header.UpdatedAt = time.Now().UTC()

	if msg.ID == "" {
		msg.ID = models.NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	msgLine, err := json.Marshal(messageRecord{Type: "message", Message: msg})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	headerLine, err := json.Marshal(sessionRecord{Type: "session", Session: *header})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(headerLine)
	buf.WriteByte('\n')
	buf.Write(rest)
	buf.Write(msgLine)
	buf.WriteByte('\n')

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// UpdateSession merges the given fields into the metadata record and
// rewrites the first line only; message lines are untouched.
func (s *FileStore) UpdateSession(id string, updates SessionUpdate) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.sessionPath(id)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	header, rest, err := splitHeader(data)
	if err != nil {
		return nil, err
	}

	if updates.Name != nil {
		header.Name = *updates.Name
	}
	if updates.WorkingDir != nil {
		header.WorkingDir = *updates.WorkingDir
	}
	if updates.PermissionMode != nil {
		header.PermissionMode = *updates.PermissionMode
	}
	if updates.EnabledSources != nil {
		header.EnabledSources = *updates.EnabledSources
	}
	if updates.Usage != nil {
		header.Usage = updates.Usage
	}
	header.UpdatedAt = time.Now().UTC()

	headerLine, err := json.Marshal(sessionRecord{Type: "session", Session: *header})
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(headerLine)
	buf.WriteByte('\n')
	buf.Write(rest)

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return nil, fmt.Errorf("write session file: %w", err)
	}
	return header, nil
}

// DeleteSession removes the session log and reports whether it existed.
func (s *FileStore) DeleteSession(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.sessionPath(id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete session file: %w", err)
	}
	return true, nil
}

// splitHeader parses the metadata line and returns it along with the raw
// remainder of the file (message lines, unmodified).
func splitHeader(data []byte) (*models.Session, []byte, error) {
	idx := bytes.IndexByte(data, '\n')
	headerBytes := data
	var rest []byte
	if idx >= 0 {
		headerBytes = data[:idx]
		rest = data[idx+1:]
	}

	var header sessionRecord
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, fmt.Errorf("parse metadata line: %w", err)
	}
	if header.Type != "session" {
		return nil, nil, fmt.Errorf("first record is %q, not session", header.Type)
	}
	return &header.Session, rest, nil
}

// splitLines returns the non-empty lines of a JSONL file.
func splitLines(data []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// truncate cuts s to at most n characters, never splitting a rune.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
