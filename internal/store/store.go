package store

import (
	"errors"

	"github.com/parley-dev/parley/internal/models"
)

// ErrNotFound is returned when a session does not exist in the store.
var ErrNotFound = errors.New("session not found")

// SessionUpdate holds the metadata fields that can be changed after
// creation. Nil fields are left untouched.
type SessionUpdate struct {
	Name           *string
	WorkingDir     *string
	PermissionMode *models.PermissionMode
	EnabledSources *[]string
	Usage          *models.TokenUsage
}

// Store defines the session persistence interface.
type Store interface {
	CreateSession(name string) (*models.Session, error)
	ListSessions() ([]models.SessionListItem, error)
	LoadSession(id string) (*models.SessionWithMessages, error)
	AppendMessage(id string, msg models.Message) error
	UpdateSession(id string, updates SessionUpdate) (*models.Session, error)
	DeleteSession(id string) (bool, error)
}
