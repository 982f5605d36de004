package models

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string. ULIDs are time-prefixed with random
// entropy, so identifiers sort by creation time and are unique within
// the store.
func NewID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}
