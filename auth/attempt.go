package auth

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// AttemptVersion tags frozen attempts. Attempts frozen under another version
// are rejected on resume.
const AttemptVersion = 1

// Attempt is the resumable record of one authentication attempt.
type Attempt struct {
	Version   int               `json:"version"`
	ID        string            `json:"id"`
	State     map[string]string `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
}

func newAttempt(now time.Time) Attempt {
	return Attempt{
		Version:   AttemptVersion,
		ID:        uuid.NewString(),
		State:     make(map[string]string),
		CreatedAt: now.UTC(),
	}
}

func (a Attempt) clone() Attempt {
	a.State = maps.Clone(a.State)
	if a.State == nil {
		a.State = make(map[string]string)
	}
	return a
}
