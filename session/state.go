package session

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// State is a host manager's lifecycle position
type State int

const (
	StateIdle State = iota
	StateStarting
	StateListening
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseSessionID validates a session identifier supplied by a caller
func ParseSessionID(s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, invalidArgument("session id is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, invalidArgument("session id %q: %v", s, err)
	}
	return id, nil
}
