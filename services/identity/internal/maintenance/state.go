package maintenance

import (
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	DefaultMessage   = "Service temporarily unavailable for maintenance"
	MaxMessageLength = 200
)

var ErrMessageTooLong = errors.New("maintenance message exceeds 200 characters")

type Snapshot struct {
	Enabled   bool
	Message   string
	ChangedAt time.Time
	ChangedBy string
}

// State is the process-wide maintenance switch. It is created once in main and
// handed to the gate and the admin routes; every read sees the latest write.
type State struct {
	mu       sync.RWMutex
	snap     Snapshot
	fallback string
	now      func() time.Time
}

func NewState(enabled bool, message string) *State {
	if strings.TrimSpace(message) == "" {
		message = DefaultMessage
	}
	return &State{
		snap:     Snapshot{Enabled: enabled, Message: message},
		fallback: message,
		now:      time.Now,
	}
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *State) Enabled() bool {
	return s.Snapshot().Enabled
}

// Enable switches maintenance on. An empty message keeps the configured default.
func (s *State) Enable(message, actor string) (Snapshot, error) {
	return s.Set(true, message, actor)
}

func (s *State) Disable(actor string) Snapshot {
	snap, _ := s.Set(false, "", actor)
	return snap
}

func (s *State) Set(enabled bool, message, actor string) (Snapshot, error) {
	message = strings.TrimSpace(message)
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return s.Snapshot(), ErrMessageTooLong
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if message == "" {
		message = s.fallback
	}
	s.snap = Snapshot{Enabled: enabled, Message: message, ChangedAt: s.now().UTC(), ChangedBy: actor}
	return s.snap, nil
}
