package bot

import (
	"sync"

	"github.com/pbaille/togglbot/internal/domain"
)

// Session is the ephemeral per-conversation selection state. It lives in
// process memory for the life of the process and is lost on restart.
type Session struct {
	SelectedClientID  *int64
	SelectedProjectID *int64
	LastIntent        *domain.Intent
	LastTranscription string
}

// Sessions is a keyed store of conversation state. The webhook host may
// deliver events for one conversation concurrently, so all access goes
// through the mutex.
type Sessions struct {
	mu     sync.Mutex
	byChat map[int64]*Session
}

// NewSessions creates an empty store.
func NewSessions() *Sessions {
	return &Sessions{byChat: make(map[int64]*Session)}
}

// Update applies fn to the session for chatID, creating it if needed.
func (s *Sessions) Update(chatID int64, fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byChat[chatID]
	if !ok {
		sess = &Session{}
		s.byChat[chatID] = sess
	}
	fn(sess)
}

// Snapshot returns a copy of the session for chatID. The copy is safe to
// read without holding the lock.
func (s *Sessions) Snapshot(chatID int64) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.byChat[chatID]; ok {
		return *sess
	}
	return Session{}
}
