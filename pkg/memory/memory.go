package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/conversation"
)

const DefaultMaxThreads = 50

var ErrThreadNotFound = errors.New("thread not found")

// ThreadInfo describes one persistent conversation.
type ThreadInfo struct {
	ID           string                    `json:"id" db:"id"`
	Title        string                    `json:"title" db:"title"`
	CreatedAt    time.Time                 `json:"created_at" db:"created_at"`
	LastActive   time.Time                 `json:"last_active" db:"last_active"`
	MessageCount int                       `json:"message_count" db:"message_count"`
	Messages     conversation.Conversation `json:"messages,omitempty" db:"-"`
}

// ThreadStore is the conversation memory contract. Touch is the only way
// last-active changes; eviction happens only inside NewThread.
type ThreadStore interface {
	NewThread(title string) (string, error)
	Get(id string) (*ThreadInfo, error)
	Append(id string, msgs ...*conversation.Message) error
	Touch(id string, messageCount int) error
	List() []*ThreadInfo
	Delete(id string) error
	Trim(id string, maxMessages int) error
}

// NewThreadID returns an opaque 12-hex-char identifier.
func NewThreadID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Store is the in-memory ThreadStore. A single mutex serializes writes, which
// also gives the per-thread write serialization concurrent turns depend on.
type Store struct {
	mu         sync.RWMutex
	threads    map[string]*ThreadInfo
	maxThreads int
}

var _ ThreadStore = (*Store)(nil)

func NewStore(maxThreads int) *Store {
	if maxThreads <= 0 {
		maxThreads = DefaultMaxThreads
	}
	return &Store{
		threads:    make(map[string]*ThreadInfo),
		maxThreads: maxThreads,
	}
}

func (s *Store) NewThread(title string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked()

	id := NewThreadID()
	now := time.Now()
	if title == "" {
		title = "New conversation"
	}
	s.threads[id] = &ThreadInfo{
		ID:         id,
		Title:      title,
		CreatedAt:  now,
		LastActive: now,
	}
	log.Debug().Str("thread_id", id).Str("title", title).Msg("created thread")
	return id, nil
}

// evictLocked removes least-recently-active threads until a new one fits.
func (s *Store) evictLocked() {
	for len(s.threads) >= s.maxThreads {
		oldestID := ""
		var oldest time.Time
		for id, t := range s.threads {
			if oldestID == "" || t.LastActive.Before(oldest) {
				oldestID = id
				oldest = t.LastActive
			}
		}
		if oldestID == "" {
			return
		}
		delete(s.threads, oldestID)
		log.Debug().Str("thread_id", oldestID).Msg("evicted least recently active thread")
	}
}

func (s *Store) Get(id string) (*ThreadInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, errors.Wrapf(ErrThreadNotFound, "%s", id)
	}
	cp := *t
	cp.Messages = append(conversation.Conversation(nil), t.Messages...)
	return &cp, nil
}

func (s *Store) Append(id string, msgs ...*conversation.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return errors.Wrapf(ErrThreadNotFound, "%s", id)
	}
	t.Messages = append(t.Messages, msgs...)
	return nil
}

func (s *Store) Touch(id string, messageCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return errors.Wrapf(ErrThreadNotFound, "%s", id)
	}
	t.LastActive = time.Now()
	t.MessageCount = messageCount
	return nil
}

func (s *Store) List() []*ThreadInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ThreadInfo, 0, len(s.threads))
	for _, t := range s.threads {
		cp := *t
		cp.Messages = nil
		out = append(out, &cp)
	}
	return out
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; !ok {
		return errors.Wrapf(ErrThreadNotFound, "%s", id)
	}
	delete(s.threads, id)
	return nil
}

// Trim drops the oldest non-system messages until the thread fits the
// budget. Leading system messages survive verbatim.
func (s *Store) Trim(id string, maxMessages int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return errors.Wrapf(ErrThreadNotFound, "%s", id)
	}
	t.Messages = TrimMessages(t.Messages, maxMessages)
	t.MessageCount = len(t.Messages)
	return nil
}

// TrimMessages keeps leading system messages and the newest non-system
// messages that fit within maxMessages total.
func TrimMessages(msgs conversation.Conversation, maxMessages int) conversation.Conversation {
	if maxMessages <= 0 || len(msgs) <= maxMessages {
		return msgs
	}

	systemPrefix := 0
	for systemPrefix < len(msgs) && msgs[systemPrefix].Role == conversation.RoleSystem {
		systemPrefix++
	}

	keep := maxMessages - systemPrefix
	if keep < 0 {
		keep = 0
	}
	rest := msgs[systemPrefix:]
	if keep < len(rest) {
		rest = rest[len(rest)-keep:]
	}

	out := make(conversation.Conversation, 0, systemPrefix+len(rest))
	out = append(out, msgs[:systemPrefix]...)
	out = append(out, rest...)
	return out
}
