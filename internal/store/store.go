// Package store holds the conversations of a chat client in memory, with an
// optional durable mirror.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"relaychat/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// Persister mirrors the store to durable storage.
type Persister interface {
	// Load returns the saved conversations, in any order, and the highest id
	// ever issued (including deleted conversations).
	Load(ctx context.Context) ([]models.Conversation, int64, error)
	SaveConversation(ctx context.Context, conv models.Conversation) error
	DeleteConversation(ctx context.Context, id int64) error
	Close() error
}

// ConversationStore maps conversation ids to transcripts and keeps the
// conversation metadata in display order, most recently created first.
type ConversationStore struct {
	mu          sync.RWMutex
	lastID      int64
	order       []models.Conversation // metadata only, Messages unused
	transcripts map[int64][]models.Message

	persister Persister
	logger    zerolog.Logger
	now       func() time.Time
}

type Option func(*ConversationStore)

func WithPersister(p Persister) Option {
	return func(s *ConversationStore) { s.persister = p }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *ConversationStore) {
		s.logger = logger.With().Str("component", "store").Logger()
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *ConversationStore) { s.now = now }
}

// New builds a store. Without saved conversations it starts with one default
// conversation.
func New(ctx context.Context, opts ...Option) (*ConversationStore, error) {
	s := &ConversationStore{
		transcripts: make(map[int64][]models.Message),
		logger:      zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.persister != nil {
		convs, lastID, err := s.persister.Load(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "loading conversations")
		}
		s.lastID = lastID
		for _, c := range convs {
			s.insert(c)
			if c.ID > s.lastID {
				s.lastID = c.ID
			}
		}
	}

	if len(s.order) == 0 {
		s.Create()
	}
	return s, nil
}

// insert places c by creation time, newest first. Ties go by id.
func (s *ConversationStore) insert(c models.Conversation) {
	s.transcripts[c.ID] = models.CloneMessages(c.Messages)
	if s.transcripts[c.ID] == nil {
		s.transcripts[c.ID] = []models.Message{}
	}
	c.Messages = nil

	i := 0
	for i < len(s.order) && newer(s.order[i], c) {
		i++
	}
	s.order = append(s.order, models.Conversation{})
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = c
}

func newer(a, b models.Conversation) bool {
	if a.Created.Equal(b.Created) {
		return a.ID > b.ID
	}
	return a.Created.After(b.Created)
}

// Create adds an empty conversation at the front of the display order.
func (s *ConversationStore) Create() models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	c := models.Conversation{
		ID:      s.lastID,
		Title:   models.DefaultTitle,
		Created: s.now(),
	}
	s.order = append([]models.Conversation{c}, s.order...)
	s.transcripts[c.ID] = []models.Message{}
	s.save(c.ID)
	return c
}

// Delete removes a conversation and its transcript. Its id is never reused.
func (s *ConversationStore) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return errors.Wrapf(ErrConversationNotFound, "id %d", id)
	}
	s.order = append(s.order[:i], s.order[i+1:]...)
	delete(s.transcripts, id)

	if s.persister != nil {
		if err := s.persister.DeleteConversation(context.Background(), id); err != nil {
			s.logger.Error().Err(err).Int64("conversation_id", id).Msg("failed to delete persisted conversation")
		}
	}
	return nil
}

// Get returns the conversation with a copy of its transcript.
func (s *ConversationStore) Get(id int64) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.index(id)
	if i < 0 {
		return models.Conversation{}, false
	}
	c := s.order[i]
	c.Messages = models.CloneMessages(s.transcripts[id])
	return c, true
}

// Messages returns a copy of the transcript of id.
func (s *ConversationStore) Messages(id int64) ([]models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, ok := s.transcripts[id]
	if !ok {
		return nil, false
	}
	return models.CloneMessages(msgs), true
}

// SetMessages replaces the transcript of an existing conversation.
func (s *ConversationStore) SetMessages(id int64, msgs []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transcripts[id]; !ok {
		return errors.Wrapf(ErrConversationNotFound, "id %d", id)
	}
	s.transcripts[id] = models.CloneMessages(msgs)
	if s.transcripts[id] == nil {
		s.transcripts[id] = []models.Message{}
	}
	s.save(id)
	return nil
}

func (s *ConversationStore) SetTitle(id int64, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return errors.Wrapf(ErrConversationNotFound, "id %d", id)
	}
	s.order[i].Title = title
	s.save(id)
	return nil
}

// Conversations returns every conversation in display order, transcripts included.
func (s *ConversationStore) Conversations() []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Conversation, len(s.order))
	for i, c := range s.order {
		c.Messages = models.CloneMessages(s.transcripts[c.ID])
		out[i] = c
	}
	return out
}

// First returns the first conversation in display order.
func (s *ConversationStore) First() (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.order) == 0 {
		return models.Conversation{}, false
	}
	c := s.order[0]
	c.Messages = models.CloneMessages(s.transcripts[c.ID])
	return c, true
}

func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Close releases the persister, if any.
func (s *ConversationStore) Close() error {
	if s.persister == nil {
		return nil
	}
	return s.persister.Close()
}

func (s *ConversationStore) index(id int64) int {
	for i, c := range s.order {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// save writes conversation id through to the persister. Callers hold s.mu.
func (s *ConversationStore) save(id int64) {
	if s.persister == nil {
		return
	}
	i := s.index(id)
	if i < 0 {
		return
	}
	c := s.order[i]
	c.Messages = s.transcripts[id]
	if err := s.persister.SaveConversation(context.Background(), c); err != nil {
		s.logger.Error().Err(err).Int64("conversation_id", id).Msg("failed to persist conversation")
	}
}
