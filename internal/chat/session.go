// Package chat drives a conversation with the relay: it owns the active
// selection, the transcript on screen and the send lifecycle.
package chat

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"relaychat/internal/models"
	"relaychat/internal/store"
)

// ErrorReply replaces the assistant reply when a send fails.
const ErrorReply = "Sorry, there was an error processing your request. Please try again."

var (
	ErrEmptyInput           = errors.New("message is empty")
	ErrSendInFlight         = errors.New("a message is already being sent")
	ErrNoActiveConversation = errors.New("no conversation selected")
)

// State is the phase of the most recent send.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateSettled:
		return "settled"
	default:
		return "idle"
	}
}

// FragmentStream yields the reply text in arrival order. Recv returns io.EOF
// once the reply is complete.
type FragmentStream interface {
	Recv() (string, error)
	Close() error
}

// Relay opens a completion for a transcript.
type Relay interface {
	Open(ctx context.Context, messages []models.Message) (FragmentStream, error)
}

// Snapshot is a copy of everything needed to draw the chat.
type Snapshot struct {
	Conversations []models.Conversation
	ActiveID      int64 // 0 when nothing is selected
	Messages      []models.Message
	State         State
	Sending       bool
}

// Session serializes user actions against the store and the relay.
type Session struct {
	store  *store.ConversationStore
	relay  Relay
	logger zerolog.Logger
	notify func()

	mu        sync.Mutex
	active    int64
	displayed []models.Message
	state     State
	sending   bool
}

type Option func(*Session)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger.With().Str("component", "session").Logger()
	}
}

// WithNotify registers fn to run after every visible change. fn must not
// block and must not call back into the Session.
func WithNotify(fn func()) Option {
	return func(s *Session) { s.notify = fn }
}

// NewSession selects the first conversation of st.
func NewSession(st *store.ConversationStore, relay Relay, opts ...Option) *Session {
	s := &Session{
		store:  st,
		relay:  relay,
		logger: zerolog.Nop(),
		notify: func() {},
	}
	for _, opt := range opts {
		opt(s)
	}
	if first, ok := st.First(); ok {
		s.active = first.ID
		s.displayed = first.Messages
	}
	return s
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Conversations: s.store.Conversations(),
		ActiveID:      s.active,
		Messages:      models.CloneMessages(s.displayed),
		State:         s.state,
		Sending:       s.sending,
	}
}

// Send appends input to the active conversation and streams the reply into
// it. It blocks until the reply settles. A failed reply is replaced by
// ErrorReply and the cause is returned.
func (s *Session) Send(ctx context.Context, input string) error {
	text := strings.TrimSpace(input)
	if text == "" {
		return ErrEmptyInput
	}

	id, base, err := s.begin(text)
	if err != nil {
		return err
	}
	defer s.finish()

	log := s.logger.With().Int64("conversation_id", id).Logger()
	log.Debug().Int("messages", len(base)).Msg("sending message")

	stream, err := s.relay.Open(ctx, base)
	if err != nil {
		s.fail(log, id, base, err)
		return errors.Wrap(err, "opening completion")
	}
	defer stream.Close()

	s.setState(StateStreaming)
	s.apply(id, append(models.CloneMessages(base), models.NewAssistantMessage("")), false)

	var reply strings.Builder
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.fail(log, id, base, err)
			return errors.Wrap(err, "reading completion")
		}
		reply.WriteString(fragment)
		s.apply(id, append(models.CloneMessages(base), models.NewAssistantMessage(reply.String())), true)
	}

	// Also covers an empty completion, which never reached the loop body.
	s.apply(id, append(models.CloneMessages(base), models.NewAssistantMessage(reply.String())), true)
	log.Debug().Int("reply_bytes", reply.Len()).Msg("reply settled")
	return nil
}

// begin records the user message and marks the send in flight.
func (s *Session) begin(text string) (int64, []models.Message, error) {
	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return 0, nil, ErrSendInFlight
	}
	if s.active == 0 {
		s.mu.Unlock()
		return 0, nil, ErrNoActiveConversation
	}
	id := s.active

	prev, ok := s.store.Messages(id)
	if !ok {
		s.mu.Unlock()
		return 0, nil, errors.Wrapf(store.ErrConversationNotFound, "id %d", id)
	}
	base := append(prev, models.NewUserMessage(text))
	if err := s.store.SetMessages(id, base); err != nil {
		s.mu.Unlock()
		return 0, nil, err
	}
	if !models.HasUserMessage(prev) {
		if err := s.store.SetTitle(id, models.TitleFrom(text)); err != nil {
			s.logger.Error().Err(err).Int64("conversation_id", id).Msg("failed to set title")
		}
	}

	s.displayed = models.CloneMessages(base)
	s.sending = true
	s.state = StateSending
	s.mu.Unlock()

	s.notify()
	return id, base, nil
}

func (s *Session) finish() {
	s.mu.Lock()
	s.sending = false
	s.state = StateSettled
	s.mu.Unlock()
	s.notify()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// fail truncates the conversation back to the user message and appends the
// error reply.
func (s *Session) fail(log zerolog.Logger, id int64, base []models.Message, cause error) {
	log.Error().Err(cause).Msg("send failed")
	s.apply(id, append(models.CloneMessages(base), models.NewAssistantMessage(ErrorReply)), true)
}

// apply writes msgs as the transcript of id, and shows it when id is active.
// Nothing happens once id has been deleted.
func (s *Session) apply(id int64, msgs []models.Message, persist bool) {
	s.mu.Lock()
	if persist {
		if err := s.store.SetMessages(id, msgs); err != nil {
			s.mu.Unlock()
			s.logger.Debug().Err(err).Int64("conversation_id", id).Msg("dropped reply for missing conversation")
			return
		}
	} else if _, ok := s.store.Get(id); !ok {
		s.mu.Unlock()
		return
	}
	if s.active == id {
		s.displayed = msgs
	}
	s.mu.Unlock()
	s.notify()
}

// NewChat creates an empty conversation and selects it.
func (s *Session) NewChat() models.Conversation {
	s.mu.Lock()
	if s.active != 0 && len(s.displayed) > 0 {
		if err := s.store.SetMessages(s.active, s.displayed); err != nil {
			s.logger.Debug().Err(err).Int64("conversation_id", s.active).Msg("active conversation is gone")
		}
	}
	c := s.store.Create()
	s.active = c.ID
	s.displayed = []models.Message{}
	s.mu.Unlock()

	s.notify()
	return c
}

// Delete removes a conversation. Deleting the active one selects the first
// remaining conversation, or nothing.
func (s *Session) Delete(id int64) error {
	s.mu.Lock()
	if err := s.store.Delete(id); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.active == id {
		if first, ok := s.store.First(); ok {
			s.active = first.ID
			s.displayed = first.Messages
		} else {
			s.active = 0
			s.displayed = nil
		}
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// Switch selects id. Unknown ids show an empty transcript.
func (s *Session) Switch(id int64) {
	s.mu.Lock()
	if id == s.active {
		s.mu.Unlock()
		return
	}
	s.active = id
	msgs, ok := s.store.Messages(id)
	if !ok {
		msgs = []models.Message{}
	}
	s.displayed = msgs
	s.mu.Unlock()

	s.notify()
}
