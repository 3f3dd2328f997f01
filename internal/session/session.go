// Package session holds the per-user chat state: the conversation, the last
// successful query result and the code snippets the agent proposed.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/frame"
	"github.com/kyleking/sqlchat/internal/plot"
)

// Role identifies who authored a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one conversation entry
type Turn struct {
	Role    Role          `json:"role"`
	Content string        `json:"content"`
	Plot    *plot.Payload `json:"plot,omitempty"`
	Error   bool          `json:"error,omitempty"`
	At      time.Time     `json:"at"`
}

// SnippetState tracks the human-gated lifecycle of a proposed snippet
type SnippetState string

const (
	SnippetProposed SnippetState = "proposed"
	SnippetExecuted SnippetState = "executed"
	SnippetFailed   SnippetState = "failed"
)

// Snippet is non-SQL text the agent asked to run
type Snippet struct {
	ID         string       `json:"id"`
	Code       string       `json:"code"`
	State      SnippetState `json:"state"`
	Output     string       `json:"output,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	ExecutedAt *time.Time   `json:"executed_at,omitempty"`
}

// Session is the explicit context passed through every call in a turn
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.RWMutex
	conversation []Turn
	lastResult   *frame.Frame
	lastSQL      string
	snippets     []Snippet
	now          func() time.Time
}

// New starts an empty session
func New() *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		now:       time.Now,
	}
}

// AppendTurn records a conversation entry
func (s *Session) AppendTurn(turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turn.At.IsZero() {
		turn.At = s.now()
	}

	s.conversation = append(s.conversation, turn)
}

// AddUser records a user question
func (s *Session) AddUser(content string) {
	s.AppendTurn(Turn{Role: RoleUser, Content: content})
}

// AddAssistant records an answer and its optional plot
func (s *Session) AddAssistant(content string, p *plot.Payload) {
	s.AppendTurn(Turn{Role: RoleAssistant, Content: content, Plot: p})
}

// AddFailure records a failed turn as an assistant entry
func (s *Session) AddFailure(message string) {
	s.AppendTurn(Turn{Role: RoleAssistant, Content: message, Error: true})
}

// Conversation returns a copy of every turn in order
func (s *Session) Conversation() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Turn, len(s.conversation))
	copy(out, s.conversation)

	return out
}

// SetLastResult replaces the single-slot last result cache
func (s *Session) SetLastResult(result *frame.Frame, executedSQL string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastResult = result
	s.lastSQL = executedSQL
}

// LastResult returns the last successful query result and its statement
func (s *Session) LastResult() (*frame.Frame, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastResult, s.lastSQL
}

// AddSnippet stores proposed code without running it
func (s *Session) AddSnippet(id, code string) Snippet {
	s.mu.Lock()
	defer s.mu.Unlock()

	snip := Snippet{ID: id, Code: code, State: SnippetProposed, CreatedAt: s.now()}
	s.snippets = append(s.snippets, snip)

	return snip
}

// Snippets returns a copy of the stored snippets in creation order
func (s *Session) Snippets() []Snippet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snippet, len(s.snippets))
	copy(out, s.snippets)

	return out
}

// Snippet looks up a stored snippet by id
func (s *Session) Snippet(id string) (Snippet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, snip := range s.snippets {
		if snip.ID == id {
			return snip, nil
		}
	}

	return Snippet{}, errors.Newf(errors.ErrTypeNotFound, "no stored snippet with id %s", id)
}

// MarkSnippet records the outcome of an explicit run
func (s *Session) MarkSnippet(id string, state SnippetState, output string) (Snippet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.snippets {
		if s.snippets[i].ID != id {
			continue
		}

		at := s.now()
		s.snippets[i].State = state
		s.snippets[i].Output = output
		s.snippets[i].ExecutedAt = &at

		return s.snippets[i], nil
	}

	return Snippet{}, errors.Newf(errors.ErrTypeNotFound, "no stored snippet with id %s", id)
}

// Reset clears the conversation and stored snippets. The last result stays
// so the data view survives a chat reset.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversation = nil
	s.snippets = nil
}

// ResetAll clears everything, used when the data source changes
func (s *Session) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversation = nil
	s.snippets = nil
	s.lastResult = nil
	s.lastSQL = ""
}
