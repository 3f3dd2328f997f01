package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/frame"
	"github.com/kyleking/sqlchat/internal/plot"
	"github.com/kyleking/sqlchat/internal/testutil"
)

func TestConversationAppendOnly(t *testing.T) {
	s := New()
	require.NotEmpty(t, s.ID)

	p, err := plot.NewPayload([]byte(`{"data":[]}`))
	require.NoError(t, err)

	s.AddUser("how many rows?")
	s.AddAssistant("42", p)
	s.AddFailure("An error occurred: boom")

	turns := s.Conversation()
	require.Len(t, turns, 3)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, RoleAssistant, turns[1].Role)
	assert.Same(t, p, turns[1].Plot)
	assert.True(t, turns[2].Error)
	assert.False(t, turns[2].At.IsZero())

	// Callers get a copy
	turns[0].Content = "mutated"
	assert.Equal(t, "how many rows?", s.Conversation()[0].Content)
}

func TestLastResultSingleSlot(t *testing.T) {
	s := New()

	res, stmt := s.LastResult()
	assert.Nil(t, res)
	assert.Empty(t, stmt)

	first := frame.New("a")
	second := frame.New("b")

	s.SetLastResult(first, "SELECT a FROM t LIMIT 10000")
	s.SetLastResult(second, "SELECT b FROM t LIMIT 10000")

	res, stmt = s.LastResult()
	assert.Same(t, second, res)
	assert.Equal(t, "SELECT b FROM t LIMIT 10000", stmt)
}

func TestSnippetLifecycle(t *testing.T) {
	s := New()

	snip := s.AddSnippet("code_1_abcdef", "print(1)")
	assert.Equal(t, SnippetProposed, snip.State)
	assert.Nil(t, snip.ExecutedAt)

	got, err := s.Snippet("code_1_abcdef")
	require.NoError(t, err)
	assert.Equal(t, "print(1)", got.Code)

	done, err := s.MarkSnippet("code_1_abcdef", SnippetExecuted, "1\n")
	require.NoError(t, err)
	assert.Equal(t, SnippetExecuted, done.State)
	assert.NotNil(t, done.ExecutedAt)
	assert.Equal(t, SnippetExecuted, s.Snippets()[0].State)

	_, err = s.Snippet("missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	_, err = s.MarkSnippet("missing", SnippetFailed, "")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestReset(t *testing.T) {
	s := New()
	s.AddUser("q")
	s.AddSnippet("id", "code")
	s.SetLastResult(frame.New("a"), "SELECT 1")

	s.Reset()
	assert.Empty(t, s.Conversation())
	assert.Empty(t, s.Snippets())

	res, _ := s.LastResult()
	assert.NotNil(t, res)

	s.ResetAll()
	res, stmt := s.LastResult()
	assert.Nil(t, res)
	assert.Empty(t, stmt)
}

func TestConcurrentAppends(t *testing.T) {
	s := New()

	testutil.RunConcurrent(t, 20, func(int) {
		s.AddUser("q")
	})

	assert.Len(t, s.Conversation(), 20)
}
