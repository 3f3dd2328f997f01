package sqlexec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/frame"
	"github.com/kyleking/sqlchat/internal/logging"
	"github.com/kyleking/sqlchat/internal/monitor"
	"github.com/kyleking/sqlchat/internal/session"
)

// Runner executes a stored snippet with df bound to the given frame
type Runner interface {
	RunSnippet(ctx context.Context, code string, df *frame.Frame) (string, error)
}

// CodeStore parks non-SQL payloads in the session. Nothing it stores runs
// until Run is called from an explicit user action.
type CodeStore struct {
	session *session.Session
	now     func() time.Time
}

// NewCodeStore creates a store bound to a session
func NewCodeStore(sess *session.Session) *CodeStore {
	return &CodeStore{session: sess, now: time.Now}
}

// NewSnippetID returns code_<unix seconds>_<6 hex chars>
func NewSnippetID(at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("code_%d_%s", at.Unix(), suffix)
}

// Store appends code to the session as a proposed snippet
func (c *CodeStore) Store(code string) session.Snippet {
	snip := c.session.AddSnippet(NewSnippetID(c.now()), code)
	monitor.ObserveSnippet("stored")

	logging.WithField("snippet", snip.ID).Info("Stored code snippet for review")

	return snip
}

// Run executes a stored snippet with the last successful result as df and
// records the outcome on the snippet.
func (c *CodeStore) Run(ctx context.Context, runner Runner, id string) (session.Snippet, error) {
	snip, err := c.session.Snippet(id)
	if err != nil {
		return session.Snippet{}, err
	}

	df, _ := c.session.LastResult()
	if df == nil {
		df = frame.New()
	}

	output, runErr := runner.RunSnippet(ctx, snip.Code, df)
	if runErr != nil {
		monitor.ObserveSnippet("failed")

		msg := strings.TrimSpace(output + "\n" + errors.UserMessage(runErr))

		updated, markErr := c.session.MarkSnippet(id, session.SnippetFailed, msg)
		if markErr != nil {
			return session.Snippet{}, markErr
		}

		return updated, errors.Wrapf(runErr, errors.ErrTypeExecution, "snippet %s failed", id)
	}

	monitor.ObserveSnippet("executed")

	return c.session.MarkSnippet(id, session.SnippetExecuted, output)
}
