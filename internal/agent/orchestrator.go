package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"

	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/logging"
	"github.com/kyleking/sqlchat/internal/monitor"
	"github.com/kyleking/sqlchat/internal/plot"
	"github.com/kyleking/sqlchat/internal/session"
)

// DefaultMaxIterations bounds the model calls in one turn
const DefaultMaxIterations = 15

// ErrIterationLimit ends a turn whose model kept calling tools
var ErrIterationLimit = errors.New(errors.ErrTypeExecution, "Agent stopped due to iteration limit.")

// Options tune the loop
type Options struct {
	MaxIterations int
	// AttachToolPlots attaches the last plot a tool produced when the final
	// answer carries none
	AttachToolPlots bool
	SystemPrompt    string
}

// DefaultOptions returns the loop defaults
func DefaultOptions() Options {
	return Options{
		MaxIterations:   DefaultMaxIterations,
		AttachToolPlots: true,
		SystemPrompt:    SystemPrompt,
	}
}

// ToolCall records one dispatched call
type ToolCall struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Arguments string        `json:"arguments"`
	Result    string        `json:"result"`
	Failed    bool          `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Reply is the outcome of one turn
type Reply struct {
	Answer    string        `json:"answer"`
	Plot      *plot.Payload `json:"plot,omitempty"`
	RenderErr error         `json:"-"`
	ToolCalls []ToolCall    `json:"tool_calls,omitempty"`
	Err       error         `json:"-"`
}

// Orchestrator drives one session's conversation
type Orchestrator struct {
	model   model.ToolCallingChatModel
	tools   map[string]*Tool
	names   []string
	session *session.Session
	opts    Options
}

// NewOrchestrator binds tools to the model
func NewOrchestrator(
	ctx context.Context,
	cm model.ToolCallingChatModel,
	tools []*Tool,
	sess *session.Session,
	opts Options,
) (*Orchestrator, error) {
	if cm == nil {
		return nil, errors.New(errors.ErrTypeModel, "chat model is required")
	}

	if sess == nil {
		return nil, errors.New(errors.ErrTypeValidation, "session is required")
	}

	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}

	if opts.SystemPrompt == "" {
		opts.SystemPrompt = SystemPrompt
	}

	o := &Orchestrator{
		tools:   make(map[string]*Tool, len(tools)),
		session: sess,
		opts:    opts,
	}

	infos := make([]*einoschema.ToolInfo, 0, len(tools))

	for _, t := range tools {
		if _, dup := o.tools[t.Name()]; dup {
			return nil, errors.Newf(errors.ErrTypeValidation, "duplicate tool %s", t.Name())
		}

		info, err := t.Info(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeInternal, "failed to describe tool %s", t.Name())
		}

		o.tools[t.Name()] = t
		o.names = append(o.names, t.Name())
		infos = append(infos, info)
	}

	bound, err := cm.WithTools(infos)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeModel, "failed to bind tools")
	}

	o.model = bound

	return o, nil
}

// Session returns the session the orchestrator writes to
func (o *Orchestrator) Session() *session.Session {
	return o.session
}

// ToolNames returns the bound tool names in registration order
func (o *Orchestrator) ToolNames() []string {
	out := make([]string, len(o.names))
	copy(out, o.names)

	return out
}

// Respond answers one question. An empty question is rejected without
// touching the session. Every other call appends a user turn and an
// assistant turn; a failed turn is reported through Reply.Err.
func (o *Orchestrator) Respond(ctx context.Context, question string) (*Reply, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New(errors.ErrTypeValidation, "question is empty")
	}

	history := o.session.Conversation()
	o.session.AddUser(question)

	start := time.Now()

	var reply *Reply

	_ = logging.LoggerMiddleware("agent turn", func() error {
		reply = o.turn(ctx, history, question)
		return reply.Err
	})

	if reply.Err != nil {
		reply.Answer = FailureText(reply.Err)
		reply.Plot = nil
		o.session.AddFailure(reply.Answer)
		monitor.ObserveTurn("error", time.Since(start))

		return reply, nil
	}

	o.session.AddAssistant(reply.Answer, reply.Plot)
	monitor.ObserveTurn("success", time.Since(start))

	return reply, nil
}

// FailureText is the assistant text recorded for a failed turn
func FailureText(err error) string {
	if stderrors.Is(err, ErrIterationLimit) {
		return ErrIterationLimit.Message
	}

	return "An error occurred: " + errors.UserMessage(err)
}

// turn runs the loop. It never panics: a failing model call, a model that
// never stops calling tools and panics outside tool bodies all end in
// Reply.Err.
func (o *Orchestrator) turn(ctx context.Context, history []session.Turn, question string) (reply *Reply) {
	reply = &Reply{}
	logger := logging.ForSession(o.session.ID)

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Agent turn panicked: %v", r)
			reply.Err = errors.Newf(errors.ErrTypeInternal, "unexpected failure: %v", r)
		}
	}()

	msgs := make([]*einoschema.Message, 0, len(history)+2)
	msgs = append(msgs, einoschema.SystemMessage(o.opts.SystemPrompt))
	msgs = append(msgs, historyMessages(history)...)
	msgs = append(msgs, einoschema.UserMessage(question))

	var toolPlot *plot.Payload

	for i := 0; i < o.opts.MaxIterations; i++ {
		resp, err := o.model.Generate(ctx, msgs)
		if err != nil {
			reply.Err = errors.Wrap(err, errors.ErrTypeModel, "model request failed")
			return reply
		}

		if resp == nil {
			reply.Err = errors.New(errors.ErrTypeModel, "model returned no message")
			return reply
		}

		if len(resp.ToolCalls) == 0 {
			o.finish(reply, resp.Content, toolPlot)
			return reply
		}

		msgs = append(msgs, resp)

		for _, call := range resp.ToolCalls {
			record := o.dispatch(ctx, call)
			reply.ToolCalls = append(reply.ToolCalls, record)

			if ex := plot.Extract(record.Result); ex.Payload != nil {
				toolPlot = ex.Payload
			}

			msgs = append(msgs, einoschema.ToolMessage(record.Result, call.ID))
		}
	}

	logger.WithField("max_iterations", o.opts.MaxIterations).Warn("Iteration limit reached")
	reply.Err = ErrIterationLimit

	return reply
}

// finish splits the final text into answer and plot
func (o *Orchestrator) finish(reply *Reply, text string, toolPlot *plot.Payload) {
	ex := plot.Extract(text)

	reply.Answer = ex.Text
	reply.Plot = ex.Payload
	reply.RenderErr = ex.Err

	if ex.Err != nil {
		logging.WithError(ex.Err).Warn("Plot payload could not be rendered; showing raw answer")
	}

	if reply.Plot == nil && ex.Err == nil && o.opts.AttachToolPlots && toolPlot != nil {
		reply.Plot = toolPlot
	}
}

// dispatch runs one tool call. Unknown tools, argument errors and panics
// become error text for the model.
func (o *Orchestrator) dispatch(ctx context.Context, call einoschema.ToolCall) (record ToolCall) {
	name := call.Function.Name
	record = ToolCall{ID: call.ID, Name: name, Arguments: call.Function.Arguments}
	logger := logging.ForSession(o.session.ID).ForTool(name)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Tool panicked: %v", r)
			record.Result = fmt.Sprintf("Error: tool %s failed unexpectedly: %v", name, r)
			record.Failed = true
		}

		record.Duration = time.Since(start)

		outcome := "ok"
		if record.Failed {
			outcome = "error"
		}

		monitor.ObserveToolCall(name, outcome)
		logger.WithFields(map[string]interface{}{
			"outcome":  outcome,
			"duration": record.Duration.String(),
		}).Debug("Tool call finished")
	}()

	t, ok := o.tools[name]
	if !ok {
		known := o.ToolNames()
		sort.Strings(known)

		record.Result = fmt.Sprintf("Error: unknown tool '%s'. Available tools: %s", name, strings.Join(known, ", "))
		record.Failed = true

		return record
	}

	out, err := t.InvokableRun(ctx, call.Function.Arguments)
	if err != nil {
		record.Result = "Error: " + errors.UserMessage(err)
		record.Failed = true

		return record
	}

	record.Result = out
	record.Failed = isErrorText(out)

	return record
}

// isErrorText recognizes the error strings the tools return
func isErrorText(s string) bool {
	return strings.HasPrefix(s, "Error") || s == "No SQL or code provided."
}

// historyMessages replays prior turns. Plots are not resent; the model only
// learns that one was shown.
func historyMessages(turns []session.Turn) []*einoschema.Message {
	out := make([]*einoschema.Message, 0, len(turns))

	for _, t := range turns {
		switch t.Role {
		case session.RoleUser:
			out = append(out, einoschema.UserMessage(t.Content))
		case session.RoleAssistant:
			content := t.Content
			if t.Plot != nil {
				content = strings.TrimSpace(content + "\n\n(A chart was shown to the user.)")
			}

			out = append(out, einoschema.AssistantMessage(content, nil))
		}
	}

	return out
}
