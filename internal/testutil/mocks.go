package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/kyleking/sqlchat/internal/datasource"
	"github.com/kyleking/sqlchat/internal/frame"
)

// Step is one scripted chat model response
type Step struct {
	Message *schema.Message
	Err     error
}

// Say scripts a final answer
func Say(text string) Step {
	return Step{Message: schema.AssistantMessage(text, nil)}
}

// Call scripts a response that requests one or more tool calls
func Call(calls ...schema.ToolCall) Step {
	return Step{Message: schema.AssistantMessage("", calls)}
}

// ToolCall builds a tool call with the given id, name and JSON arguments
func ToolCall(id, name, args string) schema.ToolCall {
	return schema.ToolCall{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}
}

// Fail scripts a model error
func Fail(err error) Step {
	return Step{Err: err}
}

// ScriptedChatModel replays steps in order and records every request.
// WithTools returns the same instance so tests can inspect what was bound.
type ScriptedChatModel struct {
	mu    sync.Mutex
	steps []Step
	calls [][]*schema.Message
	tools []*schema.ToolInfo
}

var _ model.ToolCallingChatModel = (*ScriptedChatModel)(nil)

// NewScriptedChatModel creates a model that answers with steps in order
func NewScriptedChatModel(steps ...Step) *ScriptedChatModel {
	return &ScriptedChatModel{steps: steps}
}

// Generate returns the next scripted step
func (m *ScriptedChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make([]*schema.Message, len(input))
	copy(snapshot, input)
	m.calls = append(m.calls, snapshot)

	if len(m.steps) == 0 {
		return nil, fmt.Errorf("script exhausted after %d calls", len(m.calls)-1)
	}

	step := m.steps[0]
	m.steps = m.steps[1:]

	return step.Message, step.Err
}

// Stream wraps the next scripted step in a single-chunk stream
func (m *ScriptedChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}

	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// WithTools records the bound tools
func (m *ScriptedChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tools = tools

	return m, nil
}

// Calls returns the message lists of every Generate call
func (m *ScriptedChatModel) Calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]*schema.Message, len(m.calls))
	copy(out, m.calls)

	return out
}

// ToolNames returns the names of the bound tools
func (m *ScriptedChatModel) ToolNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, len(m.tools))
	for i, t := range m.tools {
		names[i] = t.Name
	}

	return names
}

// Remaining reports how many steps have not been consumed
func (m *ScriptedChatModel) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.steps)
}

// ErrorInjector provides systematic error injection for testing
type ErrorInjector struct {
	errors map[string]error
	after  map[string]int
	counts map[string]int
	mu     sync.Mutex
}

// NewErrorInjector creates a new error injector
func NewErrorInjector() *ErrorInjector {
	return &ErrorInjector{
		errors: make(map[string]error),
		after:  make(map[string]int),
		counts: make(map[string]int),
	}
}

// InjectError configures an error to be returned for a specific key
func (e *ErrorInjector) InjectError(key string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.errors[key] = err
	delete(e.after, key)
}

// InjectErrorAfterN configures an error to be returned after N successful calls
func (e *ErrorInjector) InjectErrorAfterN(key string, n int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.errors[key] = err
	e.after[key] = n
}

// ShouldError checks if an error should be returned for the given key
func (e *ErrorInjector) ShouldError(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.counts[key]++

	err, exists := e.errors[key]
	if !exists {
		return nil
	}

	if n, ok := e.after[key]; ok && e.counts[key] <= n {
		return nil
	}

	return err
}

// GetCount returns the number of times a key was checked
func (e *ErrorInjector) GetCount(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.counts[key]
}

// Reset clears all error configurations and counts
func (e *ErrorInjector) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.errors = make(map[string]error)
	e.after = make(map[string]int)
	e.counts = make(map[string]int)
}

// FlakySource wraps a source and fails operations the injector selects.
// Keys are ListTables, DescribeColumns and Query.
type FlakySource struct {
	datasource.Source
	Errors *ErrorInjector
	// PanicOn makes Query panic when the statement contains it
	PanicOn string
}

// NewFlakySource wraps src with an empty injector
func NewFlakySource(src datasource.Source) *FlakySource {
	return &FlakySource{Source: src, Errors: NewErrorInjector()}
}

// ListTables fails when ListTables is injected
func (f *FlakySource) ListTables(ctx context.Context) ([]string, error) {
	if err := f.Errors.ShouldError("ListTables"); err != nil {
		return nil, err
	}

	return f.Source.ListTables(ctx)
}

// DescribeColumns fails when DescribeColumns is injected
func (f *FlakySource) DescribeColumns(ctx context.Context, table string) ([]datasource.Column, error) {
	if err := f.Errors.ShouldError("DescribeColumns"); err != nil {
		return nil, err
	}

	return f.Source.DescribeColumns(ctx, table)
}

// Query fails when Query is injected and panics on PanicOn
func (f *FlakySource) Query(ctx context.Context, stmt string) (*frame.Frame, error) {
	if f.PanicOn != "" && strings.Contains(stmt, f.PanicOn) {
		panic("driver exploded")
	}

	if err := f.Errors.ShouldError("Query"); err != nil {
		return nil, err
	}

	return f.Source.Query(ctx, stmt)
}
