package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/logging"
)

var _ model.ToolCallingChatModel = (*Manager)(nil)

// Manager tries registered chat models in order until one answers
type Manager struct {
	names  []string
	models []model.ToolCallingChatModel
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{}
}

// RegisterProvider appends a named model to the fallback order
func (m *Manager) RegisterProvider(name string, cm model.ToolCallingChatModel) error {
	if name == "" {
		return errors.New(errors.ErrTypeValidation, "provider name cannot be empty")
	}

	if cm == nil {
		return errors.New(errors.ErrTypeValidation, "chat model cannot be nil")
	}

	for _, n := range m.names {
		if n == name {
			return errors.Newf(errors.ErrTypeValidation, "provider %s already registered", name)
		}
	}

	m.names = append(m.names, name)
	m.models = append(m.models, cm)

	return nil
}

// Providers returns the registered names in fallback order
func (m *Manager) Providers() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)

	return out
}

// Generate asks each model in turn. The error of every failed model is
// kept so an outage is reported with all causes.
func (m *Manager) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if len(m.models) == 0 {
		return nil, errors.New(errors.ErrTypeModel, "no chat model configured")
	}

	var failures []string

	for i, cm := range m.models {
		msg, err := cm.Generate(ctx, input, opts...)
		if err == nil {
			return msg, nil
		}

		logging.WithError(err).WithField("provider", m.names[i]).Warn("Chat model failed")
		failures = append(failures, fmt.Sprintf("%s: %v", m.names[i], err))

		if ctx.Err() != nil {
			break
		}
	}

	return nil, errors.Newf(errors.ErrTypeModel, "all chat models failed (%s)", strings.Join(failures, "; "))
}

// Stream opens a stream on the first model that accepts the request
func (m *Manager) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if len(m.models) == 0 {
		return nil, errors.New(errors.ErrTypeModel, "no chat model configured")
	}

	var lastErr error

	for i, cm := range m.models {
		sr, err := cm.Stream(ctx, input, opts...)
		if err == nil {
			return sr, nil
		}

		logging.WithError(err).WithField("provider", m.names[i]).Warn("Chat model stream failed")
		lastErr = err
	}

	return nil, errors.Wrap(lastErr, errors.ErrTypeModel, "all chat models failed")
}

// WithTools binds tools on every registered model and returns a new manager
func (m *Manager) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	out := NewManager()

	for i, cm := range m.models {
		bound, err := cm.WithTools(tools)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeModel, "failed to bind tools to %s", m.names[i])
		}

		out.names = append(out.names, m.names[i])
		out.models = append(out.models, bound)
	}

	return out, nil
}
