// Package channel models a named method channel: calls carry a method name and an
// argument dictionary, and every call is answered with exactly one Envelope.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/amikos-tech/onnx-channel/adapter"
)

// DefaultName is the channel name answered when none is configured.
const DefaultName = "oggrow/onnx_runtime"

// Envelope statuses.
const (
	StatusSuccess        = "success"
	StatusError          = "error"
	StatusNotImplemented = "notImplemented"
)

// CodeInternal marks failures that did not come from the adapter.
const CodeInternal = "INTERNAL_ERROR"

// MethodCall is one invocation. Channel may be empty, meaning the receiving channel.
type MethodCall struct {
	ID      string `json:"id,omitempty"`
	Channel string `json:"channel,omitempty"`
	Method  string `json:"method"`
	Args    Args   `json:"args,omitempty"`
}

// ErrorBody describes a failed call.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Envelope is the reply to a MethodCall.
type Envelope struct {
	ID     string     `json:"id,omitempty"`
	Status string     `json:"status"`
	Result any        `json:"result,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// Success wraps a result.
func Success(id string, result any) Envelope {
	return Envelope{ID: id, Status: StatusSuccess, Result: result}
}

// Failure wraps an error code and message.
func Failure(id, code, message string) Envelope {
	return Envelope{ID: id, Status: StatusError, Error: &ErrorBody{Code: code, Message: message}}
}

// NotImplemented answers a call no handler accepts.
func NotImplemented(id string) Envelope {
	return Envelope{ID: id, Status: StatusNotImplemented}
}

// Handler serves one method.
type Handler func(ctx context.Context, args Args) (any, error)

// Channel dispatches calls to registered handlers.
type Channel struct {
	name   string
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the channel logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New returns an empty channel. An empty name means DefaultName.
func New(name string, opts ...Option) *Channel {
	if name == "" {
		name = DefaultName
	}
	c := &Channel{
		name:     name,
		logger:   zap.NewNop(),
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Handle registers h for method, replacing any previous handler.
func (c *Channel) Handle(method string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
}

// Methods lists registered method names in sorted order.
func (c *Channel) Methods() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	methods := make([]string, 0, len(c.handlers))
	for m := range c.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Invoke runs call and returns its envelope. It never panics on handler errors.
func (c *Channel) Invoke(ctx context.Context, call MethodCall) Envelope {
	if call.Channel != "" && call.Channel != c.name {
		c.logger.Debug("call for another channel", zap.String("channel", call.Channel), zap.String("method", call.Method))
		return NotImplemented(call.ID)
	}

	c.mu.RLock()
	h, ok := c.handlers[call.Method]
	c.mu.RUnlock()
	if !ok {
		c.logger.Debug("method not implemented", zap.String("method", call.Method))
		return NotImplemented(call.ID)
	}

	result, err := h(ctx, call.Args)
	if err != nil {
		env := FromError(call.ID, err)
		c.logger.Debug("method failed",
			zap.String("method", call.Method),
			zap.String("code", env.Error.Code),
			zap.String("message", env.Error.Message),
		)
		return env
	}
	return Success(call.ID, result)
}

// FromError converts err into an error envelope, keeping adapter codes.
func FromError(id string, err error) Envelope {
	var aerr *adapter.Error
	if errors.As(err, &aerr) {
		return Failure(id, string(aerr.Code), aerr.Error())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Failure(id, CodeInternal, fmt.Sprintf("call abandoned: %v", err))
	}
	return Failure(id, CodeInternal, err.Error())
}
