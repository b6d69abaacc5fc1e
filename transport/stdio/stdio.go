// Package stdio serves the method channel as newline-delimited JSON over a reader and writer,
// for hosts that embed onnx-channel as a child process.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/amikos-tech/onnx-channel/adapter"
	"github.com/amikos-tech/onnx-channel/channel"
)

// maxLineBytes bounds one request line.
const maxLineBytes = 16 << 20

// Disposer releases adapter resources when the input stream ends.
type Disposer interface {
	Dispose() bool
}

// Server answers one envelope line per non-blank request line, in order.
type Server struct {
	ch       *channel.Channel
	disposer Disposer
	logger   *zap.Logger
}

// New returns a Server. disposer may be nil.
func New(ch *channel.Channel, disposer Disposer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{ch: ch, disposer: disposer, logger: logger}
}

// Serve reads calls from r until EOF or ctx is done, writing replies to w.
// The adapter is disposed when Serve returns.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) (err error) {
	defer func() {
		if s.disposer != nil {
			s.disposer.Dispose()
		}
	}()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	enc := json.NewEncoder(w)
	s.logger.Info("stdio transport serving", zap.String("channel", s.ch.Name()))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("failed to read request: %w", err)
				}
				s.logger.Info("stdio input closed")
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := enc.Encode(s.handle(ctx, line)); err != nil {
				return fmt.Errorf("failed to write reply: %w", err)
			}
		}
	}
}

func (s *Server) handle(ctx context.Context, line string) channel.Envelope {
	var call channel.MethodCall
	if err := json.Unmarshal([]byte(line), &call); err != nil {
		s.logger.Warn("malformed method call", zap.Error(err))
		return channel.Failure("", string(adapter.CodeInvalidInput), fmt.Sprintf("malformed method call: %v", err))
	}
	if call.Method == "" {
		return channel.Failure(call.ID, string(adapter.CodeInvalidInput), "malformed method call: method is required")
	}
	return s.ch.Invoke(ctx, call)
}
