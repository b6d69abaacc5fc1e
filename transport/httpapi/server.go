// Package httpapi serves the method channel over HTTP and websocket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/amikos-tech/onnx-channel/adapter"
	"github.com/amikos-tech/onnx-channel/channel"
	"github.com/amikos-tech/onnx-channel/internal/metrics"
)

// HealthReporter exposes adapter state for /healthz.
type HealthReporter interface {
	State() adapter.State
	ModelPath() string
}

// Options configures a Server.
type Options struct {
	Addr         string
	MaxBodyBytes int64
	// Metrics enables the /metrics route and HTTP collectors when set.
	Metrics *metrics.Metrics
	Health  HealthReporter
}

// Server exposes a channel on:
//
//	POST /v1/channel     one MethodCall per request
//	GET  /v1/channel     channel name and methods
//	GET  /v1/channel/ws  websocket, one MethodCall per text frame
//	GET  /healthz
//	GET  /metrics
type Server struct {
	ch       *channel.Channel
	opts     Options
	logger   *zap.Logger
	router   *gin.Engine
	upgrader websocket.Upgrader

	mu       sync.Mutex
	srv      *http.Server
	boundTo  string
	serveErr chan error
}

// New builds the router. Call Start to listen.
func New(ch *channel.Channel, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ch:     ch,
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Local bridge; the host app is not a browser origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(s.logger))
	if s.opts.Metrics != nil {
		r.Use(s.opts.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}

	r.GET("/healthz", s.handleHealth)

	v1 := r.Group("/v1")
	v1.POST("/channel", s.handleCall)
	v1.GET("/channel", s.handleDescribe)
	v1.GET("/channel/ws", s.handleWebSocket)

	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok", "channel": s.ch.Name()}
	if s.opts.Health != nil {
		body["state"] = s.opts.Health.State().String()
		if path := s.opts.Health.ModelPath(); path != "" {
			body["model"] = path
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleDescribe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"name": s.ch.Name(), "methods": s.ch.Methods()})
}

func (s *Server) handleCall(c *gin.Context) {
	body := c.Request.Body
	if s.opts.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(c.Writer, body, s.opts.MaxBodyBytes)
	}

	call, err := decodeCall(body)
	if err != nil {
		env := channel.Failure("", string(adapter.CodeInvalidInput), err.Error())
		c.JSON(http.StatusBadRequest, env)
		return
	}

	env := s.ch.Invoke(c.Request.Context(), call)
	c.JSON(StatusFor(env), env)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug("websocket close failed", zap.Error(err))
		}
	}()

	requestID := GetRequestID(c)
	s.logger.Info("websocket connected", zap.String("request_id", requestID), zap.String("remote_addr", conn.RemoteAddr().String()))

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket closed unexpectedly", zap.String("request_id", requestID), zap.Error(err))
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env channel.Envelope
		var call channel.MethodCall
		if err := unmarshalCall(message, &call); err != nil {
			env = channel.Failure("", string(adapter.CodeInvalidInput), err.Error())
		} else {
			env = s.ch.Invoke(c.Request.Context(), call)
		}

		if err := conn.WriteJSON(env); err != nil {
			s.logger.Warn("websocket write failed", zap.String("request_id", requestID), zap.Error(err))
			break
		}
	}

	s.logger.Info("websocket disconnected", zap.String("request_id", requestID))
}

// StatusFor maps an envelope onto an HTTP status code.
func StatusFor(env channel.Envelope) int {
	switch env.Status {
	case channel.StatusSuccess:
		return http.StatusOK
	case channel.StatusNotImplemented:
		return http.StatusNotImplemented
	}
	if env.Error == nil {
		return http.StatusInternalServerError
	}
	switch adapter.Code(env.Error.Code) {
	case adapter.CodeModelPathMissing, adapter.CodeInvalidInput:
		return http.StatusBadRequest
	case adapter.CodeModelNotInitialized:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeCall(r io.Reader) (channel.MethodCall, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return channel.MethodCall{}, fmt.Errorf("failed to read request body: %w", err)
	}
	var call channel.MethodCall
	if err := unmarshalCall(raw, &call); err != nil {
		return channel.MethodCall{}, err
	}
	return call, nil
}

func unmarshalCall(raw []byte, call *channel.MethodCall) error {
	if err := json.Unmarshal(raw, call); err != nil {
		return fmt.Errorf("malformed method call: %w", err)
	}
	if call.Method == "" {
		return fmt.Errorf("malformed method call: method is required")
	}
	return nil
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return fmt.Errorf("server already started")
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %q: %w", s.opts.Addr, err)
	}

	s.srv = &http.Server{Handler: s.router}
	s.boundTo = ln.Addr().String()
	s.serveErr = make(chan error, 1)

	go func(srv *http.Server, errCh chan<- error) {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", zap.Error(err))
			errCh <- err
		}
		close(errCh)
	}(s.srv, s.serveErr)

	s.logger.Info("http transport listening", zap.String("addr", s.boundTo), zap.String("channel", s.ch.Name()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundTo
}

// Shutdown stops accepting connections and waits for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, errCh := s.srv, s.serveErr
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err, ok := <-errCh; ok && err != nil {
		return err
	}
	return nil
}
