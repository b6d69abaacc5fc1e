// Package app assembles the long-running onnx-channel service with fx.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/amikos-tech/onnx-channel/adapter"
	"github.com/amikos-tech/onnx-channel/channel"
	"github.com/amikos-tech/onnx-channel/engine"
	"github.com/amikos-tech/onnx-channel/internal/config"
	"github.com/amikos-tech/onnx-channel/internal/metrics"
	"github.com/amikos-tech/onnx-channel/ortlib"
	"github.com/amikos-tech/onnx-channel/transport/httpapi"
)

// lockTimeout bounds how long startup waits for another instance to exit.
const lockTimeout = 2 * time.Second

// NewOpener returns the native engine opener configured from cfg.
func NewOpener(cfg config.Config, logger *zap.Logger) engine.Opener {
	return engine.NewOpener(
		engine.WithLibraryPath(cfg.Runtime.LibraryPath),
		engine.WithCacheDir(cfg.Runtime.CacheDir),
		engine.WithVersion(cfg.Runtime.Version),
		engine.WithoutPlatformDefaults(cfg.Runtime.SkipPlatformDefaults),
		engine.WithThreads(cfg.Runtime.IntraOpThreads, cfg.Runtime.InterOpThreads),
		engine.WithLogger(logger.Named("engine")),
	)
}

// Options returns the fx graph for the HTTP service. A nil open uses NewOpener(cfg, logger).
func Options(cfg config.Config, logger *zap.Logger, open engine.Opener) fx.Option {
	if logger == nil {
		logger = zap.NewNop()
	}
	if open == nil {
		open = NewOpener(cfg, logger)
	}

	return fx.Options(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Supply(cfg, logger),
		fx.Provide(
			metrics.New,
			func(log *zap.Logger, m *metrics.Metrics) *adapter.Adapter {
				return adapter.New(open,
					adapter.WithLogger(log.Named("adapter")),
					adapter.WithObserver(m),
				)
			},
			newChannel,
			newHTTPServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

// New builds the fx application.
func New(cfg config.Config, logger *zap.Logger, open engine.Opener) *fx.App {
	return fx.New(Options(cfg, logger, open))
}

func newChannel(cfg config.Config, a *adapter.Adapter, logger *zap.Logger) *channel.Channel {
	ch := channel.New(cfg.Channel.Name, channel.WithLogger(logger.Named("channel")))
	channel.Bind(ch, a)
	return ch
}

func newHTTPServer(cfg config.Config, ch *channel.Channel, a *adapter.Adapter, m *metrics.Metrics, logger *zap.Logger) *httpapi.Server {
	return httpapi.New(ch, httpapi.Options{
		Addr:         cfg.HTTP.Addr,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Metrics:      m,
		Health:       a,
	}, logger.Named("http"))
}

type lifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Logger    *zap.Logger
	Adapter   *adapter.Adapter
	Server    *httpapi.Server
}

// registerLifecycle orders startup as lock, model preload, listener. fx stops them in reverse.
func registerLifecycle(p lifecycleParams) {
	var lock *ortlib.FileLock

	if p.Config.LockFile != "" {
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(context.Context) error {
				l, err := ortlib.AcquireFileLock(p.Config.LockFile, lockTimeout)
				if err != nil {
					return fmt.Errorf("another onnx-channel instance may be running: %w", err)
				}
				lock = l
				p.Logger.Debug("instance lock acquired", zap.String("path", l.Path()))
				return nil
			},
			OnStop: func(context.Context) error {
				return lock.Release()
			},
		})
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if p.Config.Model.Path == "" {
				return nil
			}
			if _, err := p.Adapter.Initialize(p.Config.Model.Path); err != nil {
				return fmt.Errorf("preload model: %w", err)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			p.Adapter.Dispose()
			return nil
		},
	})

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return p.Server.Start()
		},
		OnStop: func(ctx context.Context) error {
			if p.Config.HTTP.ShutdownTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, p.Config.HTTP.ShutdownTimeout)
				defer cancel()
			}
			return p.Server.Shutdown(ctx)
		},
	})
}
