// Package app wires configuration, logging, the dispatch engine and its
// transports into a runnable application with signal-driven shutdown.
package app

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/searchktools/fast-dispatch/config"
	"github.com/searchktools/fast-dispatch/core"
	"github.com/searchktools/fast-dispatch/core/http2"
	"github.com/searchktools/fast-dispatch/core/transport"
)

// App is the application instance: one engine, one or two transports.
type App struct {
	cfg    *config.Config
	log    *zap.Logger
	engine *core.Engine

	server *transport.Server
	h2     *http2.Server
}

// New creates an application instance from cfg.
func New(cfg *config.Config) (*App, error) {
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	engine := core.NewEngineWith(core.Options{
		PoolCapacity: cfg.PoolCapacity,
		Logger:       log,
	})

	return &App{cfg: cfg, log: log, engine: engine}, nil
}

// Engine returns the underlying engine for route registration.
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.log
}

// Run starts the transports and blocks until a shutdown signal arrives or a
// transport fails.
func (a *App) Run() error {
	a.server = transport.NewServer(transport.Config{
		Addr:        a.cfg.Addr,
		IdleTimeout: a.cfg.IdleTimeout,
		Logger:      a.log,
	}, a.engine)

	errc := make(chan error, 2)
	go func() {
		errc <- errors.Wrap(a.server.ListenAndServe(), "http transport")
	}()

	if a.cfg.HTTP2Addr != "" {
		a.h2 = http2.NewServer(http2.Config{
			Addr:   a.cfg.HTTP2Addr,
			Logger: a.log,
		}, a.engine)
		go func() {
			errc <- errors.Wrap(a.h2.ListenAndServe(), "http2 transport")
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		a.log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		a.shutdown()
		return nil
	case err := <-errc:
		a.shutdown()
		return err
	}
}

func (a *App) shutdown() {
	if a.server != nil {
		if err := a.server.Close(); err != nil {
			a.log.Warn("transport close failed", zap.Error(err))
		}
	}
	if a.h2 != nil {
		if err := a.h2.Close(); err != nil {
			a.log.Warn("http2 close failed", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}

	var zcfg zap.Config
	if cfg.Production() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)

	log, err := zcfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return log, nil
}
