// Package app assembles roomchat from its configuration and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"roomchat/internal/api"
	"roomchat/internal/config"
	"roomchat/internal/history"
	"roomchat/internal/limiter"
	"roomchat/internal/room"
	"roomchat/internal/websocket"
	"roomchat/pkg/interfaces"
)

// Application coordinates all system components
// Component initialization follows strict dependency order:
// Logger → History → Limiter → Rooms → WebSocket → API → HTTP
type Application struct {
	config     *config.Config
	log        *slog.Logger
	history    interfaces.HistoryLog
	resolver   interfaces.LimiterResolver
	namespace  *limiter.Namespace
	redis      *limiter.RedisResolver
	rooms      *room.Manager
	apiServer  *api.Server
	httpServer *http.Server

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg *config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewApplication creates a new application instance with all components initialized.
// A nil logger logs to stderr as configured.
func NewApplication(cfg *config.Config, log *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if log == nil {
		log = NewLogger(cfg.Log, os.Stderr)
	}

	app := &Application{config: cfg, log: log}

	// STEP 1: Open the history log (foundation layer)
	historyLog, err := history.Open(cfg.History.Backend, cfg.History.Path, log.With("component", "history"))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s history: %w", cfg.History.Backend, err)
	}
	app.history = historyLog

	// STEP 2: Resolve where limiter actors live
	if err := app.setupLimiter(); err != nil {
		_ = historyLog.Close()
		return nil, err
	}

	// STEP 3: Room manager builds one limiter client per session
	clientLog := log.With("component", "limiter")
	factory := func(identity string, onFailure func(error)) room.Limiter {
		return limiter.NewClient(
			func() interfaces.LimiterStub { return app.resolver.Resolve(identity) },
			onFailure,
			clientLog,
			limiter.WithRequestTimeout(cfg.Limiter.RequestTimeout),
		)
	}
	app.rooms = room.NewManager(historyLog, log.With("component", "room"), room.WithLimiters(factory))

	// STEP 4: WebSocket handler and API server
	wsSettings := websocket.DefaultSettings()
	wsSettings.PingInterval = cfg.WebSocket.PingInterval
	wsSettings.ReadTimeout = cfg.WebSocket.ReadTimeout
	wsSettings.WriteTimeout = cfg.WebSocket.WriteTimeout
	wsSettings.SendBuffer = cfg.WebSocket.SendBuffer
	wsHandler := websocket.NewHandler(wsSettings, log.With("component", "websocket"))

	var serverOpts []api.ServerOption
	if app.namespace != nil {
		serverOpts = append(serverOpts, api.WithLimiterNamespace(app.namespace))
		if cfg.Limiter.ServeEndpoint {
			serverOpts = append(serverOpts, api.WithLimiterEndpoint(app.namespace))
		}
	}
	if cfg.HTTP.TrustProxyHeaders {
		serverOpts = append(serverOpts, api.WithTrustedProxyHeaders())
	}
	app.apiServer = api.NewServer(app.rooms, wsHandler, historyLog, log.With("component", "api"), serverOpts...)

	// STEP 5: HTTP server
	app.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port)),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return app, nil
}

func (app *Application) setupLimiter() error {
	cfg := app.config.Limiter
	settings := limiter.Settings{Interval: cfg.Interval, Grace: cfg.Grace}

	switch cfg.Backend {
	case config.LimiterLocal:
		app.namespace = limiter.NewNamespace(settings, app.log.With("component", "limiter"))
		app.resolver = app.namespace
	case config.LimiterHTTP:
		app.resolver = limiter.NewHTTPResolver(cfg.URL, &http.Client{Timeout: cfg.RequestTimeout})
	case config.LimiterRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		app.redis = limiter.NewRedisResolver(client, cfg.RedisPrefix, settings)
		app.resolver = app.redis
	default:
		return fmt.Errorf("unknown limiter backend %q", cfg.Backend)
	}
	return nil
}

// Start binds the listener and begins serving. It returns once the server
// accepts connections.
func (app *Application) Start(ctx context.Context) error {
	if app.redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx, app.config.Limiter.RequestTimeout)
		err := app.redis.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("limiter redis unreachable: %w", err)
		}
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	// STEP 1: Background maintenance
	bgCtx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel
	if app.namespace != nil {
		app.goBackground(func() { app.namespace.Run(bgCtx, app.config.Limiter.SweepInterval) })
	}
	if badgerLog, ok := app.history.(*history.BadgerLog); ok && app.config.History.GCInterval > 0 {
		app.goBackground(func() { badgerLog.RunGC(bgCtx, app.config.History.GCInterval) })
	}

	// STEP 2: Serve HTTP
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.log.Error("HTTP server error", "error", err)
		}
	}()

	app.log.Info("Roomchat started",
		"addr", listener.Addr().String(),
		"history", app.config.History.Backend,
		"limiter", app.config.Limiter.Backend)
	return nil
}

func (app *Application) goBackground(fn func()) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		fn()
	}()
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Rooms → Limiter → History
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("Shutting down roomchat")
	var errs []error

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}

	// STEP 2: Close remaining sessions and flush room journals
	if err := app.rooms.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("room shutdown: %w", err))
	}

	// STEP 3: Stop background maintenance
	if app.cancel != nil {
		app.cancel()
	}
	app.wg.Wait()

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}

	// STEP 4: Close history
	if err := app.history.Close(); err != nil {
		errs = append(errs, fmt.Errorf("history close: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		app.log.Error("Shutdown finished with errors", "error", err)
		return err
	}
	app.log.Info("Roomchat shutdown complete")
	return nil
}

// GetAddr returns the address the server listens on, the configured one
// until Start has bound it.
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
