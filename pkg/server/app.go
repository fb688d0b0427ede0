package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"MarketPulse/internal/handler/api"
	"MarketPulse/internal/service/auth"
	"MarketPulse/internal/service/credential"
	"MarketPulse/internal/service/metricscache"
	"MarketPulse/internal/usecase"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	applogger "MarketPulse/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	log         *applogger.Logger
	watcher     *credential.Watcher
	auth        *auth.Machine
	metricCache *metricscache.Cache
	registry    *metricscache.RegistryCache
	feed        *usecase.FeedManager
	watchdog    *usecase.Watchdog
	httpServer  *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	watcher *credential.Watcher,
	authMachine *auth.Machine,
	metricCache *metricscache.Cache,
	registry *metricscache.RegistryCache,
	feed *usecase.FeedManager,
	watchdog *usecase.Watchdog,
) *App {
	return &App{
		cfg:         cfg,
		log:         log,
		watcher:     watcher,
		auth:        authMachine,
		metricCache: metricCache,
		registry:    registry,
		feed:        feed,
		watchdog:    watchdog,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// wire the change fan-out: credential store -> auth machine -> consumers
	a.watcher.OnChange(func(ch credential.Change) {
		a.auth.HandleChange(ctx, ch)
	})
	a.auth.OnChange(a.feed.OnAuthChange)
	a.auth.OnChange(a.metricCache.OnAuthChange)

	handler := api.NewStatusEchoHandler(a.log, a.feed, a.watchdog, a.metricCache, a.registry, a.auth)
	a.httpServer = xhttp.NewServer(handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)

	a.auth.Start(ctx)
	a.watcher.Start(ctx)
	a.metricCache.Start(ctx)
	a.feed.Start(ctx)
	a.watchdog.Start(ctx)

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("started",
		applogger.String("env", a.cfg.Environment),
		applogger.Strings("symbols", a.cfg.Upstream.Symbols),
		applogger.Int("port", a.cfg.Server.Port))

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	a.watchdog.Stop()
	a.feed.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	a.log.Info("shutdown complete")
	return nil
}
