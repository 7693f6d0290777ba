package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"

	domrepo "quantiv/internal/domain/repository"
	"quantiv/internal/usecase"
	"quantiv/pkg/config"
	xhttp "quantiv/pkg/http"
	pkgkafka "quantiv/pkg/kafka"
	applogger "quantiv/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	log         *applogger.Logger
	httpHandler xhttp.Handler
	httpServer  *xhttp.Server
	stores      []domrepo.ForecastStore
	pipeline    *usecase.Pipeline
	publisher   domrepo.ForecastPublisher
	consumer    *pkgkafka.Consumer
	kh          pkgkafka.MessageHandler
	scheduler   *gocron.Scheduler
}

// New creates a new App instance with all dependencies. Consumer, publisher
// and pipeline are optional; a nil value disables the corresponding piece.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	httpHandler xhttp.Handler,
	stores []domrepo.ForecastStore,
	pipeline *usecase.Pipeline,
	publisher domrepo.ForecastPublisher,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
) *App {
	return &App{
		cfg:         cfg,
		log:         log,
		httpHandler: httpHandler,
		stores:      stores,
		pipeline:    pipeline,
		publisher:   publisher,
		consumer:    consumer,
		kh:          kh,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize store schemas before anything serves or writes.
	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	defer initCancel()
	for _, store := range a.stores {
		if err := store.Init(initCtx); err != nil {
			a.log.Error("store init failed", applogger.String("store", store.Name()), applogger.Error(err))
			return err
		}
		a.log.Info("store ready", applogger.String("store", store.Name()))
	}

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)

	// Scheduled generation cycle
	if a.pipeline != nil && a.cfg.Pipeline.Enabled {
		a.scheduler = gocron.NewScheduler(time.UTC)
		_, err := a.scheduler.Every(a.cfg.Pipeline.Interval).Do(func() {
			runCtx, runCancel := context.WithTimeout(ctx, a.cfg.Pipeline.Interval)
			defer runCancel()
			if err := a.pipeline.Run(runCtx); err != nil {
				a.log.Error("generation cycle failed", applogger.Error(err))
			}
		})
		if err != nil {
			a.log.Error("scheduler setup failed", applogger.Error(err))
			return err
		}
		a.scheduler.StartAsync()
		a.log.Info("generation cycle scheduled", applogger.Duration("interval", a.cfg.Pipeline.Interval))
	}

	// Kafka ingress
	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka ingress started", applogger.String("topic", a.kh.Topic()))
	}

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn("publisher close error", applogger.Error(err))
		}
	}

	for _, store := range a.stores {
		if err := store.Close(); err != nil {
			a.log.Warn("store close error", applogger.String("store", store.Name()), applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
