package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"repairflow/auth"
	"repairflow/config"
	"repairflow/contractor"
	"repairflow/db"
	"repairflow/db/migrations"
	"repairflow/hrdoc"
	"repairflow/logging"
	"repairflow/notify"
	"repairflow/outbox"
	"repairflow/request"
	"repairflow/verification"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("repairflow: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("REPAIRFLOW_CONFIG"))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Database.MigrateOnStart {
		if err := migrations.Up(ctx, cfg.Database.URL); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	writer := outbox.NewWriter()
	profiles := contractor.NewRepository(pool)
	verifications := verification.NewService(pool, verification.NewRepository(pool), profiles, writer).
		WithLogger(logger.Named("verification"))

	server := &Server{
		authService:         auth.NewService(auth.NewRepository(pool), cfg.Auth.JWTSecret).WithTokenTTL(cfg.Auth.TokenTTL),
		requestService:      request.NewService(pool, request.NewRepository(pool), verifications, writer).WithLogger(logger.Named("request")),
		contractorService:   contractor.NewService(profiles),
		verificationService: verifications,
		documentService:     hrdoc.NewService(pool, hrdoc.NewRepository(pool), verifications, writer).WithLogger(logger.Named("hrdoc")),
		requestTimeout:      cfg.HTTP.RequestTimeout,
		logger:              logger.Named("http"),
	}

	notifier, closeNotifier, err := buildNotifier(cfg.Valkey, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	relay := outbox.NewRelay(pool, outbox.NewPGStore(), notifier).
		WithBatchSize(cfg.Outbox.BatchSize).
		WithMaxAttempts(cfg.Outbox.MaxAttempts).
		WithLogger(logger.Named("outbox"))

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Outbox.Schedule, func() { relay.Run(ctx) }); err != nil {
		return fmt.Errorf("schedule outbox relay %q: %w", cfg.Outbox.Schedule, err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: server.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// buildNotifier always logs events and also publishes them to valkey when an
// address is configured.
func buildNotifier(cfg config.ValkeyConfig, logger *zap.Logger) (notify.Notifier, func(), error) {
	logNotifier := notify.NewLogNotifier(logger.Named("notify"))
	if cfg.Addr == "" {
		return logNotifier, func() {}, nil
	}
	client, err := notify.DialValkey(cfg.Addr)
	if err != nil {
		return nil, nil, err
	}
	return notify.Fanout{logNotifier, notify.NewValkeyNotifier(client, cfg.Channel)}, client.Close, nil
}
