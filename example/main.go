package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/evahq/webhooks"
	"github.com/evahq/webhooks/httpapi"
	"github.com/evahq/webhooks/storage/sqlstore"
)

const defaultDSN = "root:password@tcp(localhost:3306)/eva_webhooks?parseTime=true"

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	dsn := os.Getenv("WEBHOOKS_DB_DSN")
	if dsn == "" {
		dsn = defaultDSN
	}
	addr := os.Getenv("WEBHOOKS_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	// API_KEYS would normally come from IAM; a static key keeps the
	// example runnable out of the box.
	apiKeys := map[string]string{"tenant-key-123": "tenant1"}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal("Failed to ping database", zap.Error(err))
	}

	store := sqlstore.NewSQLStore(db, logger)
	if err := store.EnsureTables(context.Background()); err != nil {
		logger.Fatal("Failed to ensure tables", zap.Error(err))
	}

	// 1. The delivery service: queue, worker pool, retries, ledger.
	service := webhooks.New(store,
		webhooks.WithLogger(logger),
		webhooks.WithWorkerCount(8),
		webhooks.WithMetrics(webhooks.NewOpenTelemetryMetricsCollector()),
	)
	service.Start()

	// 2. A janitor pruning delivery logs and processed dead letters.
	cleanup := webhooks.NewCleanupService(store, logger, nil, 30*24*time.Hour, 7*24*time.Hour)
	janitor := webhooks.NewBaseWorker("cleanup", 1*time.Hour, logger, cleanup.Cleanup)

	// 3. The management API.
	handler := httpapi.NewHandler(store, service, logger)
	server := &http.Server{Addr: addr, Handler: httpapi.NewRouter(handler, apiKeys)}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go janitor.Start(ctx)
	go func() {
		logger.Info("Management API listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	// Emit a sample event stream so deliveries are observable end to end.
	go emitSampleEvents(ctx, service, logger)

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}
	janitor.Stop()
	service.Stop()
	logger.Info("Shutdown complete")
}

func emitSampleEvents(ctx context.Context, service *webhooks.Service, logger *zap.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			event, err := webhooks.NewEvent(webhooks.EventSpaceCreated, "tenant1", map[string]any{
				"id":   "space_demo",
				"name": "Demo Space",
			})
			if err != nil {
				logger.Error("Failed to build sample event", zap.Error(err))
				continue
			}
			notified := service.Broadcast(ctx, event.EventType, event, event.TenantID)
			logger.Info("Sample event broadcast",
				zap.String("event_id", event.EventID),
				zap.Int("notified", notified))
		}
	}
}
