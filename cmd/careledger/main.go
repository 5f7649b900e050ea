package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/savegress/careledger/internal/api"
	"github.com/savegress/careledger/internal/audit"
	"github.com/savegress/careledger/internal/cache"
	"github.com/savegress/careledger/internal/config"
	"github.com/savegress/careledger/internal/consent"
	"github.com/savegress/careledger/internal/database"
	"github.com/savegress/careledger/internal/identity"
	"github.com/savegress/careledger/internal/ledger"
	"github.com/savegress/careledger/internal/records"
	"github.com/savegress/careledger/internal/ws"
	"github.com/savegress/careledger/pkg/workerpool"
)

func main() {
	log.Println("Starting CareLedger...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := database.New(cfg.DatabaseURL, int32(cfg.DBMaxConns))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Redis-backed roster cache
	redisCache, err := cache.New(cfg.RedisURL, cfg.CacheEnabled)
	if err != nil {
		log.Printf("Cache unavailable, continuing without it: %v", err)
		redisCache, _ = cache.New("", false)
	}

	// Ledger gateway
	gateway, err := ledger.Dial(cfg.LedgerRPCURL, cfg.ContractAddress, cfg.LedgerCallTimeout)
	if err != nil {
		log.Fatalf("Failed to connect to ledger: %v", err)
	}
	defer gateway.Close()

	// Identity directory
	directory := identity.New(db, redisCache, cfg.RosterCacheTTL)

	// Audit trail
	auditLog := audit.NewLogger(cfg.AuditEnabled)
	if err := auditLog.Start(ctx); err != nil {
		log.Fatalf("Failed to start audit logger: %v", err)
	}
	defer auditLog.Stop()

	// Worker pool for the consent fan-out
	pool, err := workerpool.New(workerpool.Config{
		Workers:         cfg.FanoutWorkers,
		QueueSize:       cfg.FanoutWorkers * 16,
		ShutdownTimeout: 10 * time.Second,
		ErrorHandler: func(err error) {
			log.Printf("fan-out task error: %v", err)
		},
	})
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer pool.Stop()

	// Consent event stream
	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	// Services
	recordSvc := records.New(gateway, auditLog)
	consentSvc := consent.New(gateway, directory, pool, auditLog, hub)

	// HTTP server
	handlers := api.NewHandlers(cfg, db, recordSvc, consentSvc, auditLog, hub, directory, redisCache)
	server := api.NewServer(cfg, handlers, directory, redisCache)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("CareLedger API listening on port %d", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down CareLedger...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("CareLedger stopped")
}
