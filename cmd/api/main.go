package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"idvault.org/internal/auth"
	"idvault.org/internal/httpapi"
	"idvault.org/internal/obs"
	"idvault.org/internal/store/mem"
	"idvault.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Хранилище: PostgreSQL, если задан DSN, иначе in-memory (dev режим)
	var (
		store   auth.Store
		pgStore *pg.Store
	)
	if dsn := os.Getenv("IDVAULT_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
	} else {
		log.Println("IDVAULT_PG_DSN not set, using in-memory store")
		store = mem.New()
	}

	var opts []auth.ServiceOption
	if raw := os.Getenv("IDVAULT_TOKEN_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse IDVAULT_TOKEN_TTL: %v", err)
		}
		opts = append(opts, auth.WithTokenTTL(ttl))
	}
	svc, err := auth.NewService(store, opts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := svc.EnsureBuiltins(ctx); err != nil {
		cancel()
		log.Fatalf("seed permission catalog: %v", err)
	}
	cancel()

	// HTTP API
	probe := httpapi.ReadyProbe{}
	if pgStore != nil {
		probe.DB = pgStore.DB()
	}
	api := httpapi.New(probe, version, svc)

	addr := os.Getenv("IDVAULT_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(), // уже обёрнут метриками в httpapi
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting idvault-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
