package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tenantdesk/internal/domain/chat"
	"tenantdesk/internal/infra/config"
	"tenantdesk/internal/infra/obs"
	"tenantdesk/internal/infra/stubserver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger := obs.NewLogger("dev")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	store := stubserver.NewStore()
	seed(store)

	registry := stubserver.NewRegistry(logger)
	handler := stubserver.NewHandler(store, registry, logger)
	router := stubserver.NewRouter(handler, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Ready: func() error { return nil },
	}, cfg.Env)
	server := stubserver.NewServer(cfg.HTTPAddr, router)

	go func() {
		<-ctx.Done()
		registry.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("stub backend starting", "addr", cfg.HTTPAddr, "env", cfg.Env)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("stub backend stopped")
}

// seed provides a demo building: one manager, one technician, two residents.
func seed(store *stubserver.Store) {
	store.AddUser(stubserver.User{ID: "manager", Name: "Building Manager", Role: chat.RoleAdmin})
	store.AddUser(stubserver.User{ID: "tech", Name: "Maintenance Technician", Role: chat.RoleStaff})
	store.AddUser(stubserver.User{ID: "alice", Name: "Alice (Apt 12)", Role: chat.RoleResident})
	store.AddUser(stubserver.User{ID: "bob", Name: "Bob (Apt 4)", Role: chat.RoleResident})
}
