package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harborpos/till/internal/broadcast"
	"github.com/harborpos/till/internal/cart"
	"github.com/harborpos/till/internal/config"
	"github.com/harborpos/till/internal/database"
	"github.com/harborpos/till/internal/fetch"
	"github.com/harborpos/till/internal/loader"
	"github.com/harborpos/till/internal/logging"
	"github.com/harborpos/till/internal/poller"
	"github.com/harborpos/till/internal/posapi"
	"github.com/harborpos/till/internal/queue"
	"github.com/harborpos/till/internal/server"
	"github.com/harborpos/till/internal/session"
	"github.com/harborpos/till/internal/state"
	"github.com/harborpos/till/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	snapshots := store.NewSnapshotStore(db)
	creds := store.NewCredentialStore(db)

	client := posapi.NewClient(posapi.Config{
		BaseURL: cfg.Remote.BaseURL,
		Timeout: cfg.Remote.Timeout,
	}, logger)

	q := queue.New(queue.Config{
		MaxConcurrent:  cfg.Queue.MaxConcurrent,
		RequestTimeout: cfg.Queue.RequestTimeout,
		MaxQueueAge:    cfg.Queue.MaxQueueAge,
		DrainDelay:     cfg.Queue.DrainDelay,
	}, logger)
	defer q.Close()

	st := state.New()
	cache := fetch.New(logger)
	ld := loader.New(client, cache, q, st, logger)

	sess := session.New(session.Config{Timeout: cfg.SessionTimeout}, client, st, snapshots, creds, logger)
	pol := poller.New(poller.Config{Interval: cfg.Poll.Interval, MinGap: cfg.Poll.MinGap}, ld, st, sess.FetchShift, logger)
	sess.OnEnd(pol.Stop)

	sched := poller.NewScheduler(logger)
	defer sched.Shutdown()

	hub := broadcast.NewHub(logger)
	engine := cart.New(client, ld, st, sess, hub, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Peer terminals announce mutations; react by invalidating the affected
	// caches so the next read is fresh.
	hub.OnEvent(func(evt broadcast.Event) {
		switch evt.Entity {
		case broadcast.EntityInventory:
			ld.InvalidateMenu()
			go func() {
				if err := ld.Refresh(ctx, loader.DomainMenuItems, loader.DomainCategories); err != nil {
					logger.Warn("menu refresh after peer event failed", "error", err)
				}
			}()
		case broadcast.EntityOrder, broadcast.EntityTable:
			go func() {
				if err := ld.Refresh(ctx, loader.DomainOrders, loader.DomainTables); err != nil {
					logger.Warn("order refresh after peer event failed", "error", err)
				}
			}()
		}
	})

	// Menu data is venue-global, so its staleness timer runs for the life of
	// the process. View-scoped timers are registered by the UI layer.
	sched.Every("menu", cfg.Poll.MenuEvery, func(ctx context.Context) {
		if err := ld.Refresh(ctx, loader.DomainMenuItems, loader.DomainCategories); err != nil {
			logger.Warn("scheduled menu refresh failed", "error", err)
		}
	})

	// Restore a surviving session, then load data in stages. The poll loop
	// only starts when a session came back; otherwise login starts it.
	go func() {
		restored, err := sess.Restore()
		if err != nil {
			logger.Warn("session restore failed", "error", err)
		} else if restored {
			logger.Info("session restored from snapshot")
		}
		if err := ld.Initialize(ctx, loader.InitHooks{
			FetchShift: func(ctx context.Context) error {
				if _, ok := st.User(); !ok {
					return nil
				}
				return sess.FetchShift(ctx)
			},
			StartPoller: func() {
				if _, ok := st.User(); ok {
					pol.Start(ctx)
				}
			},
		}); err != nil {
			logger.Error("initial load failed", "error", err)
		}
	}()

	srv := server.New(st, ld, pol, q, hub, engine, logger)
	sched.Every("ratelimit-gc", time.Hour, func(context.Context) {
		srv.CleanupRateLimiter()
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("till listening", "addr", cfg.ListenAddr, "pos", cfg.Remote.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	pol.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
