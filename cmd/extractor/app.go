package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/extraction/internal/extraction"
	"github.com/JonMunkholm/extraction/internal/extraction/formats"
	"github.com/JonMunkholm/extraction/internal/sqldb"
	"github.com/JonMunkholm/extraction/internal/store"
)

// shutdownTimeout bounds the wait for running executions and cleanups on exit.
const shutdownTimeout = 30 * time.Second

// app holds the engine wired from the loaded configuration.
type app struct {
	db       *sqldb.DB
	products *store.ProductStore
	service  *extraction.Service
}

func openDB(ctx context.Context) (*sqldb.DB, error) {
	db, err := sqldb.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	slog.Info("connected to database", "pool", cfg.Database.PoolSummary())
	return db, nil
}

func openApp(ctx context.Context) (*app, error) {
	db, err := openDB(ctx)
	if err != nil {
		return nil, err
	}

	registry := extraction.NewRegistry()
	formats.RegisterAll(registry, cfg.Extraction.PreviewLimit)
	slog.Debug("formats registered", "count", registry.Count())

	products := store.NewProductStore(db)
	return &app{
		db:       db,
		products: products,
		service:  extraction.NewService(db, registry, products, cfg),
	}, nil
}

// Close waits for pending table cleanups, then closes the database.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.service.Shutdown(ctx); err != nil {
		slog.Warn("executions did not complete in time", "error", err)
	}
	if err := a.db.Close(); err != nil {
		slog.Error("close database", "error", err)
	}
}
