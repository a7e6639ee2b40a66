package repository

import (
	"context"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"receipttrack/internal/common"
)

// Open opens the BadgerDB document store. With InMemory set no files are
// touched, which is what the tests use.
func Open(cfg common.StoreConfig, logger *slog.Logger) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLoggingLevel(badger.ERROR)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR)
	}

	logger.Info("opening document store", "path", cfg.Path, "in_memory", cfg.InMemory)
	db, err := badger.Open(opts)
	if err != nil {
		logger.Error("failed to open document store", "path", cfg.Path, "error", err)
		return nil, common.StorageErrorf(err, "open store at %q", cfg.Path)
	}
	logger.Info("document store opened")
	return db, nil
}

// Close closes the store gracefully.
func Close(db *badger.DB, logger *slog.Logger) {
	if db == nil {
		return
	}
	logger.Info("closing document store")
	if err := db.Close(); err != nil {
		logger.Error("failed to close document store", "error", err)
		return
	}
	logger.Info("document store closed")
}

// HealthCheck verifies the store is open and readable.
func HealthCheck(ctx context.Context, db *badger.DB, logger *slog.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if db.IsClosed() {
		logger.Error("document store health check failed: store closed")
		return common.StorageErrorf(badger.ErrDBClosed, "health check")
	}
	err := db.View(func(txn *badger.Txn) error { return nil })
	if err != nil {
		logger.Error("document store health check failed", "error", err)
		return common.StorageErrorf(err, "health check")
	}
	logger.Debug("document store health check ok")
	return nil
}
