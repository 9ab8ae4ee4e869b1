// ABOUTME: JSON snapshot codec for persisted collections
// ABOUTME: Load falls back to seed data on missing or corrupt blobs; save errors are logged and swallowed

package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// snapshotTimeout bounds each best-effort persistence write.
const snapshotTimeout = 5 * time.Second

// LoadCollection reads and decodes the blob stored under key. A missing or
// corrupt blob yields the fallback value: in-memory state must always come up,
// so deserialization failures degrade to seed data instead of aborting startup.
func LoadCollection[T any](ctx context.Context, blobs Blobs, key string, fallback []T, logger *slog.Logger) []T {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := blobs.Get(ctx, key)
	if err == ErrNotFound {
		logger.Info("collection not found, using seed data", "key", key)
		return fallback
	}
	if err != nil {
		logger.Error("failed to load collection, using seed data", "key", key, "error", err)
		return fallback
	}

	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		logger.Error("corrupt collection blob, using seed data", "key", key, "error", err)
		return fallback
	}
	return out
}

// SaveCollection serializes v and writes it under key. Failures are logged
// and swallowed: the in-memory state stays authoritative and the mutation
// that triggered the save is not rolled back.
func SaveCollection(blobs Blobs, key string, v any, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to serialize collection", "key", key, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	if err := blobs.Put(ctx, key, data); err != nil {
		logger.Error("failed to persist collection", "key", key, "error", err)
	}
}
