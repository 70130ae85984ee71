package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/story-refiner/internal/domain"
	"github.com/ashureev/story-refiner/internal/session"
)

const saveTimeout = 5 * time.Second

// Autosaver mirrors every session change into a Repository.
type Autosaver struct {
	repo   Repository
	store  *session.Store
	key    string
	logger *slog.Logger
}

// NewAutosaver creates an autosaver writing store snapshots under key.
func NewAutosaver(repo Repository, store *session.Store, key string, logger *slog.Logger) *Autosaver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Autosaver{
		repo:   repo,
		store:  store,
		key:    key,
		logger: logger.With("snapshot_key", key),
	}
}

// Restore loads the saved snapshot into the session store. It reports
// whether a snapshot was found.
func (a *Autosaver) Restore(ctx context.Context) (bool, error) {
	snap, err := a.repo.GetSnapshot(ctx, a.key)
	if err != nil {
		return false, fmt.Errorf("restore session: %w", err)
	}
	if snap == nil {
		return false, nil
	}
	a.store.Restore(*snap)
	a.logger.Info("Session restored", "stage", string(snap.Stage), "messages", len(snap.Messages),
		"version", snap.Version)
	return true, nil
}

// Run saves snapshots until ctx is cancelled. Bursts of changes are
// coalesced so only the latest snapshot is written. The final state is
// flushed before Run returns.
func (a *Autosaver) Run(ctx context.Context) {
	updates, cancel := a.store.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			a.save(a.store.Snapshot())
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			a.save(snap)
		}
	}
}

func (a *Autosaver) save(snap domain.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := a.repo.UpsertSnapshot(ctx, a.key, snap); err != nil {
		a.logger.Error("Failed to save session snapshot", "version", snap.Version, "error", err)
	}
}
