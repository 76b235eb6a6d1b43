// Package storage defines the snapshot persistence contract shared by the
// sqlite and postgres backends.
package storage

import (
	"context"

	"github.com/google/uuid"

	apperrors "github.com/emberforge/playervault/internal/platform/errors"
	"github.com/emberforge/playervault/internal/vault/domain"
)

// Sentinel errors. Backends return these (or errors matching them by code)
// so callers stay driver-agnostic.
var (
	ErrNotFound    = apperrors.New(apperrors.CodeNotFound, "snapshot not found")
	ErrConflict    = apperrors.New(apperrors.CodeConflict, "concurrent snapshot insert")
	ErrUnavailable = apperrors.New(apperrors.CodeStorageUnavailable, "storage unavailable")
)

// Store persists immutable snapshots.
//
// Insert assigns the record's ID and per-principal BackupNumber (contiguous
// from 1, in captured order) and enforces the retention cap in the same
// transaction, evicting oldest-first. Backup numbers are never reused while
// newer snapshots exist; listings therefore stay stable across evictions.
type Store interface {
	Insert(ctx context.Context, snapshot *domain.Snapshot) error
	// List returns the principal's snapshots newest-first.
	List(ctx context.Context, principal uuid.UUID) ([]domain.Summary, error)
	// GetByNumber loads one snapshot by its per-principal backup number.
	GetByNumber(ctx context.Context, principal uuid.UUID, number int) (*domain.Snapshot, error)
	// GetByID loads one snapshot by its global row ID.
	GetByID(ctx context.Context, id int64) (*domain.Snapshot, error)
	// DeleteAll removes every snapshot of the principal and reports how many
	// rows were removed. The next insert restarts numbering at 1.
	DeleteAll(ctx context.Context, principal uuid.UUID) (int, error)
	Close() error
}
