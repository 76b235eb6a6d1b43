// Package sqlite provides the embedded snapshot storage backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	apperrors "github.com/emberforge/playervault/internal/platform/errors"
	sqlitemigrate "github.com/emberforge/playervault/internal/platform/storage/sqlitemigrate"
	"github.com/emberforge/playervault/internal/vault/domain"
	"github.com/emberforge/playervault/internal/vault/storage"
	"github.com/emberforge/playervault/internal/vault/storage/sqlite/migrations"
)

// insertRetries bounds retries when a concurrent insert claims the same
// backup number.
const insertRetries = 3

// Store persists snapshots in SQLite.
type Store struct {
	sqlDB *sql.DB
	// maxPerPrincipal caps retained snapshots per principal; 0 disables
	// retention.
	maxPerPrincipal int
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (creating the directory if needed) a SQLite snapshot store,
// applies embedded migrations, and backfills backup numbers on rows written
// before numbering existed.
func Open(path string, maxPerPrincipal int) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if maxPerPrincipal < 0 {
		return nil, fmt.Errorf("retention cap must not be negative")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serializes writers; backup-number assignment then never
	// races within a process.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if err := backfillBackupNumbers(context.Background(), sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("backfill backup numbers: %w", err)
	}
	return &Store{sqlDB: sqlDB, maxPerPrincipal: maxPerPrincipal}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Insert stores one snapshot, assigning its ID and per-principal backup
// number and evicting the oldest rows past the retention cap in the same
// transaction.
func (s *Store) Insert(ctx context.Context, snapshot *domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}
	if snapshot.PrincipalID == uuid.Nil {
		return fmt.Errorf("principal id is required")
	}
	if !snapshot.EventKind.Valid() {
		return fmt.Errorf("event kind %q is not recognized", snapshot.EventKind)
	}
	capturedAt := snapshot.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}
	sectionsJSON, err := json.Marshal(snapshot.Sections)
	if err != nil {
		return fmt.Errorf("encode sections: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < insertRetries; attempt++ {
		id, number, err := s.insertOnce(ctx, snapshot, capturedAt, string(sectionsJSON))
		if err == nil {
			snapshot.ID = id
			snapshot.BackupNumber = number
			snapshot.CapturedAt = capturedAt
			return nil
		}
		if !isBackupNumberViolation(err) {
			return err
		}
		lastErr = err
	}
	return apperrors.Wrap(apperrors.CodeConflict, "concurrent snapshot insert", lastErr)
}

func (s *Store) insertOnce(ctx context.Context, snapshot *domain.Snapshot, capturedAt time.Time, sectionsJSON string) (int64, int, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	principalID := snapshot.PrincipalID.String()

	var number int
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(backup_number), 0) + 1 FROM snapshots WHERE principal_id = ?`,
		principalID,
	)
	if err := row.Scan(&number); err != nil {
		return 0, 0, fmt.Errorf("next backup number: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (
		   principal_id, principal_label, backup_number, captured_at,
		   event_kind, world_id, pos_x, pos_y, pos_z,
		   xp_level, xp_progress, cause, sections
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		principalID,
		strings.TrimSpace(snapshot.PrincipalLabel),
		number,
		toMillis(capturedAt),
		string(snapshot.EventKind),
		snapshot.WorldID,
		snapshot.PosX,
		snapshot.PosY,
		snapshot.PosZ,
		snapshot.XPLevel,
		snapshot.XPProgress,
		snapshot.Cause,
		sectionsJSON,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, 0, fmt.Errorf("insert snapshot id: %w", err)
	}

	if s.maxPerPrincipal > 0 {
		var count int
		row := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM snapshots WHERE principal_id = ?`, principalID)
		if err := row.Scan(&count); err != nil {
			return 0, 0, fmt.Errorf("count snapshots: %w", err)
		}
		if excess := count - s.maxPerPrincipal; excess > 0 {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM snapshots
				  WHERE id IN (
				    SELECT id FROM snapshots
				     WHERE principal_id = ?
				     ORDER BY captured_at ASC, id ASC
				     LIMIT ?
				  )`,
				principalID, excess,
			); err != nil {
				return 0, 0, fmt.Errorf("enforce retention: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit insert: %w", err)
	}
	return id, number, nil
}

// List returns the principal's snapshots newest-first.
func (s *Store) List(ctx context.Context, principal uuid.UUID) ([]domain.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if principal == uuid.Nil {
		return nil, fmt.Errorf("principal id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT backup_number, captured_at, event_kind, world_id
		   FROM snapshots
		  WHERE principal_id = ?
		  ORDER BY backup_number DESC`,
		principal.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var summaries []domain.Summary
	for rows.Next() {
		var summary domain.Summary
		var capturedAt int64
		var kind string
		if err := rows.Scan(&summary.BackupNumber, &capturedAt, &kind, &summary.WorldID); err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		summary.CapturedAt = fromMillis(capturedAt)
		summary.EventKind = domain.EventKind(kind)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return summaries, nil
}

const snapshotColumns = `id, principal_id, principal_label, backup_number, captured_at,
        event_kind, world_id, pos_x, pos_y, pos_z,
        xp_level, xp_progress, cause, sections`

// GetByNumber loads one snapshot by its per-principal backup number.
func (s *Store) GetByNumber(ctx context.Context, principal uuid.UUID, number int) (*domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if principal == uuid.Nil {
		return nil, fmt.Errorf("principal id is required")
	}
	if number <= 0 {
		return nil, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+`
		   FROM snapshots
		  WHERE principal_id = ? AND backup_number = ?`,
		principal.String(), number,
	)
	return scanSnapshot(row)
}

// GetByID loads one snapshot by its global row ID.
func (s *Store) GetByID(ctx context.Context, id int64) (*domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id)
	return scanSnapshot(row)
}

// DeleteAll removes every snapshot of the principal.
func (s *Store) DeleteAll(ctx context.Context, principal uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if principal == uuid.Nil {
		return 0, fmt.Errorf("principal id is required")
	}

	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM snapshots WHERE principal_id = ?`, principal.String())
	if err != nil {
		return 0, fmt.Errorf("delete snapshots: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete snapshots: %w", err)
	}
	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*domain.Snapshot, error) {
	var snapshot domain.Snapshot
	var principalID string
	var capturedAt int64
	var kind string
	var sectionsJSON string
	err := row.Scan(
		&snapshot.ID,
		&principalID,
		&snapshot.PrincipalLabel,
		&snapshot.BackupNumber,
		&capturedAt,
		&kind,
		&snapshot.WorldID,
		&snapshot.PosX,
		&snapshot.PosY,
		&snapshot.PosZ,
		&snapshot.XPLevel,
		&snapshot.XPProgress,
		&snapshot.Cause,
		&sectionsJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	parsed, err := uuid.Parse(principalID)
	if err != nil {
		return nil, fmt.Errorf("parse principal id %q: %w", principalID, err)
	}
	snapshot.PrincipalID = parsed
	snapshot.CapturedAt = fromMillis(capturedAt)
	snapshot.EventKind = domain.EventKind(kind)
	if err := json.Unmarshal([]byte(sectionsJSON), &snapshot.Sections); err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}
	return &snapshot, nil
}

// backfillBackupNumbers assigns numbers to rows written before the
// backup_number column existed, in captured order per principal. Idempotent:
// only rows still at 0 are touched.
func backfillBackupNumbers(ctx context.Context, sqlDB *sql.DB) error {
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin backfill: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, principal_id FROM snapshots
		  WHERE backup_number = 0
		  ORDER BY principal_id, captured_at ASC, id ASC`)
	if err != nil {
		return fmt.Errorf("scan unnumbered rows: %w", err)
	}
	type pending struct {
		id        int64
		principal string
	}
	var unnumbered []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.principal); err != nil {
			rows.Close()
			return fmt.Errorf("scan unnumbered rows: %w", err)
		}
		unnumbered = append(unnumbered, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scan unnumbered rows: %w", err)
	}
	if len(unnumbered) == 0 {
		return nil
	}

	next := map[string]int{}
	for _, p := range unnumbered {
		if _, ok := next[p.principal]; !ok {
			var max int
			row := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(backup_number), 0) FROM snapshots WHERE principal_id = ?`,
				p.principal)
			if err := row.Scan(&max); err != nil {
				return fmt.Errorf("current max for %s: %w", p.principal, err)
			}
			next[p.principal] = max + 1
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE snapshots SET backup_number = ? WHERE id = ?`,
			next[p.principal], p.id); err != nil {
			return fmt.Errorf("number row %d: %w", p.id, err)
		}
		next[p.principal]++
	}
	return tx.Commit()
}

func isBackupNumberViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, "snapshots.backup_number")
}

var _ storage.Store = (*Store)(nil)
