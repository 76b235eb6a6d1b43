// Package postgres provides the networked snapshot storage backend.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/emberforge/playervault/internal/platform/errors"
	"github.com/emberforge/playervault/internal/vault/domain"
	"github.com/emberforge/playervault/internal/vault/storage"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultOpTimeout      = 5 * time.Second
	insertRetries         = 3
)

// Config describes the networked backend connection.
type Config struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	UseSSL      bool
	ExtraParams string
	// MaxPerPrincipal caps retained snapshots per principal; 0 disables
	// retention.
	MaxPerPrincipal int
	// ConnectTimeout bounds connection establishment; zero selects 5s.
	ConnectTimeout time.Duration
	// OpTimeout bounds each store operation once connected, so a stalled
	// server surfaces as StorageUnavailable instead of blocking the caller;
	// zero selects 5s.
	OpTimeout time.Duration
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return apperrors.New(apperrors.CodeConfigError, "database host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return apperrors.WithMetadata(apperrors.CodeConfigError, "database port out of range",
			map[string]string{"port": fmt.Sprint(c.Port)})
	}
	if strings.TrimSpace(c.Database) == "" {
		return apperrors.New(apperrors.CodeConfigError, "database name is required")
	}
	if strings.TrimSpace(c.User) == "" {
		return apperrors.New(apperrors.CodeConfigError, "database user is required")
	}
	if c.MaxPerPrincipal < 0 {
		return apperrors.New(apperrors.CodeConfigError, "retention cap must not be negative")
	}
	return nil
}

// DSN builds the connection string for the configured database. An empty
// database selects the server's maintenance database.
func (c Config) DSN(database string) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, fmt.Sprint(c.Port)),
		User:   url.UserPassword(c.User, c.Password),
		Path:   "/" + database,
	}
	params := url.Values{}
	if c.UseSSL {
		params.Set("sslmode", "require")
	} else {
		params.Set("sslmode", "disable")
	}
	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	params.Set("connect_timeout", fmt.Sprint(int(timeout.Seconds())))
	query := params.Encode()
	if extra := strings.TrimSpace(c.ExtraParams); extra != "" {
		query += "&" + strings.TrimPrefix(extra, "&")
	}
	u.RawQuery = query
	return u.String()
}

// Store persists snapshots in PostgreSQL.
type Store struct {
	pool            *pgxpool.Pool
	maxPerPrincipal int
	opTimeout       time.Duration
}

// opContext bounds one store operation. The returned cancel must run on every
// exit path.
func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.opTimeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// Open connects to the configured database, creating it first when absent,
// and brings the schema up to date.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := ensureDatabase(ctx, cfg); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.DSN(cfg.Database))
	if err != nil {
		return nil, classify("open pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify("ping database", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	if err := backfillBackupNumbers(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, maxPerPrincipal: cfg.MaxPerPrincipal, opTimeout: cfg.OpTimeout}, nil
}

// ensureDatabase creates the target database via the maintenance database
// when it does not exist yet.
func ensureDatabase(ctx context.Context, cfg Config) error {
	conn, err := pgx.Connect(ctx, cfg.DSN("postgres"))
	if err != nil {
		return classify("connect maintenance database", err)
	}
	defer conn.Close(context.Background())

	var exists bool
	err = conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`,
		cfg.Database).Scan(&exists)
	if err != nil {
		return classify("probe database", err)
	}
	if exists {
		return nil
	}
	// CREATE DATABASE cannot be parameterized; quote the identifier.
	_, err = conn.Exec(ctx,
		fmt.Sprintf(`CREATE DATABASE %s`, quoteIdentifier(cfg.Database)))
	if err != nil && !isDuplicateDatabase(err) {
		return classify("create database", err)
	}
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS snapshots (
    id BIGSERIAL PRIMARY KEY,
    principal_id UUID NOT NULL,
    principal_label TEXT NOT NULL DEFAULT '',
    captured_at BIGINT NOT NULL,
    event_kind TEXT NOT NULL,
    world_id TEXT NOT NULL DEFAULT '',
    pos_x DOUBLE PRECISION NOT NULL DEFAULT 0,
    pos_y DOUBLE PRECISION NOT NULL DEFAULT 0,
    pos_z DOUBLE PRECISION NOT NULL DEFAULT 0,
    xp_level INTEGER NOT NULL DEFAULT 0,
    xp_progress DOUBLE PRECISION NOT NULL DEFAULT 0,
    cause TEXT NOT NULL DEFAULT '',
    sections JSONB NOT NULL DEFAULT '{}'::jsonb
);

ALTER TABLE snapshots ADD COLUMN IF NOT EXISTS backup_number INTEGER NOT NULL DEFAULT 0;

CREATE INDEX IF NOT EXISTS idx_snapshots_principal_captured
    ON snapshots (principal_id, captured_at);

CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_principal_number
    ON snapshots (principal_id, backup_number)
    WHERE backup_number > 0;
`

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return classify("init schema", err)
	}
	return nil
}

func backfillBackupNumbers(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return classify("begin backfill", err)
	}
	defer tx.Rollback(context.Background())

	_, err = tx.Exec(ctx, `
WITH numbered AS (
    SELECT id,
           (SELECT COALESCE(MAX(backup_number), 0)
              FROM snapshots prior
             WHERE prior.principal_id = s.principal_id) +
           ROW_NUMBER() OVER (PARTITION BY principal_id ORDER BY captured_at ASC, id ASC) AS seq
      FROM snapshots s
     WHERE backup_number = 0
)
UPDATE snapshots
   SET backup_number = numbered.seq
  FROM numbered
 WHERE snapshots.id = numbered.id`)
	if err != nil {
		return classify("backfill backup numbers", err)
	}
	return tx.Commit(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Insert stores one snapshot, assigning its ID and per-principal backup
// number under a per-principal advisory lock and evicting rows past the
// retention cap in the same transaction.
func (s *Store) Insert(ctx context.Context, snapshot *domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.pool == nil {
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

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < insertRetries; attempt++ {
		id, number, err := s.insertOnce(ctx, snapshot, capturedAt, sectionsJSON)
		if err == nil {
			snapshot.ID = id
			snapshot.BackupNumber = number
			snapshot.CapturedAt = capturedAt
			return nil
		}
		if !isUniqueViolation(err) {
			return err
		}
		lastErr = err
	}
	return apperrors.Wrap(apperrors.CodeConflict, "concurrent snapshot insert", lastErr)
}

func (s *Store) insertOnce(ctx context.Context, snapshot *domain.Snapshot, capturedAt time.Time, sectionsJSON []byte) (int64, int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, classify("begin insert", err)
	}
	defer tx.Rollback(context.Background())

	principalID := snapshot.PrincipalID.String()

	// Serialize number assignment per principal across the cluster. The lock
	// releases at commit or rollback.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, principalID); err != nil {
		return 0, 0, classify("acquire principal lock", err)
	}

	var number int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(backup_number), 0) + 1 FROM snapshots WHERE principal_id = $1`,
		principalID).Scan(&number)
	if err != nil {
		return 0, 0, classify("next backup number", err)
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO snapshots (
		   principal_id, principal_label, backup_number, captured_at,
		   event_kind, world_id, pos_x, pos_y, pos_z,
		   xp_level, xp_progress, cause, sections
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id`,
		principalID,
		strings.TrimSpace(snapshot.PrincipalLabel),
		number,
		capturedAt.UTC().UnixMilli(),
		string(snapshot.EventKind),
		snapshot.WorldID,
		snapshot.PosX,
		snapshot.PosY,
		snapshot.PosZ,
		snapshot.XPLevel,
		snapshot.XPProgress,
		snapshot.Cause,
		sectionsJSON,
	).Scan(&id)
	if err != nil {
		return 0, 0, classify("insert snapshot", err)
	}

	if s.maxPerPrincipal > 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM snapshots
			  WHERE id IN (
			    SELECT id FROM snapshots
			     WHERE principal_id = $1
			     ORDER BY captured_at ASC, id ASC
			     LIMIT GREATEST((SELECT COUNT(*) FROM snapshots WHERE principal_id = $1) - $2, 0)
			  )`,
			principalID, s.maxPerPrincipal); err != nil {
			return 0, 0, classify("enforce retention", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, classify("commit insert", err)
	}
	return id, number, nil
}

// List returns the principal's snapshots newest-first.
func (s *Store) List(ctx context.Context, principal uuid.UUID) ([]domain.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if principal == uuid.Nil {
		return nil, fmt.Errorf("principal id is required")
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT backup_number, captured_at, event_kind, world_id
		   FROM snapshots
		  WHERE principal_id = $1
		  ORDER BY backup_number DESC`,
		principal.String())
	if err != nil {
		return nil, classify("list snapshots", err)
	}
	defer rows.Close()

	var summaries []domain.Summary
	for rows.Next() {
		var summary domain.Summary
		var capturedAt int64
		var kind string
		if err := rows.Scan(&summary.BackupNumber, &capturedAt, &kind, &summary.WorldID); err != nil {
			return nil, classify("list snapshots", err)
		}
		summary.CapturedAt = time.UnixMilli(capturedAt).UTC()
		summary.EventKind = domain.EventKind(kind)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list snapshots", err)
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
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if principal == uuid.Nil {
		return nil, fmt.Errorf("principal id is required")
	}
	if number <= 0 {
		return nil, storage.ErrNotFound
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+`
		   FROM snapshots
		  WHERE principal_id = $1 AND backup_number = $2`,
		principal.String(), number)
	return scanSnapshot(row)
}

// GetByID loads one snapshot by its global row ID.
func (s *Store) GetByID(ctx context.Context, id int64) (*domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE id = $1`, id)
	return scanSnapshot(row)
}

// DeleteAll removes every snapshot of the principal.
func (s *Store) DeleteAll(ctx context.Context, principal uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if principal == uuid.Nil {
		return 0, fmt.Errorf("principal id is required")
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM snapshots WHERE principal_id = $1`, principal.String())
	if err != nil {
		return 0, classify("delete snapshots", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanSnapshot(row pgx.Row) (*domain.Snapshot, error) {
	var snapshot domain.Snapshot
	var principalID string
	var capturedAt int64
	var kind string
	var sectionsJSON []byte
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
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, classify("load snapshot", err)
	}

	parsed, err := uuid.Parse(principalID)
	if err != nil {
		return nil, fmt.Errorf("parse principal id %q: %w", principalID, err)
	}
	snapshot.PrincipalID = parsed
	snapshot.CapturedAt = time.UnixMilli(capturedAt).UTC()
	snapshot.EventKind = domain.EventKind(kind)
	if err := json.Unmarshal(sectionsJSON, &snapshot.Sections); err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}
	return &snapshot, nil
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// classify maps driver errors onto domain codes. Timezone misconfiguration
// surfaces as a config error because it requires operator action, not a
// retry.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.CodeStorageUnavailable, op+": operation timed out", err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return apperrors.Wrap(apperrors.CodeConflict, op, err)
		case isTimezoneError(pgErr):
			return apperrors.Wrap(apperrors.CodeConfigError, op+": server time zone misconfigured", err)
		case pgErr.Code == "28P01" || pgErr.Code == "28000":
			return apperrors.Wrap(apperrors.CodeConfigError, op+": authentication failed", err)
		case pgErr.Code == "3D000":
			return apperrors.Wrap(apperrors.CodeConfigError, op+": database does not exist", err)
		}
	}
	return apperrors.Wrap(apperrors.CodeStorageUnavailable, op, err)
}

func isTimezoneError(pgErr *pgconn.PgError) bool {
	if pgErr.Code != "22023" && pgErr.Code != "42704" {
		return false
	}
	return strings.Contains(strings.ToLower(pgErr.Message), "time zone")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return apperrors.CodeOf(err) == apperrors.CodeConflict
}

func isDuplicateDatabase(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P04"
	}
	return false
}

var _ storage.Store = (*Store)(nil)
