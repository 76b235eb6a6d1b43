// Package service implements the snapshot engine: capture on lifecycle
// events, restore, listing, and deletion. All persistence goes through a
// single writer goroutine so captures serialize regardless of which host
// thread triggered them.
package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/emberforge/playervault/internal/platform/errors"
	"github.com/emberforge/playervault/internal/host"
	"github.com/emberforge/playervault/internal/vault/adapter"
	"github.com/emberforge/playervault/internal/vault/codec"
	"github.com/emberforge/playervault/internal/vault/domain"
	"github.com/emberforge/playervault/internal/vault/storage"
)

const tracerName = "playervault.vault"

// persistQueueDepth bounds captures waiting on the writer before callers
// block.
const persistQueueDepth = 16

// Config carries the event toggles.
type Config struct {
	CaptureOnLogin  bool
	CaptureOnLogout bool
	CaptureOnDeath  bool
}

// RestoreResult reports a restore outcome. Failed lists section or adapter
// names that could not be applied; the rest of the snapshot is in place.
type RestoreResult struct {
	Snapshot *domain.Snapshot
	Failed   []string
}

type persistRequest struct {
	ctx      context.Context
	snapshot *domain.Snapshot
	reply    chan error
}

// Service is the snapshot engine.
type Service struct {
	store    storage.Store
	host     host.Host
	registry *adapter.Registry
	logger   *slog.Logger
	tracer   trace.Tracer
	cfg      Config

	persist chan persistRequest

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// New builds the engine and starts its writer goroutine.
func New(store storage.Store, h host.Host, registry *adapter.Registry, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:    store,
		host:     h,
		registry: registry,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		cfg:      cfg,
		persist:  make(chan persistRequest, persistQueueDepth),
		done:     make(chan struct{}),
	}
	go s.runWriter()
	return s
}

// Close stops the writer after draining queued captures.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.persist)
	s.mu.Unlock()
	<-s.done
	return nil
}

func (s *Service) runWriter() {
	defer close(s.done)
	for req := range s.persist {
		err := s.store.Insert(req.ctx, req.snapshot)
		req.reply <- err
	}
}

func (s *Service) enqueue(ctx context.Context, snapshot *domain.Snapshot) error {
	req := persistRequest{ctx: ctx, snapshot: snapshot, reply: make(chan error, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apperrors.New(apperrors.CodeStorageUnavailable, "snapshot engine is closed")
	}
	s.persist <- req
	s.mu.Unlock()

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CaptureEvent captures a snapshot for a lifecycle event, honoring the
// configured toggles. A nil snapshot with nil error means the capture was
// skipped. Logout captures are abandoned once host shutdown has begun: the
// host is already tearing players down and a partial read would persist a
// half-empty inventory.
func (s *Service) CaptureEvent(ctx context.Context, principal uuid.UUID, label string, kind domain.EventKind, cause string) (*domain.Snapshot, error) {
	switch kind {
	case domain.EventLogin:
		if !s.cfg.CaptureOnLogin {
			return nil, nil
		}
	case domain.EventLogout:
		if !s.cfg.CaptureOnLogout {
			return nil, nil
		}
		if s.host.ShuttingDown() {
			s.logger.Warn("skipping logout capture during shutdown",
				"principal", principal.String())
			return nil, nil
		}
	case domain.EventDeath:
		if !s.cfg.CaptureOnDeath {
			return nil, nil
		}
	}
	return s.Capture(ctx, principal, label, kind, cause)
}

// Capture reads the principal's full state and persists it as a new
// snapshot, returning the stored record with its assigned backup number.
func (s *Service) Capture(ctx context.Context, principal uuid.UUID, label string, kind domain.EventKind, cause string) (*domain.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "vault.capture", trace.WithAttributes(
		attribute.String("principal", principal.String()),
		attribute.String("event", string(kind)),
	))
	defer span.End()

	if !kind.Valid() {
		return nil, apperrors.WithMetadata(apperrors.CodeUnknown, "unrecognized event kind",
			map[string]string{"kind": string(kind)})
	}

	snapshot, err := s.gather(ctx, principal, label, kind, cause)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("capture failed",
			"principal", principal.String(),
			"event", string(kind),
			"error", err)
		return nil, err
	}

	if err := s.enqueue(ctx, snapshot); err != nil {
		span.RecordError(err)
		s.logger.Error("persist failed",
			"principal", principal.String(),
			"event", string(kind),
			"error", err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("backup_number", snapshot.BackupNumber))
	s.logger.Info("snapshot captured",
		"principal", principal.String(),
		"label", label,
		"event", string(kind),
		"backup_number", snapshot.BackupNumber)
	return snapshot, nil
}

func (s *Service) gather(ctx context.Context, principal uuid.UUID, label string, kind domain.EventKind, cause string) (*domain.Snapshot, error) {
	sections := make(map[string]string)
	for _, section := range []struct {
		name string
		read func(context.Context, uuid.UUID) ([]domain.Item, error)
	}{
		{domain.SectionMain, s.host.MainSlots},
		{domain.SectionArmor, s.host.ArmorSlots},
		{domain.SectionOffhand, s.host.OffhandSlots},
		{domain.SectionEnderChest, s.host.EnderChestSlots},
	} {
		items, err := section.read(ctx, principal)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeUnknown, "read "+section.name+" section", err)
		}
		blob, err := codec.EncodeItems(items)
		if err != nil {
			return nil, err
		}
		sections[section.name] = blob
	}

	// Adapter failures leave their sections out of the snapshot; the core
	// sections above are still worth persisting.
	for _, a := range s.registry.All() {
		captured, err := a.Capture(ctx, s.host, principal)
		if err != nil {
			s.logger.Warn("adapter capture failed",
				"principal", principal.String(),
				"adapter", a.Name(),
				"error", err)
			continue
		}
		for name, blob := range captured {
			sections[name] = blob
		}
	}

	level, progress, err := s.host.XP(ctx, principal)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "read xp", err)
	}
	worldID, x, y, z, err := s.host.Location(ctx, principal)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "read location", err)
	}

	return &domain.Snapshot{
		PrincipalID:    principal,
		PrincipalLabel: label,
		EventKind:      kind,
		WorldID:        worldID,
		PosX:           x,
		PosY:           y,
		PosZ:           z,
		XPLevel:        level,
		XPProgress:     progress,
		Cause:          cause,
		Sections:       sections,
	}, nil
}

// Restore replaces the principal's live state with the numbered snapshot.
// Core sections are cleared first so slots empty in the snapshot end up
// empty. Sections that fail to decode or apply are reported in the result
// and skipped; the rest of the restore proceeds.
func (s *Service) Restore(ctx context.Context, principal uuid.UUID, number int) (*RestoreResult, error) {
	ctx, span := s.tracer.Start(ctx, "vault.restore", trace.WithAttributes(
		attribute.String("principal", principal.String()),
		attribute.Int("backup_number", number),
	))
	defer span.End()

	snapshot, err := s.store.GetByNumber(ctx, principal, number)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result := &RestoreResult{Snapshot: snapshot}

	for _, section := range []struct {
		name  string
		clear func(context.Context, uuid.UUID) error
		set   func(context.Context, uuid.UUID, int, domain.Item) error
	}{
		{domain.SectionMain, s.host.ClearMain, s.host.SetMainSlot},
		{domain.SectionArmor, s.host.ClearArmor, s.host.SetArmorSlot},
		{domain.SectionOffhand, s.host.ClearOffhand, s.host.SetOffhandSlot},
		{domain.SectionEnderChest, s.host.ClearEnderChest, s.host.SetEnderChestSlot},
	} {
		if err := s.restoreSection(ctx, principal, snapshot, section.name, section.clear, section.set); err != nil {
			s.logger.Warn("section restore failed",
				"principal", principal.String(),
				"section", section.name,
				"error", err)
			result.Failed = append(result.Failed, section.name)
		}
	}

	for _, a := range s.registry.All() {
		if err := a.Restore(ctx, s.host, principal, snapshot.Sections); err != nil {
			s.logger.Warn("adapter restore failed",
				"principal", principal.String(),
				"adapter", a.Name(),
				"error", err)
			result.Failed = append(result.Failed, a.Name())
		}
	}

	// Stored sections whose adapter is not available on this host cannot be
	// applied; report them so the operator sees a partial restore instead of a
	// clean one.
	for _, name := range s.orphanedSections(snapshot) {
		s.logger.Warn("no adapter available for stored section",
			"principal", principal.String(),
			"section", name,
			"code", string(apperrors.CodeAdapterUnavailable))
		result.Failed = append(result.Failed, name)
	}

	if err := s.host.SetXP(ctx, principal, snapshot.XPLevel, snapshot.XPProgress); err != nil {
		s.logger.Warn("xp restore failed",
			"principal", principal.String(),
			"error", err)
		result.Failed = append(result.Failed, "xp")
	}

	if err := s.host.TriggerUIResync(ctx, principal); err != nil {
		s.logger.Warn("ui resync failed",
			"principal", principal.String(),
			"error", err)
	}

	s.logger.Info("snapshot restored",
		"principal", principal.String(),
		"backup_number", snapshot.BackupNumber,
		"failed_sections", len(result.Failed))
	return result, nil
}

// orphanedSections lists the snapshot's section names that neither the core
// restore path nor any available adapter covers, sorted for stable reporting.
func (s *Service) orphanedSections(snapshot *domain.Snapshot) []string {
	covered := map[string]struct{}{
		domain.SectionMain:       {},
		domain.SectionArmor:      {},
		domain.SectionOffhand:    {},
		domain.SectionEnderChest: {},
	}
	for _, a := range s.registry.All() {
		for _, name := range a.Sections() {
			covered[name] = struct{}{}
		}
	}

	var orphaned []string
	for name := range snapshot.Sections {
		if _, ok := covered[name]; !ok {
			orphaned = append(orphaned, name)
		}
	}
	sort.Strings(orphaned)
	return orphaned
}

func (s *Service) restoreSection(ctx context.Context, principal uuid.UUID, snapshot *domain.Snapshot, name string,
	clear func(context.Context, uuid.UUID) error,
	set func(context.Context, uuid.UUID, int, domain.Item) error) error {

	if err := clear(ctx, principal); err != nil {
		return err
	}
	blob, ok := snapshot.Sections[name]
	if !ok {
		return nil
	}
	items, err := codec.DecodeItems(blob)
	if err != nil {
		return err
	}
	for i, item := range items {
		if item.IsEmpty() {
			continue
		}
		if err := set(ctx, principal, i, item); err != nil {
			return err
		}
	}
	return nil
}

// List returns the principal's snapshots newest-first.
func (s *Service) List(ctx context.Context, principal uuid.UUID) ([]domain.Summary, error) {
	return s.store.List(ctx, principal)
}

// Get loads one snapshot by backup number.
func (s *Service) Get(ctx context.Context, principal uuid.UUID, number int) (*domain.Snapshot, error) {
	return s.store.GetByNumber(ctx, principal, number)
}

// GetByID loads one snapshot by row ID.
func (s *Service) GetByID(ctx context.Context, id int64) (*domain.Snapshot, error) {
	return s.store.GetByID(ctx, id)
}

// DeleteAll wipes the principal's snapshots and reports the count removed.
func (s *Service) DeleteAll(ctx context.Context, principal uuid.UUID) (int, error) {
	count, err := s.store.DeleteAll(ctx, principal)
	if err != nil {
		return 0, err
	}
	s.logger.Info("snapshots deleted",
		"principal", principal.String(),
		"count", count)
	return count, nil
}
