package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"

	apperrors "github.com/emberforge/playervault/internal/platform/errors"
	"github.com/emberforge/playervault/internal/host"
	"github.com/emberforge/playervault/internal/host/hosttest"
	"github.com/emberforge/playervault/internal/vault/adapter"
	"github.com/emberforge/playervault/internal/vault/domain"
	"github.com/emberforge/playervault/internal/vault/storage"
	"github.com/emberforge/playervault/internal/vault/storage/sqlite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, cfg Config) (*Service, *hosttest.Host, storage.Store, uuid.UUID) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "vault.db"), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	h := hosttest.New()
	h.EnableNamespace("accessories")
	principal := uuid.New()
	h.AddPlayer(principal, "minecraft:overworld", 12, 64, -7)

	registry := adapter.NewRegistry(h, adapter.NewAccessories(), adapter.NewGeneric(nil))
	svc := New(store, h, registry, testLogger(), cfg)
	t.Cleanup(func() {
		if err := svc.Close(); err != nil {
			t.Fatalf("close service: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return svc, h, store, principal
}

func seedInventory(t *testing.T, h *hosttest.Host, principal uuid.UUID) {
	t.Helper()
	if err := h.SeedMain(principal, 0, domain.Item{"id": "minecraft:diamond_sword", "Count": float64(1)}); err != nil {
		t.Fatalf("seed main: %v", err)
	}
	if err := h.SeedMain(principal, 8, domain.Item{"id": "minecraft:bread", "Count": float64(12)}); err != nil {
		t.Fatalf("seed main: %v", err)
	}
	if err := h.SeedArmor(principal, 3, domain.Item{"id": "minecraft:iron_helmet", "Count": float64(1)}); err != nil {
		t.Fatalf("seed armor: %v", err)
	}
	h.SeedAccessories(principal, "ring", []domain.Item{{"id": "rings:gold_ring", "Count": float64(1)}})
	h.SeedTagged(principal, "mana:pool", float64(80))
	if err := h.SetXP(context.Background(), principal, 30, 0.5); err != nil {
		t.Fatalf("set xp: %v", err)
	}
}

func TestCaptureAndRestoreRoundTrip(t *testing.T) {
	svc, h, _, principal := newEngine(t, Config{})
	ctx := context.Background()
	seedInventory(t, h, principal)

	snapshot, err := svc.Capture(ctx, principal, "Steve", domain.EventManual, "")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if snapshot.BackupNumber != 1 {
		t.Fatalf("expected backup number 1, got %d", snapshot.BackupNumber)
	}
	if snapshot.WorldID != "minecraft:overworld" {
		t.Fatalf("world not captured: %q", snapshot.WorldID)
	}

	// Mangle the live state, then restore.
	if err := h.ClearMain(ctx, principal); err != nil {
		t.Fatalf("clear main: %v", err)
	}
	if err := h.SeedMain(principal, 5, domain.Item{"id": "minecraft:dirt", "Count": float64(64)}); err != nil {
		t.Fatalf("seed junk: %v", err)
	}
	if err := h.SetXP(ctx, principal, 1, 0); err != nil {
		t.Fatalf("reset xp: %v", err)
	}

	result, err := svc.Restore(ctx, principal, snapshot.BackupNumber)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(result.Failed) != 0 {
		t.Fatalf("unexpected failed sections: %v", result.Failed)
	}

	main, err := h.MainSlots(ctx, principal)
	if err != nil {
		t.Fatalf("read main: %v", err)
	}
	if main[0]["id"] != "minecraft:diamond_sword" || main[8]["id"] != "minecraft:bread" {
		t.Fatalf("main inventory not restored: %#v", main[:9])
	}
	if !main[5].IsEmpty() {
		t.Fatal("slot empty in snapshot must be cleared on restore")
	}
	armor, err := h.ArmorSlots(ctx, principal)
	if err != nil {
		t.Fatalf("read armor: %v", err)
	}
	if armor[3]["id"] != "minecraft:iron_helmet" {
		t.Fatalf("armor not restored: %#v", armor)
	}
	level, progress, err := h.XP(ctx, principal)
	if err != nil {
		t.Fatalf("read xp: %v", err)
	}
	if level != 30 || progress != 0.5 {
		t.Fatalf("xp not restored: %d/%.2f", level, progress)
	}
	accessories, err := h.Accessories(ctx, principal)
	if err != nil {
		t.Fatalf("read accessories: %v", err)
	}
	if accessories["ring"][0]["id"] != "rings:gold_ring" {
		t.Fatalf("accessories not restored: %#v", accessories)
	}
}

func TestRestoreIsIdempotent(t *testing.T) {
	svc, h, _, principal := newEngine(t, Config{})
	ctx := context.Background()
	seedInventory(t, h, principal)

	snapshot, err := svc.Capture(ctx, principal, "Steve", domain.EventManual, "")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := svc.Restore(ctx, principal, snapshot.BackupNumber); err != nil {
			t.Fatalf("restore pass %d: %v", i+1, err)
		}
	}
	main, err := h.MainSlots(ctx, principal)
	if err != nil {
		t.Fatalf("read main: %v", err)
	}
	if main[0]["id"] != "minecraft:diamond_sword" {
		t.Fatalf("state drifted after double restore: %#v", main[0])
	}
}

func TestRestoreUnknownNumber(t *testing.T) {
	svc, _, _, principal := newEngine(t, Config{})
	_, err := svc.Restore(context.Background(), principal, 42)
	if apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestRestoreReportsFailedSections(t *testing.T) {
	svc, h, store, principal := newEngine(t, Config{})
	ctx := context.Background()

	corrupt := &domain.Snapshot{
		PrincipalID: principal,
		EventKind:   domain.EventManual,
		XPLevel:     7,
		Sections: map[string]string{
			domain.SectionMain:  `{"Items":[{"Slot":0,"id":"minecraft:stone"}],"Size":36}`,
			domain.SectionArmor: `{"Items": [}`,
		},
	}
	if err := store.Insert(ctx, corrupt); err != nil {
		t.Fatalf("insert corrupt snapshot: %v", err)
	}

	result, err := svc.Restore(ctx, principal, corrupt.BackupNumber)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(result.Failed) != 1 || result.Failed[0] != domain.SectionArmor {
		t.Fatalf("expected armor failure only, got %v", result.Failed)
	}
	main, err := h.MainSlots(ctx, principal)
	if err != nil {
		t.Fatalf("read main: %v", err)
	}
	if main[0]["id"] != "minecraft:stone" {
		t.Fatal("healthy sections must still apply")
	}
	level, _, err := h.XP(ctx, principal)
	if err != nil {
		t.Fatalf("read xp: %v", err)
	}
	if level != 7 {
		t.Fatalf("xp not applied after partial failure: %d", level)
	}
}

type failingAdapter struct{}

func (failingAdapter) Name() string             { return "failing" }
func (failingAdapter) Sections() []string       { return []string{"failing"} }
func (failingAdapter) Available(host.Host) bool { return true }
func (failingAdapter) Capture(context.Context, host.Host, uuid.UUID) (map[string]string, error) {
	return nil, apperrors.New(apperrors.CodeAdapterUnavailable, "capture always fails")
}
func (failingAdapter) Restore(context.Context, host.Host, uuid.UUID, map[string]string) error {
	return nil
}

func TestCaptureContinuesPastAdapterFailure(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "vault.db"), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	h := hosttest.New()
	principal := uuid.New()
	h.AddPlayer(principal, "minecraft:overworld", 0, 64, 0)

	svc := New(store, h, adapter.NewRegistry(h, failingAdapter{}), testLogger(), Config{})
	t.Cleanup(func() {
		_ = svc.Close()
		_ = store.Close()
	})

	snapshot, err := svc.Capture(context.Background(), principal, "Steve", domain.EventManual, "")
	if err != nil {
		t.Fatalf("capture must survive adapter failure: %v", err)
	}
	if _, present := snapshot.Sections["failing"]; present {
		t.Fatal("failed adapter must leave its section absent")
	}
	if _, present := snapshot.Sections[domain.SectionMain]; !present {
		t.Fatal("core sections must still be captured")
	}
}

func TestRestoreReportsSectionsWithoutAdapter(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "vault.db"), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	h := hosttest.New()
	h.EnableNamespace("accessories")
	principal := uuid.New()
	h.AddPlayer(principal, "minecraft:overworld", 0, 64, 0)
	h.SeedAccessories(principal, "ring", []domain.Item{{"id": "rings:gold_ring", "Count": float64(1)}})

	capturing := New(store, h, adapter.NewRegistry(h, adapter.NewAccessories()), testLogger(), Config{})
	snapshot, err := capturing.Capture(ctx, principal, "Steve", domain.EventManual, "")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := capturing.Close(); err != nil {
		t.Fatalf("close capturing service: %v", err)
	}
	if _, present := snapshot.Sections[domain.SectionAccessories]; !present {
		t.Fatal("capture must persist the accessories section")
	}

	// Same store, but the accessories adapter is gone.
	restoring := New(store, h, adapter.NewRegistry(h), testLogger(), Config{})
	t.Cleanup(func() { _ = restoring.Close() })

	result, err := restoring.Restore(ctx, principal, snapshot.BackupNumber)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(result.Failed) != 1 || result.Failed[0] != domain.SectionAccessories {
		t.Fatalf("expected partial restore with %q, got Failed=%v", domain.SectionAccessories, result.Failed)
	}
}

func TestCaptureEventHonorsToggles(t *testing.T) {
	svc, _, _, principal := newEngine(t, Config{CaptureOnLogin: false, CaptureOnLogout: true, CaptureOnDeath: true})
	ctx := context.Background()

	snapshot, err := svc.CaptureEvent(ctx, principal, "Steve", domain.EventLogin, "")
	if err != nil {
		t.Fatalf("capture event: %v", err)
	}
	if snapshot != nil {
		t.Fatal("disabled login capture must be skipped")
	}

	snapshot, err = svc.CaptureEvent(ctx, principal, "Steve", domain.EventDeath, "fell out of the world")
	if err != nil {
		t.Fatalf("death capture: %v", err)
	}
	if snapshot == nil || snapshot.Cause != "fell out of the world" {
		t.Fatalf("death capture missing cause: %#v", snapshot)
	}
}

func TestLogoutCaptureSkippedDuringShutdown(t *testing.T) {
	svc, h, _, principal := newEngine(t, Config{CaptureOnLogout: true})
	h.SetShuttingDown(true)

	snapshot, err := svc.CaptureEvent(context.Background(), principal, "Steve", domain.EventLogout, "")
	if err != nil {
		t.Fatalf("capture event: %v", err)
	}
	if snapshot != nil {
		t.Fatal("logout capture must be abandoned during shutdown")
	}
}

func TestManualCaptureIgnoresToggles(t *testing.T) {
	svc, _, _, principal := newEngine(t, Config{})
	snapshot, err := svc.CaptureEvent(context.Background(), principal, "Steve", domain.EventManual, "")
	if err != nil {
		t.Fatalf("manual capture: %v", err)
	}
	if snapshot == nil {
		t.Fatal("manual captures are never toggled off")
	}
}

func TestConcurrentCapturesAssignDistinctNumbers(t *testing.T) {
	svc, h, _, principal := newEngine(t, Config{})
	seedInventory(t, h, principal)

	const captures = 6
	var wg sync.WaitGroup
	numbers := make([]int, captures)
	errs := make([]error, captures)
	for i := 0; i < captures; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snapshot, err := svc.Capture(context.Background(), principal, "Steve", domain.EventManual, "")
			errs[i] = err
			if snapshot != nil {
				numbers[i] = snapshot.BackupNumber
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("capture %d: %v", i, err)
		}
	}
	sort.Ints(numbers)
	for i, number := range numbers {
		if number != i+1 {
			t.Fatalf("expected contiguous numbers, got %v", numbers)
		}
	}
}

func TestDeleteAll(t *testing.T) {
	svc, h, _, principal := newEngine(t, Config{})
	ctx := context.Background()
	seedInventory(t, h, principal)

	for i := 0; i < 3; i++ {
		if _, err := svc.Capture(ctx, principal, "Steve", domain.EventManual, ""); err != nil {
			t.Fatalf("capture: %v", err)
		}
	}
	count, err := svc.DeleteAll(ctx, principal)
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 deleted, got %d", count)
	}
	summaries, err := svc.List(ctx, principal)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("expected empty listing, got %d", len(summaries))
	}
}

func TestCaptureAfterCloseFails(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "vault.db"), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	h := hosttest.New()
	principal := uuid.New()
	h.AddPlayer(principal, "minecraft:overworld", 0, 64, 0)

	svc := New(store, h, adapter.NewRegistry(h), testLogger(), Config{})
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := svc.Capture(context.Background(), principal, "Steve", domain.EventManual, ""); err == nil {
		t.Fatal("capture after close must fail")
	}
}
