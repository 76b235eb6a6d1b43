package adapter

import (
	"context"
	"testing"

	"github.com/google/uuid"

	apperrors "github.com/emberforge/playervault/internal/platform/errors"
	"github.com/emberforge/playervault/internal/host"
	"github.com/emberforge/playervault/internal/host/hosttest"
	"github.com/emberforge/playervault/internal/vault/domain"
)

// bareHost hides the optional surfaces of the fake so availability probes
// see a platform without them.
type bareHost struct {
	host.Host
}

func newPlayerHost(t *testing.T) (*hosttest.Host, uuid.UUID) {
	t.Helper()
	h := hosttest.New()
	principal := uuid.New()
	h.AddPlayer(principal, "overworld", 0, 64, 0)
	return h, principal
}

func TestRegistryDropsUnavailableAdapters(t *testing.T) {
	h, _ := newPlayerHost(t)
	// Namespace not enabled: accessories must be dropped, generic kept.
	registry := NewRegistry(h, NewAccessories(), NewGeneric(nil))

	all := registry.All()
	if len(all) != 1 {
		t.Fatalf("expected 1 adapter, got %d", len(all))
	}
	if all[0].Name() != "generic" {
		t.Fatalf("unexpected survivor %q", all[0].Name())
	}
	if _, ok := registry.Lookup("accessories"); ok {
		t.Fatal("accessories should not be registered")
	}
}

func TestRegistryKeepsAccessoriesWhenNamespaceLoaded(t *testing.T) {
	h, _ := newPlayerHost(t)
	h.EnableNamespace("accessories")

	registry := NewRegistry(h, NewAccessories(), NewGeneric(nil))
	if len(registry.All()) != 2 {
		t.Fatalf("expected both adapters, got %d", len(registry.All()))
	}
}

func TestAccessoriesNotAvailableWithoutHostSurface(t *testing.T) {
	h, _ := newPlayerHost(t)
	h.EnableNamespace("accessories")

	if NewAccessories().Available(bareHost{h}) {
		t.Fatal("adapter must require the accessory host surface")
	}
}

func TestAccessoriesCaptureRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	h, principal := newPlayerHost(t)
	h.EnableNamespace("accessories")
	h.SeedAccessories(principal, "ring", []domain.Item{
		{"id": "rings:gold_ring", "Count": float64(1)},
		domain.Empty(),
	})
	h.SeedAccessories(principal, "necklace", []domain.Item{domain.Empty()})

	a := NewAccessories()
	sections, err := a.Capture(ctx, h, principal)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	blob, ok := sections[domain.SectionAccessories]
	if !ok {
		t.Fatalf("missing accessories section in %v", sections)
	}

	// Wipe and restore onto the same host.
	h.SeedAccessories(principal, "ring", []domain.Item{domain.Empty(), domain.Empty()})
	if err := a.Restore(ctx, h, principal, map[string]string{domain.SectionAccessories: blob}); err != nil {
		t.Fatalf("restore: %v", err)
	}

	slots, err := h.Accessories(ctx, principal)
	if err != nil {
		t.Fatalf("read accessories: %v", err)
	}
	if len(slots["ring"]) != 2 || slots["ring"][0]["id"] != "rings:gold_ring" {
		t.Fatalf("ring slot not restored: %#v", slots["ring"])
	}
}

func TestAccessoriesRestoreSkipsVanishedKind(t *testing.T) {
	ctx := context.Background()
	h, principal := newPlayerHost(t)
	h.EnableNamespace("accessories")
	h.SeedAccessories(principal, "ring", []domain.Item{{"id": "rings:gold_ring"}})

	a := NewAccessories()
	sections, err := a.Capture(ctx, h, principal)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	// A host upgrade removed the ring kind; restoring must not invent it.
	fresh := hosttest.New()
	fresh.AddPlayer(principal, "overworld", 0, 64, 0)
	fresh.EnableNamespace("accessories")
	if err := a.Restore(ctx, fresh, principal, sections); err != nil {
		t.Fatalf("restore: %v", err)
	}
	slots, err := fresh.Accessories(ctx, principal)
	if err != nil {
		t.Fatalf("read accessories: %v", err)
	}
	if _, ok := slots["ring"]; ok {
		t.Fatal("vanished slot kind must not be recreated")
	}
}

func TestAccessoriesRestoreUnavailableHost(t *testing.T) {
	h, principal := newPlayerHost(t)
	err := NewAccessories().Restore(context.Background(), bareHost{h}, principal,
		map[string]string{domain.SectionAccessories: "{}"})
	if apperrors.CodeOf(err) != apperrors.CodeAdapterUnavailable {
		t.Fatalf("expected ADAPTER_UNAVAILABLE, got %v", err)
	}
}

func TestGenericCaptureExcludesCoreKeys(t *testing.T) {
	ctx := context.Background()
	h, principal := newPlayerHost(t)
	h.SeedTagged(principal, "Inventory", []any{"should not be captured"})
	h.SeedTagged(principal, "mana:pool", float64(120))

	g := NewGeneric(nil)
	sections, err := g.Capture(ctx, h, principal)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	blob := sections[domain.SectionGeneric]
	if blob == "" {
		t.Fatal("missing generic section")
	}

	fresh := hosttest.New()
	fresh.AddPlayer(principal, "overworld", 0, 64, 0)
	if err := g.Restore(ctx, fresh, principal, sections); err != nil {
		t.Fatalf("restore: %v", err)
	}
	state, err := fresh.TaggedState(ctx, principal)
	if err != nil {
		t.Fatalf("read tagged state: %v", err)
	}
	if state["mana:pool"] != float64(120) {
		t.Fatalf("foreign key not restored: %#v", state)
	}
	if _, ok := state["Inventory"]; ok {
		t.Fatal("excluded key leaked through capture")
	}
}

func TestGenericCustomExclusions(t *testing.T) {
	ctx := context.Background()
	h, principal := newPlayerHost(t)
	h.SeedTagged(principal, "mana:pool", float64(120))
	h.SeedTagged(principal, "quests:active", "dragon_hunt")

	g := NewGeneric([]string{"quests:active"})
	sections, err := g.Capture(ctx, h, principal)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	fresh := hosttest.New()
	fresh.AddPlayer(principal, "overworld", 0, 64, 0)
	if err := g.Restore(ctx, fresh, principal, sections); err != nil {
		t.Fatalf("restore: %v", err)
	}
	state, err := fresh.TaggedState(ctx, principal)
	if err != nil {
		t.Fatalf("read tagged state: %v", err)
	}
	if _, ok := state["quests:active"]; ok {
		t.Fatal("custom exclusion ignored")
	}
	if state["mana:pool"] != float64(120) {
		t.Fatalf("unexcluded key dropped: %#v", state)
	}
}

func TestGenericRestoreSkipsMissingSection(t *testing.T) {
	h, principal := newPlayerHost(t)
	if err := NewGeneric(nil).Restore(context.Background(), h, principal, map[string]string{}); err != nil {
		t.Fatalf("restore with no section should be a no-op, got %v", err)
	}
}
