package hologram

import (
	"path/filepath"
	"reflect"
	"testing"

	apperrors "github.com/emberforge/playervault/internal/platform/errors"
)

func newManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "holograms.yml")
	saver, err := NewFileSaver(path)
	if err != nil {
		t.Fatalf("new saver: %v", err)
	}
	manager, err := NewManager(saver)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager, path
}

func spawn() Location {
	return Location{WorldID: "minecraft:overworld", X: 0, Y: 70, Z: 0}
}

func TestCreateAndGet(t *testing.T) {
	manager, _ := newManager(t)

	created, err := manager.Create("welcome", spawn(), []string{"Welcome!", "Enjoy your stay"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Range != DefaultRange {
		t.Fatalf("expected default range, got %f", created.Range)
	}

	loaded, err := manager.GetByID("welcome")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(loaded.Lines, []string{"Welcome!", "Enjoy your stay"}) {
		t.Fatalf("unexpected lines %v", loaded.Lines)
	}

	// Returned copies must not alias internal state.
	loaded.Lines[0] = "mutated"
	again, _ := manager.GetByID("welcome")
	if again.Lines[0] != "Welcome!" {
		t.Fatal("mutating a returned hologram leaked into the manager")
	}
}

func TestCreateDuplicate(t *testing.T) {
	manager, _ := newManager(t)
	if _, err := manager.Create("welcome", spawn(), nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := manager.Create("welcome", spawn(), nil)
	if apperrors.CodeOf(err) != apperrors.CodeHologramExists {
		t.Fatalf("expected HOLOGRAM_EXISTS, got %v", err)
	}
}

func TestLineOperations(t *testing.T) {
	manager, _ := newManager(t)
	if _, err := manager.Create("board", spawn(), []string{"a", "c"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := manager.InsertLine("board", 1, "b"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := manager.AddLine("board", "d"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := manager.SetLine("board", 0, "A"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := manager.RemoveLine("board", 3); err != nil {
		t.Fatalf("remove: %v", err)
	}

	h, err := manager.GetByID("board")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(h.Lines, []string{"A", "b", "c"}) {
		t.Fatalf("unexpected lines %v", h.Lines)
	}

	if err := manager.SetLine("board", 9, "x"); apperrors.CodeOf(err) != apperrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
	if err := manager.SetLine("missing", 0, "x"); apperrors.CodeOf(err) != apperrors.CodeHologramNotFound {
		t.Fatalf("expected HOLOGRAM_NOT_FOUND, got %v", err)
	}
}

func TestMoveAndTeleport(t *testing.T) {
	manager, _ := newManager(t)
	if _, err := manager.Create("sign", spawn(), nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := manager.Move("sign", 1, 2, 3); err != nil {
		t.Fatalf("move: %v", err)
	}
	h, _ := manager.GetByID("sign")
	if h.Location.X != 1 || h.Location.Y != 72 || h.Location.Z != 3 {
		t.Fatalf("unexpected location %+v", h.Location)
	}

	dest := Location{WorldID: "minecraft:the_nether", X: 10, Y: 40, Z: -5}
	if err := manager.Teleport("sign", dest); err != nil {
		t.Fatalf("teleport: %v", err)
	}
	h, _ = manager.GetByID("sign")
	if h.Location != dest {
		t.Fatalf("unexpected location %+v", h.Location)
	}
}

func TestCopy(t *testing.T) {
	manager, _ := newManager(t)
	if _, err := manager.Create("src", spawn(), []string{"hello"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := manager.SetRange("src", 16); err != nil {
		t.Fatalf("set range: %v", err)
	}

	dest := Location{WorldID: "minecraft:overworld", X: 100, Y: 70, Z: 100}
	copied, err := manager.Copy("src", "dst", dest)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if copied.Location != dest || copied.Range != 16 || copied.Lines[0] != "hello" {
		t.Fatalf("unexpected copy %+v", copied)
	}

	if _, err := manager.Copy("missing", "dst2", dest); apperrors.CodeOf(err) != apperrors.CodeHologramNotFound {
		t.Fatalf("expected HOLOGRAM_NOT_FOUND, got %v", err)
	}
}

func TestGetNearbyUsesRangeAndWorld(t *testing.T) {
	manager, _ := newManager(t)
	if _, err := manager.Create("near", spawn(), nil); err != nil {
		t.Fatalf("create near: %v", err)
	}
	if _, err := manager.Create("far", Location{WorldID: "minecraft:overworld", X: 500, Y: 70, Z: 0}, nil); err != nil {
		t.Fatalf("create far: %v", err)
	}
	if _, err := manager.Create("otherworld", Location{WorldID: "minecraft:the_end", X: 0, Y: 70, Z: 0}, nil); err != nil {
		t.Fatalf("create otherworld: %v", err)
	}
	if _, err := manager.Create("short", Location{WorldID: "minecraft:overworld", X: 30, Y: 70, Z: 0}, nil); err != nil {
		t.Fatalf("create short: %v", err)
	}
	if err := manager.SetRange("short", 10); err != nil {
		t.Fatalf("set range: %v", err)
	}

	nearby := manager.GetNearby(Location{WorldID: "minecraft:overworld", X: 5, Y: 70, Z: 0})
	if len(nearby) != 1 || nearby[0].ID != "near" {
		ids := make([]string, len(nearby))
		for i, h := range nearby {
			ids[i] = h.ID
		}
		t.Fatalf("expected [near], got %v", ids)
	}
}

func TestPersistenceAcrossReload(t *testing.T) {
	manager, path := newManager(t)
	if _, err := manager.Create("welcome", spawn(), []string{"Welcome!"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := manager.AddLine("welcome", "Second line"); err != nil {
		t.Fatalf("add: %v", err)
	}

	saver, err := NewFileSaver(path)
	if err != nil {
		t.Fatalf("reopen saver: %v", err)
	}
	fresh, err := NewManager(saver)
	if err != nil {
		t.Fatalf("reopen manager: %v", err)
	}
	h, err := fresh.GetByID("welcome")
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	if !reflect.DeepEqual(h.Lines, []string{"Welcome!", "Second line"}) {
		t.Fatalf("unexpected lines after reload %v", h.Lines)
	}
}

func TestClear(t *testing.T) {
	manager, _ := newManager(t)
	if _, err := manager.Create("a", spawn(), nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := manager.Create("b", spawn(), nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := manager.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if all := manager.All(); len(all) != 0 {
		t.Fatalf("expected empty set, got %d", len(all))
	}
	if err := manager.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if all := manager.All(); len(all) != 0 {
		t.Fatal("clear must persist")
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	saver, err := NewFileSaver(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("new saver: %v", err)
	}
	holograms, err := saver.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(holograms) != 0 {
		t.Fatalf("expected empty set, got %d", len(holograms))
	}
}
