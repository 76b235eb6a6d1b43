// Package host declares the contract the embedding game platform provides to
// the vault engine. The engine is host-agnostic: every read or mutation of
// live player state goes through these interfaces, and a platform layer
// supplies the implementation at wiring time.
package host

import (
	"context"

	"github.com/google/uuid"

	"github.com/emberforge/playervault/internal/vault/domain"
)

// ClickHandler receives clicks on a virtual container's cells.
type ClickHandler func(slot int)

// Host is the platform surface required by the snapshot engine. All methods
// that touch live player state must be invoked from the host's main
// scheduler; implementations are not required to be safe for concurrent use.
type Host interface {
	// Section reads. Slot order is the host's canonical order and the
	// returned length fixes the section's slot count.
	MainSlots(ctx context.Context, principal uuid.UUID) ([]domain.Item, error)
	ArmorSlots(ctx context.Context, principal uuid.UUID) ([]domain.Item, error)
	OffhandSlots(ctx context.Context, principal uuid.UUID) ([]domain.Item, error)
	EnderChestSlots(ctx context.Context, principal uuid.UUID) ([]domain.Item, error)

	// XP returns the principal's experience level and level progress in [0,1].
	XP(ctx context.Context, principal uuid.UUID) (level int, progress float64, err error)
	// Location returns the principal's world and position.
	Location(ctx context.Context, principal uuid.UUID) (worldID string, x, y, z float64, err error)

	// Section writes used by restore.
	ClearMain(ctx context.Context, principal uuid.UUID) error
	ClearArmor(ctx context.Context, principal uuid.UUID) error
	ClearOffhand(ctx context.Context, principal uuid.UUID) error
	ClearEnderChest(ctx context.Context, principal uuid.UUID) error
	SetMainSlot(ctx context.Context, principal uuid.UUID, index int, item domain.Item) error
	SetArmorSlot(ctx context.Context, principal uuid.UUID, index int, item domain.Item) error
	SetOffhandSlot(ctx context.Context, principal uuid.UUID, index int, item domain.Item) error
	SetEnderChestSlot(ctx context.Context, principal uuid.UUID, index int, item domain.Item) error
	SetXP(ctx context.Context, principal uuid.UUID, level int, progress float64) error

	// OpenVirtualContainer presents a synthetic container to the operator and
	// routes cell clicks to onClick. Opening a second container for the same
	// operator replaces the first.
	OpenVirtualContainer(ctx context.Context, operator uuid.UUID, title string, cells []domain.Item, onClick ClickHandler) error
	// CloseVirtualContainer dismisses the operator's open container, if any.
	CloseVirtualContainer(ctx context.Context, operator uuid.UUID) error
	// GiveItem places an item into the operator's live inventory.
	GiveItem(ctx context.Context, operator uuid.UUID, item domain.Item) error
	// SendMessage delivers a chat line to the recipient.
	SendMessage(ctx context.Context, recipient uuid.UUID, text string) error
	// TriggerUIResync asks the host to repaint the principal's client-side
	// inventory after a restore.
	TriggerUIResync(ctx context.Context, principal uuid.UUID) error

	// IsAvailableNamespace reports whether a foreign runtime namespace (for
	// example "accessories") is loaded on this host. Adapters probe it once
	// at init.
	IsAvailableNamespace(name string) bool
	// ShuttingDown reports whether host termination has begun. Logout
	// captures are abandoned once this returns true.
	ShuttingDown() bool
}

// AccessoryHost is implemented by hosts that expose accessory
// sub-inventories (rings, amulets, ...), keyed by slot kind.
type AccessoryHost interface {
	Accessories(ctx context.Context, principal uuid.UUID) (map[string][]domain.Item, error)
	SetAccessories(ctx context.Context, principal uuid.UUID, slots map[string][]domain.Item) error
}

// TaggedStateHost is implemented by hosts that expose the principal's full
// tagged-tree state for the generic catch-all adapter. MergeTaggedState must
// leave keys absent from the argument untouched.
type TaggedStateHost interface {
	TaggedState(ctx context.Context, principal uuid.UUID) (map[string]any, error)
	MergeTaggedState(ctx context.Context, principal uuid.UUID, state map[string]any) error
}
