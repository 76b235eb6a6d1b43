// Package hosttest provides an in-memory host implementation used by the
// engine's tests and by the reference server wiring. It models per-principal
// inventories, accessory slots, tagged state, virtual containers, and chat
// delivery without any game platform behind it.
package hosttest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/emberforge/playervault/internal/host"
	"github.com/emberforge/playervault/internal/vault/domain"
)

// Default section sizes mirror the usual player layout.
const (
	MainSize       = 36
	ArmorSize      = 4
	OffhandSize    = 1
	EnderChestSize = 27
)

type playerState struct {
	main        []domain.Item
	armor       []domain.Item
	offhand     []domain.Item
	enderChest  []domain.Item
	xpLevel     int
	xpProgress  float64
	worldID     string
	x, y, z     float64
	accessories map[string][]domain.Item
	tagged      map[string]any
}

// Container is a virtual container opened for an operator.
type Container struct {
	Title   string
	Cells   []domain.Item
	onClick host.ClickHandler
}

// Host is the in-memory fake. The zero value is not usable; construct with New.
type Host struct {
	mu           sync.Mutex
	players      map[uuid.UUID]*playerState
	containers   map[uuid.UUID]*Container
	given        map[uuid.UUID][]domain.Item
	messages     map[uuid.UUID][]string
	namespaces   map[string]bool
	shuttingDown atomic.Bool
}

// New creates an empty fake host.
func New() *Host {
	return &Host{
		players:    make(map[uuid.UUID]*playerState),
		containers: make(map[uuid.UUID]*Container),
		given:      make(map[uuid.UUID][]domain.Item),
		messages:   make(map[uuid.UUID][]string),
		namespaces: make(map[string]bool),
	}
}

// AddPlayer registers a principal with empty inventories at the given location.
func (h *Host) AddPlayer(principal uuid.UUID, worldID string, x, y, z float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.players[principal] = &playerState{
		main:        make([]domain.Item, MainSize),
		armor:       make([]domain.Item, ArmorSize),
		offhand:     make([]domain.Item, OffhandSize),
		enderChest:  make([]domain.Item, EnderChestSize),
		worldID:     worldID,
		x:           x,
		y:           y,
		z:           z,
		accessories: make(map[string][]domain.Item),
		tagged:      make(map[string]any),
	}
}

// EnableNamespace marks a foreign namespace as loaded.
func (h *Host) EnableNamespace(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.namespaces[name] = true
}

// SetShuttingDown flips the shutdown signal observed by logout captures.
func (h *Host) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

func (h *Host) player(principal uuid.UUID) (*playerState, error) {
	state, ok := h.players[principal]
	if !ok {
		return nil, fmt.Errorf("unknown principal %s", principal)
	}
	return state, nil
}

func cloneItems(items []domain.Item) []domain.Item {
	out := make([]domain.Item, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}

func (h *Host) sectionSlots(principal uuid.UUID, pick func(*playerState) []domain.Item) ([]domain.Item, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, err := h.player(principal)
	if err != nil {
		return nil, err
	}
	return cloneItems(pick(state)), nil
}

func (h *Host) MainSlots(_ context.Context, principal uuid.UUID) ([]domain.Item, error) {
	return h.sectionSlots(principal, func(s *playerState) []domain.Item { return s.main })
}

func (h *Host) ArmorSlots(_ context.Context, principal uuid.UUID) ([]domain.Item, error) {
	return h.sectionSlots(principal, func(s *playerState) []domain.Item { return s.armor })
}

func (h *Host) OffhandSlots(_ context.Context, principal uuid.UUID) ([]domain.Item, error) {
	return h.sectionSlots(principal, func(s *playerState) []domain.Item { return s.offhand })
}

func (h *Host) EnderChestSlots(_ context.Context, principal uuid.UUID) ([]domain.Item, error) {
	return h.sectionSlots(principal, func(s *playerState) []domain.Item { return s.enderChest })
}

func (h *Host) XP(_ context.Context, principal uuid.UUID) (int, float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, err := h.player(principal)
	if err != nil {
		return 0, 0, err
	}
	return state.xpLevel, state.xpProgress, nil
}

func (h *Host) Location(_ context.Context, principal uuid.UUID) (string, float64, float64, float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, err := h.player(principal)
	if err != nil {
		return "", 0, 0, 0, err
	}
	return state.worldID, state.x, state.y, state.z, nil
}

func (h *Host) clearSection(principal uuid.UUID, pick func(*playerState) []domain.Item) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, err := h.player(principal)
	if err != nil {
		return err
	}
	slots := pick(state)
	for i := range slots {
		slots[i] = domain.Empty()
	}
	return nil
}

func (h *Host) ClearMain(_ context.Context, principal uuid.UUID) error {
	return h.clearSection(principal, func(s *playerState) []domain.Item { return s.main })
}

func (h *Host) ClearArmor(_ context.Context, principal uuid.UUID) error {
	return h.clearSection(principal, func(s *playerState) []domain.Item { return s.armor })
}

func (h *Host) ClearOffhand(_ context.Context, principal uuid.UUID) error {
	return h.clearSection(principal, func(s *playerState) []domain.Item { return s.offhand })
}

func (h *Host) ClearEnderChest(_ context.Context, principal uuid.UUID) error {
	return h.clearSection(principal, func(s *playerState) []domain.Item { return s.enderChest })
}

func (h *Host) setSlot(principal uuid.UUID, index int, item domain.Item, pick func(*playerState) []domain.Item) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, err := h.player(principal)
	if err != nil {
		return err
	}
	slots := pick(state)
	if index < 0 || index >= len(slots) {
		return fmt.Errorf("slot index %d out of range (%d slots)", index, len(slots))
	}
	slots[index] = item.Clone()
	return nil
}

func (h *Host) SetMainSlot(_ context.Context, principal uuid.UUID, index int, item domain.Item) error {
	return h.setSlot(principal, index, item, func(s *playerState) []domain.Item { return s.main })
}

func (h *Host) SetArmorSlot(_ context.Context, principal uuid.UUID, index int, item domain.Item) error {
	return h.setSlot(principal, index, item, func(s *playerState) []domain.Item { return s.armor })
}

func (h *Host) SetOffhandSlot(_ context.Context, principal uuid.UUID, index int, item domain.Item) error {
	return h.setSlot(principal, index, item, func(s *playerState) []domain.Item { return s.offhand })
}

func (h *Host) SetEnderChestSlot(_ context.Context, principal uuid.UUID, index int, item domain.Item) error {
	return h.setSlot(principal, index, item, func(s *playerState) []domain.Item { return s.enderChest })
}

func (h *Host) SetXP(_ context.Context, principal uuid.UUID, level int, progress float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, err := h.player(principal)
	if err != nil {
		return err
	}
	state.xpLevel = level
	state.xpProgress = progress
	return nil
}

func (h *Host) OpenVirtualContainer(_ context.Context, operator uuid.UUID, title string, cells []domain.Item, onClick host.ClickHandler) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.containers[operator] = &Container{
		Title:   title,
		Cells:   cloneItems(cells),
		onClick: onClick,
	}
	return nil
}

func (h *Host) CloseVirtualContainer(_ context.Context, operator uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.containers, operator)
	return nil
}

func (h *Host) GiveItem(_ context.Context, operator uuid.UUID, item domain.Item) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.given[operator] = append(h.given[operator], item.Clone())
	return nil
}

func (h *Host) SendMessage(_ context.Context, recipient uuid.UUID, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages[recipient] = append(h.messages[recipient], text)
	return nil
}

func (h *Host) TriggerUIResync(_ context.Context, principal uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.player(principal)
	return err
}

func (h *Host) IsAvailableNamespace(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.namespaces[name]
}

func (h *Host) ShuttingDown() bool {
	return h.shuttingDown.Load()
}

// Accessories implements host.AccessoryHost.
func (h *Host) Accessories(_ context.Context, principal uuid.UUID) (map[string][]domain.Item, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, err := h.player(principal)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]domain.Item, len(state.accessories))
	for kind, items := range state.accessories {
		out[kind] = cloneItems(items)
	}
	return out, nil
}

// SetAccessories implements host.AccessoryHost.
func (h *Host) SetAccessories(_ context.Context, principal uuid.UUID, slots map[string][]domain.Item) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, err := h.player(principal)
	if err != nil {
		return err
	}
	for kind, items := range slots {
		current, ok := state.accessories[kind]
		if !ok {
			// Slot kind no longer present on this host; items are not restored.
			continue
		}
		for i := range current {
			current[i] = domain.Empty()
		}
		for i := 0; i < len(items) && i < len(current); i++ {
			current[i] = items[i].Clone()
		}
	}
	return nil
}

// TaggedState implements host.TaggedStateHost.
func (h *Host) TaggedState(_ context.Context, principal uuid.UUID) (map[string]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, err := h.player(principal)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(state.tagged))
	for k, v := range state.tagged {
		out[k] = v
	}
	return out, nil
}

// MergeTaggedState implements host.TaggedStateHost.
func (h *Host) MergeTaggedState(_ context.Context, principal uuid.UUID, merged map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, err := h.player(principal)
	if err != nil {
		return err
	}
	for k, v := range merged {
		state.tagged[k] = v
	}
	return nil
}

// Test hooks below. These are not part of the host contract.

// SeedMain places an item into a principal's live main inventory.
func (h *Host) SeedMain(principal uuid.UUID, index int, item domain.Item) error {
	return h.setSlot(principal, index, item, func(s *playerState) []domain.Item { return s.main })
}

// SeedArmor places an item into a principal's live armor slots.
func (h *Host) SeedArmor(principal uuid.UUID, index int, item domain.Item) error {
	return h.setSlot(principal, index, item, func(s *playerState) []domain.Item { return s.armor })
}

// SeedAccessories installs a slot kind with the given items.
func (h *Host) SeedAccessories(principal uuid.UUID, kind string, items []domain.Item) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if state, ok := h.players[principal]; ok {
		state.accessories[kind] = cloneItems(items)
	}
}

// SeedTagged sets one key of a principal's tagged state.
func (h *Host) SeedTagged(principal uuid.UUID, key string, value any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if state, ok := h.players[principal]; ok {
		state.tagged[key] = value
	}
}

// OpenContainer returns the operator's current virtual container, or nil.
func (h *Host) OpenContainer(operator uuid.UUID) *Container {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.containers[operator]
}

// Click simulates the operator clicking a cell of the open container.
func (h *Host) Click(operator uuid.UUID, slot int) {
	h.mu.Lock()
	container := h.containers[operator]
	var handler host.ClickHandler
	if container != nil {
		handler = container.onClick
	}
	h.mu.Unlock()
	if handler != nil {
		handler(slot)
	}
}

// Given returns items handed to the operator by extractions.
func (h *Host) Given(operator uuid.UUID) []domain.Item {
	h.mu.Lock()
	defer h.mu.Unlock()
	return cloneItems(h.given[operator])
}

// ClearMessages forgets chat lines delivered to a recipient.
func (h *Host) ClearMessages(recipient uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.messages, recipient)
}

// Messages returns chat lines delivered to a recipient.
func (h *Host) Messages(recipient uuid.UUID) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.messages[recipient]))
	copy(out, h.messages[recipient])
	return out
}

var _ host.Host = (*Host)(nil)
var _ host.AccessoryHost = (*Host)(nil)
var _ host.TaggedStateHost = (*Host)(nil)
