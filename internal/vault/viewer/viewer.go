// Package viewer presents stored snapshots to operators as a virtual
// container. The top 45 cells show the selected section's items; the bottom
// row carries section tabs, an info cell, and a close button. Clicking an
// occupied content cell extracts a copy of that item.
package viewer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/emberforge/playervault/internal/platform/errors"
	"github.com/emberforge/playervault/internal/host"
	"github.com/emberforge/playervault/internal/vault/codec"
	"github.com/emberforge/playervault/internal/vault/domain"
	"github.com/emberforge/playervault/internal/vault/storage"
)

// Container layout. 45 content cells plus one row of controls.
const (
	ContainerSize = 54

	contentCells = 45

	cellNavMain        = 45
	cellNavArmor       = 46
	cellNavOffhand     = 47
	cellNavEnderChest  = 48
	cellNavAccessories = 49
	cellInfo           = 52
	cellClose          = 53
)

// cellRef maps one content cell back to its extract address.
type cellRef struct {
	section string
	slot    int
}

// Session is one operator's open view of a snapshot.
type Session struct {
	Operator uuid.UUID
	Snapshot *domain.Snapshot
	Tab      string

	refs [contentCells]cellRef
}

// Manager owns viewer sessions, one per operator.
type Manager struct {
	store     storage.Store
	host      host.Host
	extractor *Extractor
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

func NewManager(store storage.Store, h host.Host, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     store,
		host:      h,
		extractor: NewExtractor(store, h),
		logger:    logger,
		sessions:  make(map[uuid.UUID]*Session),
	}
}

// Open loads the principal's numbered snapshot and presents it to the
// operator. tab selects the starting section; empty means main. An existing
// session for the operator is replaced.
func (m *Manager) Open(ctx context.Context, operator uuid.UUID, principal uuid.UUID, number int, tab string) error {
	if tab == "" {
		tab = domain.SectionMain
	}
	if !tabSection(tab) {
		return apperrors.WithMetadata(apperrors.CodeBadSection, "section is not a viewer tab",
			map[string]string{"section": tab})
	}
	snapshot, err := m.store.GetByNumber(ctx, principal, number)
	if err != nil {
		return err
	}

	session := &Session{Operator: operator, Snapshot: snapshot, Tab: tab}
	m.mu.Lock()
	m.sessions[operator] = session
	m.mu.Unlock()

	return m.render(ctx, session)
}

// Close dismisses the operator's viewer, if open.
func (m *Manager) Close(ctx context.Context, operator uuid.UUID) error {
	m.mu.Lock()
	_, open := m.sessions[operator]
	delete(m.sessions, operator)
	m.mu.Unlock()
	if !open {
		return nil
	}
	return m.host.CloseVirtualContainer(ctx, operator)
}

// Disconnect drops the operator's session without touching the host; the
// platform already tore the container down with the connection.
func (m *Manager) Disconnect(operator uuid.UUID) {
	m.mu.Lock()
	delete(m.sessions, operator)
	m.mu.Unlock()
}

// Session returns the operator's open session, or nil.
func (m *Manager) Session(operator uuid.UUID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[operator]
}

func (m *Manager) render(ctx context.Context, session *Session) error {
	cells := make([]domain.Item, ContainerSize)
	for i := range session.refs {
		session.refs[i] = cellRef{}
	}

	content, refs, err := m.tabContent(session.Snapshot, session.Tab)
	if err != nil {
		return err
	}
	for i := 0; i < len(content) && i < contentCells; i++ {
		cells[i] = content[i]
		session.refs[i] = refs[i]
	}

	cells[cellNavMain] = navButton("minecraft:chest", "Main inventory")
	cells[cellNavArmor] = navButton("minecraft:iron_chestplate", "Armor")
	cells[cellNavOffhand] = navButton("minecraft:shield", "Offhand")
	cells[cellNavEnderChest] = navButton("minecraft:ender_chest", "Ender chest")
	cells[cellNavAccessories] = navButton("minecraft:emerald", "Accessories")
	cells[cellInfo] = infoCell(session.Snapshot)
	cells[cellClose] = navButton("minecraft:barrier", "Close")

	operator := session.Operator
	title := fmt.Sprintf("Backup #%d of %s [%s]",
		session.Snapshot.BackupNumber, session.Snapshot.PrincipalLabel, session.Tab)
	return m.host.OpenVirtualContainer(ctx, operator, title, cells, func(slot int) {
		m.handleClick(operator, slot)
	})
}

func (m *Manager) handleClick(operator uuid.UUID, cell int) {
	ctx := context.Background()

	m.mu.Lock()
	session := m.sessions[operator]
	m.mu.Unlock()
	if session == nil {
		return
	}

	switch cell {
	case cellClose:
		if err := m.Close(ctx, operator); err != nil {
			m.logger.Warn("close viewer failed", "operator", operator.String(), "error", err)
		}
		return
	case cellInfo:
		return
	case cellNavMain, cellNavArmor, cellNavOffhand, cellNavEnderChest, cellNavAccessories:
		session.Tab = tabForCell(cell)
		if err := m.render(ctx, session); err != nil {
			m.logger.Warn("render viewer failed", "operator", operator.String(), "error", err)
		}
		return
	}
	if cell < 0 || cell >= contentCells {
		return
	}

	ref := session.refs[cell]
	if ref.section == "" {
		return
	}
	_, err := m.extractor.Extract(ctx, operator, ExtractRequest{
		SnapshotID: session.Snapshot.ID,
		Section:    ref.section,
		Slot:       ref.slot,
	})
	if err != nil {
		m.logger.Warn("extract failed",
			"operator", operator.String(),
			"section", ref.section,
			"slot", ref.slot,
			"error", err)
	}
}

// tabSection reports whether name is one of the viewer's section tabs.
func tabSection(name string) bool {
	switch name {
	case domain.SectionMain, domain.SectionArmor, domain.SectionOffhand,
		domain.SectionEnderChest, domain.SectionAccessories:
		return true
	}
	return false
}

func tabForCell(cell int) string {
	switch cell {
	case cellNavArmor:
		return domain.SectionArmor
	case cellNavOffhand:
		return domain.SectionOffhand
	case cellNavEnderChest:
		return domain.SectionEnderChest
	case cellNavAccessories:
		return domain.SectionAccessories
	}
	return domain.SectionMain
}

// tabContent decodes the selected tab into display cells plus their extract
// addresses. The accessories tab flattens slot kinds in sorted order.
func (m *Manager) tabContent(snapshot *domain.Snapshot, tab string) ([]domain.Item, []cellRef, error) {
	if tab == domain.SectionAccessories {
		return accessoriesContent(snapshot)
	}

	blob, ok := snapshot.Sections[tab]
	if !ok {
		return nil, nil, nil
	}
	items, err := codec.DecodeItems(blob)
	if err != nil {
		return nil, nil, err
	}
	refs := make([]cellRef, len(items))
	for i := range items {
		refs[i] = cellRef{section: tab, slot: i}
	}
	return items, refs, nil
}

func accessoriesContent(snapshot *domain.Snapshot) ([]domain.Item, []cellRef, error) {
	blob, ok := snapshot.Sections[domain.SectionAccessories]
	if !ok {
		return nil, nil, nil
	}
	parts, err := codec.DecodeComposite(blob)
	if err != nil {
		return nil, nil, err
	}
	kinds := make([]string, 0, len(parts))
	for kind := range parts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	var cells []domain.Item
	var refs []cellRef
	for _, kind := range kinds {
		items, err := codec.DecodeItems(parts[kind])
		if err != nil {
			return nil, nil, err
		}
		for slot, item := range items {
			cells = append(cells, item)
			refs = append(refs, cellRef{section: domain.AccessorySection(kind), slot: slot})
		}
	}
	return cells, refs, nil
}

func navButton(id, name string) domain.Item {
	return domain.Item{"id": id, "Count": float64(1), "name": name}
}

func infoCell(snapshot *domain.Snapshot) domain.Item {
	return domain.Item{
		"id":    "minecraft:paper",
		"Count": float64(1),
		"name":  fmt.Sprintf("Backup #%d", snapshot.BackupNumber),
		"lore": []any{
			"Owner: " + snapshot.PrincipalLabel,
			"Event: " + string(snapshot.EventKind),
			"World: " + snapshot.WorldID,
			"Captured: " + snapshot.CapturedAt.UTC().Format("2006-01-02 15:04:05 MST"),
		},
	}
}
