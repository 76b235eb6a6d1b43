// Package hologram manages floating text displays: identified, positioned
// line stacks with a visibility range, persisted through a pluggable saver.
package hologram

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	apperrors "github.com/emberforge/playervault/internal/platform/errors"
)

// DefaultRange is the visibility range for new holograms, in blocks.
const DefaultRange = 48.0

// Location is a position in a world.
type Location struct {
	WorldID string  `yaml:"world"`
	X       float64 `yaml:"x"`
	Y       float64 `yaml:"y"`
	Z       float64 `yaml:"z"`
}

// DistanceTo returns the euclidean distance to other, or +Inf across worlds.
func (l Location) DistanceTo(other Location) float64 {
	if l.WorldID != other.WorldID {
		return math.Inf(1)
	}
	dx, dy, dz := l.X-other.X, l.Y-other.Y, l.Z-other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Hologram is one floating text display.
type Hologram struct {
	ID       string   `yaml:"id"`
	Location Location `yaml:"location"`
	Lines    []string `yaml:"lines"`
	Range    float64  `yaml:"range"`
}

func (h *Hologram) clone() *Hologram {
	lines := make([]string, len(h.Lines))
	copy(lines, h.Lines)
	return &Hologram{ID: h.ID, Location: h.Location, Lines: lines, Range: h.Range}
}

// Saver persists the full hologram set.
type Saver interface {
	Save(holograms []*Hologram) error
	Load() ([]*Hologram, error)
}

// Manager owns the hologram set. Every mutation persists through the saver
// before returning.
type Manager struct {
	saver Saver

	mu        sync.Mutex
	holograms map[string]*Hologram
}

// NewManager builds a manager and loads the saved set.
func NewManager(saver Saver) (*Manager, error) {
	m := &Manager{saver: saver, holograms: make(map[string]*Hologram)}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload replaces the in-memory set with the saver's contents.
func (m *Manager) Reload() error {
	loaded, err := m.saver.Load()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holograms = make(map[string]*Hologram, len(loaded))
	for _, h := range loaded {
		if h == nil || strings.TrimSpace(h.ID) == "" {
			continue
		}
		if h.Range <= 0 {
			h.Range = DefaultRange
		}
		m.holograms[h.ID] = h.clone()
	}
	return nil
}

// Create adds a new hologram.
func (m *Manager) Create(id string, loc Location, lines []string) (*Hologram, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "hologram id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.holograms[id]; exists {
		return nil, apperrors.WithMetadata(apperrors.CodeHologramExists, "hologram already exists",
			map[string]string{"id": id})
	}
	h := &Hologram{ID: id, Location: loc, Lines: append([]string(nil), lines...), Range: DefaultRange}
	m.holograms[id] = h
	if err := m.persistLocked(); err != nil {
		delete(m.holograms, id)
		return nil, err
	}
	return h.clone(), nil
}

// Delete removes a hologram.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, exists := m.holograms[id]
	if !exists {
		return notFound(id)
	}
	delete(m.holograms, id)
	if err := m.persistLocked(); err != nil {
		m.holograms[id] = h
		return err
	}
	return nil
}

// Move shifts a hologram by a relative offset.
func (m *Manager) Move(id string, dx, dy, dz float64) error {
	return m.update(id, func(h *Hologram) error {
		h.Location.X += dx
		h.Location.Y += dy
		h.Location.Z += dz
		return nil
	})
}

// Teleport places a hologram at an absolute location.
func (m *Manager) Teleport(id string, loc Location) error {
	return m.update(id, func(h *Hologram) error {
		h.Location = loc
		return nil
	})
}

// SetLine replaces one line.
func (m *Manager) SetLine(id string, index int, text string) error {
	return m.update(id, func(h *Hologram) error {
		if index < 0 || index >= len(h.Lines) {
			return lineOutOfRange(id, index)
		}
		h.Lines[index] = text
		return nil
	})
}

// InsertLine inserts a line before index; index == len appends.
func (m *Manager) InsertLine(id string, index int, text string) error {
	return m.update(id, func(h *Hologram) error {
		if index < 0 || index > len(h.Lines) {
			return lineOutOfRange(id, index)
		}
		h.Lines = append(h.Lines, "")
		copy(h.Lines[index+1:], h.Lines[index:])
		h.Lines[index] = text
		return nil
	})
}

// AddLine appends a line.
func (m *Manager) AddLine(id string, text string) error {
	return m.update(id, func(h *Hologram) error {
		h.Lines = append(h.Lines, text)
		return nil
	})
}

// RemoveLine deletes one line.
func (m *Manager) RemoveLine(id string, index int) error {
	return m.update(id, func(h *Hologram) error {
		if index < 0 || index >= len(h.Lines) {
			return lineOutOfRange(id, index)
		}
		h.Lines = append(h.Lines[:index], h.Lines[index+1:]...)
		return nil
	})
}

// SetRange adjusts the visibility range.
func (m *Manager) SetRange(id string, visibility float64) error {
	return m.update(id, func(h *Hologram) error {
		if visibility <= 0 {
			visibility = DefaultRange
		}
		h.Range = visibility
		return nil
	})
}

// Copy duplicates a hologram's lines and range under a new ID at loc.
func (m *Manager) Copy(srcID, dstID string, loc Location) (*Hologram, error) {
	m.mu.Lock()
	src, exists := m.holograms[srcID]
	if !exists {
		m.mu.Unlock()
		return nil, notFound(srcID)
	}
	lines := append([]string(nil), src.Lines...)
	visibility := src.Range
	m.mu.Unlock()

	dst, err := m.Create(dstID, loc, lines)
	if err != nil {
		return nil, err
	}
	if err := m.SetRange(dstID, visibility); err != nil {
		return nil, err
	}
	dst.Range = visibility
	return dst, nil
}

// GetByID returns a copy of the hologram.
func (m *Manager) GetByID(id string) (*Hologram, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, exists := m.holograms[id]
	if !exists {
		return nil, notFound(id)
	}
	return h.clone(), nil
}

// GetNearby returns holograms whose own visibility range reaches loc, sorted
// by distance.
func (m *Manager) GetNearby(loc Location) []*Hologram {
	m.mu.Lock()
	defer m.mu.Unlock()

	type scored struct {
		hologram *Hologram
		distance float64
	}
	var nearby []scored
	for _, h := range m.holograms {
		if d := h.Location.DistanceTo(loc); d <= h.Range {
			nearby = append(nearby, scored{h.clone(), d})
		}
	}
	sort.Slice(nearby, func(i, j int) bool { return nearby[i].distance < nearby[j].distance })

	out := make([]*Hologram, len(nearby))
	for i, s := range nearby {
		out[i] = s.hologram
	}
	return out
}

// All returns every hologram sorted by ID.
func (m *Manager) All() []*Hologram {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Hologram, 0, len(m.holograms))
	for _, h := range m.holograms {
		out = append(out, h.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clear deletes every hologram.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	previous := m.holograms
	m.holograms = make(map[string]*Hologram)
	if err := m.persistLocked(); err != nil {
		m.holograms = previous
		return err
	}
	return nil
}

func (m *Manager) update(id string, mutate func(*Hologram) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, exists := m.holograms[id]
	if !exists {
		return notFound(id)
	}
	backup := h.clone()
	if err := mutate(h); err != nil {
		return err
	}
	if err := m.persistLocked(); err != nil {
		m.holograms[id] = backup
		return err
	}
	return nil
}

func (m *Manager) persistLocked() error {
	out := make([]*Hologram, 0, len(m.holograms))
	for _, h := range m.holograms {
		out = append(out, h.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return m.saver.Save(out)
}

func notFound(id string) error {
	return apperrors.WithMetadata(apperrors.CodeHologramNotFound, "hologram not found",
		map[string]string{"id": id})
}

func lineOutOfRange(id string, index int) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidArgument, "line index out of range",
		map[string]string{"id": id, "index": strconv.Itoa(index)})
}
