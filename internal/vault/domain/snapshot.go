// Package domain defines the snapshot records and section naming shared by
// the vault engine's storage, service, and viewer layers.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies the lifecycle event that produced a snapshot.
type EventKind string

const (
	EventLogin  EventKind = "login"
	EventLogout EventKind = "logout"
	EventDeath  EventKind = "death"
	EventManual EventKind = "manual"
)

// Valid reports whether the kind is one of the recognized lifecycle events.
func (k EventKind) Valid() bool {
	switch k {
	case EventLogin, EventLogout, EventDeath, EventManual:
		return true
	}
	return false
}

// Contract section names. Adapters contribute additional namespaced sections.
const (
	SectionMain       = "main"
	SectionArmor      = "armor"
	SectionOffhand    = "offhand"
	SectionEnderChest = "enderchest"
	// SectionAccessories holds the composite accessory blob; individual slot
	// kinds are addressed as "accessories:<kind>".
	SectionAccessories = "accessories"
	// SectionGeneric is the catch-all adapter section.
	SectionGeneric = "generic"
)

const accessoryPrefix = SectionAccessories + ":"

// AccessorySection returns the section name addressing one accessory slot kind.
func AccessorySection(kind string) string {
	return accessoryPrefix + kind
}

// AccessoryKind splits an "accessories:<kind>" section name. ok is false when
// name is not an accessory sub-section.
func AccessoryKind(name string) (kind string, ok bool) {
	if !strings.HasPrefix(name, accessoryPrefix) {
		return "", false
	}
	kind = name[len(accessoryPrefix):]
	return kind, kind != ""
}

// KnownSection reports whether name is a contract section or an accessory
// sub-section. Adapter-owned names outside this set are stored but cannot be
// addressed by the extract protocol.
func KnownSection(name string) bool {
	switch name {
	case SectionMain, SectionArmor, SectionOffhand, SectionEnderChest, SectionAccessories, SectionGeneric:
		return true
	}
	_, ok := AccessoryKind(name)
	return ok
}

// Snapshot is an immutable captured state record. ID and BackupNumber are
// zero until the store assigns them at insert time.
type Snapshot struct {
	ID             int64
	PrincipalID    uuid.UUID
	PrincipalLabel string
	BackupNumber   int
	CapturedAt     time.Time
	EventKind      EventKind
	WorldID        string
	PosX           float64
	PosY           float64
	PosZ           float64
	XPLevel        int
	XPProgress     float64
	// Cause is only meaningful when EventKind is EventDeath.
	Cause    string
	Sections map[string]string
}

// Summary is the listing projection of a snapshot.
type Summary struct {
	BackupNumber int
	CapturedAt   time.Time
	EventKind    EventKind
	WorldID      string
}
