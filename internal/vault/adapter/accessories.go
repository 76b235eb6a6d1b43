package adapter

import (
	"context"

	"github.com/google/uuid"

	apperrors "github.com/emberforge/playervault/internal/platform/errors"
	"github.com/emberforge/playervault/internal/host"
	"github.com/emberforge/playervault/internal/vault/codec"
	"github.com/emberforge/playervault/internal/vault/domain"
)

// accessoriesNamespace is the foreign runtime namespace probed before the
// adapter activates.
const accessoriesNamespace = "accessories"

// Accessories captures and restores accessory sub-inventories (rings,
// amulets, ...) as a single composite section keyed by slot kind.
type Accessories struct{}

func NewAccessories() *Accessories { return &Accessories{} }

func (*Accessories) Name() string { return "accessories" }

func (*Accessories) Sections() []string { return []string{domain.SectionAccessories} }

// Available requires both the runtime namespace and the accessory host
// surface. A host can carry the namespace without exposing the surface when
// the platform layer is incomplete; the adapter stays inert in that case.
func (*Accessories) Available(h host.Host) bool {
	if !h.IsAvailableNamespace(accessoriesNamespace) {
		return false
	}
	_, ok := h.(host.AccessoryHost)
	return ok
}

func (a *Accessories) Capture(ctx context.Context, h host.Host, principal uuid.UUID) (map[string]string, error) {
	accessoryHost, ok := h.(host.AccessoryHost)
	if !ok {
		return nil, apperrors.New(apperrors.CodeAdapterUnavailable, "host does not expose accessory slots")
	}

	slots, err := accessoryHost.Accessories(ctx, principal)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeAdapterUnavailable, "read accessory slots", err)
	}

	parts := make(map[string]string, len(slots))
	for kind, items := range slots {
		blob, err := codec.EncodeItems(items)
		if err != nil {
			return nil, err
		}
		parts[kind] = blob
	}
	blob, err := codec.EncodeComposite(parts)
	if err != nil {
		return nil, err
	}
	return map[string]string{domain.SectionAccessories: blob}, nil
}

func (a *Accessories) Restore(ctx context.Context, h host.Host, principal uuid.UUID, sections map[string]string) error {
	blob, ok := sections[domain.SectionAccessories]
	if !ok {
		return nil
	}
	accessoryHost, ok := h.(host.AccessoryHost)
	if !ok {
		return apperrors.New(apperrors.CodeAdapterUnavailable, "host does not expose accessory slots")
	}

	parts, err := codec.DecodeComposite(blob)
	if err != nil {
		return err
	}
	slots := make(map[string][]domain.Item, len(parts))
	for kind, partBlob := range parts {
		items, err := codec.DecodeItems(partBlob)
		if err != nil {
			return err
		}
		slots[kind] = items
	}
	if err := accessoryHost.SetAccessories(ctx, principal, slots); err != nil {
		return apperrors.Wrap(apperrors.CodeAdapterUnavailable, "write accessory slots", err)
	}
	return nil
}
