package viewer

import (
	"context"

	"github.com/google/uuid"

	apperrors "github.com/emberforge/playervault/internal/platform/errors"
	"github.com/emberforge/playervault/internal/host"
	"github.com/emberforge/playervault/internal/vault/codec"
	"github.com/emberforge/playervault/internal/vault/domain"
	"github.com/emberforge/playervault/internal/vault/storage"
)

// ExtractRequest addresses one item inside a stored snapshot.
type ExtractRequest struct {
	SnapshotID int64
	Section    string
	Slot       int
}

// Extractor copies single items out of stored snapshots into an operator's
// live inventory. The snapshot itself is never modified.
type Extractor struct {
	store storage.Store
	host  host.Host
}

func NewExtractor(store storage.Store, h host.Host) *Extractor {
	return &Extractor{store: store, host: h}
}

// Extract validates the request, gives the operator a copy of the addressed
// item, and confirms in chat. Validation order: the snapshot must exist, the
// section must be addressable, the slot must hold an item.
func (e *Extractor) Extract(ctx context.Context, operator uuid.UUID, req ExtractRequest) (domain.Item, error) {
	snapshot, err := e.store.GetByID(ctx, req.SnapshotID)
	if err != nil {
		return nil, err
	}

	if !domain.KnownSection(req.Section) {
		return nil, apperrors.WithMetadata(apperrors.CodeBadSection, "section is not extract-addressable",
			map[string]string{"section": req.Section})
	}

	items, err := e.sectionItems(snapshot, req.Section)
	if err != nil {
		return nil, err
	}
	if req.Slot < 0 || req.Slot >= len(items) || items[req.Slot].IsEmpty() {
		return nil, apperrors.WithMetadata(apperrors.CodeEmptySlot, "no item at slot",
			map[string]string{"section": req.Section})
	}

	item := items[req.Slot].Clone()
	if err := e.host.GiveItem(ctx, operator, item); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "give extracted item", err)
	}
	label := itemLabel(item)
	_ = e.host.SendMessage(ctx, operator, "Took item: "+label)
	return item, nil
}

// sectionItems resolves a section name to its decoded slot sequence.
// "accessories:<kind>" addresses one kind inside the composite blob.
func (e *Extractor) sectionItems(snapshot *domain.Snapshot, section string) ([]domain.Item, error) {
	if kind, ok := domain.AccessoryKind(section); ok {
		blob, present := snapshot.Sections[domain.SectionAccessories]
		if !present {
			return nil, apperrors.WithMetadata(apperrors.CodeBadSection, "snapshot has no accessory section",
				map[string]string{"section": section})
		}
		parts, err := codec.DecodeComposite(blob)
		if err != nil {
			return nil, err
		}
		partBlob, present := parts[kind]
		if !present {
			return nil, apperrors.WithMetadata(apperrors.CodeBadSection, "snapshot has no such accessory kind",
				map[string]string{"section": section})
		}
		return codec.DecodeItems(partBlob)
	}

	blob, present := snapshot.Sections[section]
	if !present {
		return nil, apperrors.WithMetadata(apperrors.CodeBadSection, "snapshot has no such section",
			map[string]string{"section": section})
	}
	if section == domain.SectionAccessories || section == domain.SectionGeneric {
		// Composite and tagged-state sections have no flat slot addressing.
		return nil, apperrors.WithMetadata(apperrors.CodeBadSection, "section has no slot addressing",
			map[string]string{"section": section})
	}
	return codec.DecodeItems(blob)
}

func itemLabel(item domain.Item) string {
	if id, ok := item["id"].(string); ok && id != "" {
		return id
	}
	return "unknown item"
}
