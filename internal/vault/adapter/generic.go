package adapter

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	apperrors "github.com/emberforge/playervault/internal/platform/errors"
	"github.com/emberforge/playervault/internal/host"
	"github.com/emberforge/playervault/internal/vault/domain"
)

// DefaultGenericExclusions lists tagged-state keys the core sections already
// persist. Capturing them again would double-restore inventories.
var DefaultGenericExclusions = []string{
	"Inventory",
	"Armor",
	"Offhand",
	"EnderItems",
	"Accessories",
	"XpLevel",
	"XpP",
}

// Generic is the catch-all adapter. It snapshots the principal's remaining
// tagged-tree state wholesale, minus an exclusion set, so state written by
// runtimes without a dedicated adapter still survives a restore.
type Generic struct {
	excluded map[string]struct{}
}

// NewGeneric builds the catch-all adapter. A nil exclusion list selects
// DefaultGenericExclusions.
func NewGeneric(exclusions []string) *Generic {
	if exclusions == nil {
		exclusions = DefaultGenericExclusions
	}
	excluded := make(map[string]struct{}, len(exclusions))
	for _, key := range exclusions {
		excluded[key] = struct{}{}
	}
	return &Generic{excluded: excluded}
}

func (*Generic) Name() string { return "generic" }

func (*Generic) Sections() []string { return []string{domain.SectionGeneric} }

func (*Generic) Available(h host.Host) bool {
	_, ok := h.(host.TaggedStateHost)
	return ok
}

func (g *Generic) Capture(ctx context.Context, h host.Host, principal uuid.UUID) (map[string]string, error) {
	taggedHost, ok := h.(host.TaggedStateHost)
	if !ok {
		return nil, apperrors.New(apperrors.CodeAdapterUnavailable, "host does not expose tagged state")
	}

	state, err := taggedHost.TaggedState(ctx, principal)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeAdapterUnavailable, "read tagged state", err)
	}

	kept := make(map[string]any, len(state))
	for key, value := range state {
		if _, skip := g.excluded[key]; skip {
			continue
		}
		kept[key] = value
	}
	if len(kept) == 0 {
		return map[string]string{domain.SectionGeneric: "{}"}, nil
	}
	raw, err := json.Marshal(kept)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMalformedBlob, "encode tagged state", err)
	}
	return map[string]string{domain.SectionGeneric: string(raw)}, nil
}

func (g *Generic) Restore(ctx context.Context, h host.Host, principal uuid.UUID, sections map[string]string) error {
	blob, ok := sections[domain.SectionGeneric]
	if !ok {
		return nil
	}
	taggedHost, ok := h.(host.TaggedStateHost)
	if !ok {
		return apperrors.New(apperrors.CodeAdapterUnavailable, "host does not expose tagged state")
	}

	state := make(map[string]any)
	if blob != "" && blob != "{}" {
		if err := json.Unmarshal([]byte(blob), &state); err != nil {
			return apperrors.Wrap(apperrors.CodeMalformedBlob, "decode tagged state", err)
		}
	}
	// Excluded keys never make it into the blob, but stored rows may predate
	// an exclusion; keep restore symmetric with capture.
	for key := range g.excluded {
		delete(state, key)
	}
	if len(state) == 0 {
		return nil
	}
	if err := taggedHost.MergeTaggedState(ctx, principal, state); err != nil {
		return apperrors.Wrap(apperrors.CodeAdapterUnavailable, "write tagged state", err)
	}
	return nil
}
