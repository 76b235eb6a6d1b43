// Package codec maps ordered item-slot sequences to self-describing textual
// blobs. The compound form is a JSON document with an "Items" list holding
// the non-empty slots (each tagged with its original "Slot" index) and a
// "Size" field recording the slot count. A legacy top-level list form is
// still readable for blobs written before the compound form existed.
package codec

import (
	"encoding/json"
	"strconv"
	"strings"

	apperrors "github.com/emberforge/playervault/internal/platform/errors"
	"github.com/emberforge/playervault/internal/vault/domain"
)

// slotKey is the reserved per-entry field carrying the original slot index.
const slotKey = "Slot"

// currentVersion is the highest compound-document version this codec reads.
// Documents omit the field; it exists so a future format bump stays readable
// as an explicit error rather than silent corruption.
const currentVersion = 1

// emptyDoc is the canonical encoding of an empty inventory.
const emptyDoc = "{}"

// EncodeItems encodes an ordered slot sequence into the compound form.
// Empty slots are omitted from the Items list; their indices are implied by
// the Slot field on present entries. A zero-length sequence encodes to "{}".
func EncodeItems(items []domain.Item) (string, error) {
	if len(items) == 0 {
		return emptyDoc, nil
	}

	entries := make([]map[string]any, 0, len(items))
	for i, item := range items {
		if item.IsEmpty() {
			continue
		}
		entry := make(map[string]any, len(item)+1)
		for k, v := range item {
			entry[k] = v
		}
		entry[slotKey] = i
		entries = append(entries, entry)
	}

	doc := map[string]any{
		"Items": entries,
		"Size":  len(items),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeMalformedBlob, "encode item list", err)
	}
	return string(raw), nil
}

// DecodeItems decodes a blob produced by EncodeItems (or the legacy list
// form) into a slot sequence. The result has length Size when the document
// records one, otherwise max(Slot)+1, with empty slots filled by the empty
// sentinel. Entries whose Slot index is at or past the recorded size are
// appended so no data is dropped.
func DecodeItems(blob string) ([]domain.Item, error) {
	blob = strings.TrimSpace(blob)
	if blob == "" || blob == emptyDoc {
		return nil, nil
	}
	if strings.HasPrefix(blob, "[") {
		return decodeLegacyList(blob)
	}

	var doc struct {
		Version *int             `json:"Version"`
		Size    *int             `json:"Size"`
		Items   []map[string]any `json:"Items"`
	}
	if err := json.Unmarshal([]byte(blob), &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMalformedBlob, "decode item list", err)
	}
	if doc.Version != nil && *doc.Version > currentVersion {
		return nil, apperrors.WithMetadata(apperrors.CodeUnknownVersion, "unsupported blob version",
			map[string]string{"version": strconv.Itoa(*doc.Version)})
	}

	size := 0
	if doc.Size != nil {
		size = *doc.Size
	} else if len(doc.Items) > 0 {
		size = maxSlot(doc.Items) + 1
	}
	if size < 0 {
		return nil, apperrors.New(apperrors.CodeMalformedBlob, "negative slot count")
	}

	items := make([]domain.Item, size)
	for _, entry := range doc.Items {
		slot, err := entrySlot(entry)
		if err != nil {
			return nil, err
		}
		if slot < 0 {
			return nil, apperrors.New(apperrors.CodeMalformedBlob, "negative slot index")
		}
		item := make(domain.Item, len(entry))
		for k, v := range entry {
			if k == slotKey {
				continue
			}
			item[k] = v
		}
		if slot < len(items) {
			items[slot] = item
		} else {
			// Slot beyond the recorded size: append rather than drop.
			items = append(items, item)
		}
	}
	return items, nil
}

// EncodeItem encodes a single item; empty items encode to "{}".
func EncodeItem(item domain.Item) (string, error) {
	if item.IsEmpty() {
		return emptyDoc, nil
	}
	raw, err := json.Marshal(map[string]any(item))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeMalformedBlob, "encode item", err)
	}
	return string(raw), nil
}

// DecodeItem decodes a single item document; "" and "{}" decode to the empty
// sentinel.
func DecodeItem(blob string) (domain.Item, error) {
	blob = strings.TrimSpace(blob)
	if blob == "" || blob == emptyDoc {
		return domain.Empty(), nil
	}
	var item domain.Item
	if err := json.Unmarshal([]byte(blob), &item); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMalformedBlob, "decode item", err)
	}
	return item, nil
}

// EncodeComposite encodes a named group of blobs (accessory slot kind to
// encoded item list) as one section blob.
func EncodeComposite(parts map[string]string) (string, error) {
	if len(parts) == 0 {
		return emptyDoc, nil
	}
	raw, err := json.Marshal(parts)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeMalformedBlob, "encode composite section", err)
	}
	return string(raw), nil
}

// DecodeComposite splits a composite section blob back into its named parts.
func DecodeComposite(blob string) (map[string]string, error) {
	blob = strings.TrimSpace(blob)
	if blob == "" || blob == emptyDoc {
		return map[string]string{}, nil
	}
	var parts map[string]string
	if err := json.Unmarshal([]byte(blob), &parts); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMalformedBlob, "decode composite section", err)
	}
	return parts, nil
}

// decodeLegacyList reads the pre-compound top-level list form. Elements are
// either item documents or strings holding an escaped item document; both
// appear in stored rows from early releases.
func decodeLegacyList(blob string) ([]domain.Item, error) {
	var entries []any
	if err := json.Unmarshal([]byte(blob), &entries); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMalformedBlob, "decode legacy item list", err)
	}

	items := make([]domain.Item, 0, len(entries))
	for _, entry := range entries {
		switch val := entry.(type) {
		case nil:
			items = append(items, domain.Empty())
		case string:
			item, err := DecodeItem(val)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		case map[string]any:
			if len(val) == 0 {
				items = append(items, domain.Empty())
				continue
			}
			items = append(items, domain.Item(val))
		default:
			return nil, apperrors.New(apperrors.CodeMalformedBlob, "legacy list entry is neither document nor string")
		}
	}
	return items, nil
}

// entrySlot reads an entry's slot index. Entries without a Slot tag are
// malformed: defaulting them would silently collide on slot 0.
func entrySlot(entry map[string]any) (int, error) {
	raw, ok := entry[slotKey]
	if !ok {
		return 0, apperrors.New(apperrors.CodeMalformedBlob, "entry has no slot index")
	}
	num, ok := raw.(float64)
	if !ok {
		return 0, apperrors.New(apperrors.CodeMalformedBlob, "slot index is not a number")
	}
	return int(num), nil
}

func maxSlot(entries []map[string]any) int {
	max := 0
	for _, entry := range entries {
		if slot, err := entrySlot(entry); err == nil && slot > max {
			max = slot
		}
	}
	return max
}

