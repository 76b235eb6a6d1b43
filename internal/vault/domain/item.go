package domain

// Item is one inventory slot's content as an opaque tag tree supplied by the
// host. The engine never interprets item fields beyond the reserved Slot key
// used by the codec; unknown fields round-trip verbatim.
type Item map[string]any

// Empty is the designated empty-slot sentinel.
func Empty() Item { return nil }

// IsEmpty reports whether the item represents an empty slot.
func (it Item) IsEmpty() bool {
	return len(it) == 0
}

// Clone returns a deep copy of the item. Extractions hand out clones so a
// snapshot's contents are never aliased by live inventories.
func (it Item) Clone() Item {
	if it == nil {
		return nil
	}
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return val
	}
}
