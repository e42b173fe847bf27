package conflict

import (
	"sort"
	"time"

	"pos-sync-service/internal/store"
)

// Merger combines a local and a server payload field-by-field. Both maps
// are inputs only; implementations must return a fresh map.
type Merger interface {
	Merge(local, server map[string]any) map[string]any
}

type MergerFunc func(local, server map[string]any) map[string]any

func (f MergerFunc) Merge(local, server map[string]any) map[string]any { return f(local, server) }

func defaultMergers() map[store.Collection]Merger {
	return map[store.Collection]Merger{
		store.Orders:    MergerFunc(mergeOrder),
		store.MenuItems: MergerFunc(mergeMenuItem),
	}
}

// DefaultMerge starts from the server value and fills in scalar fields
// where the server side is empty and the local side is not.
func DefaultMerge(local, server map[string]any) map[string]any {
	out := make(map[string]any, len(server)+len(local))
	for k, v := range server {
		out[k] = v
	}
	for k, lv := range local {
		sv, present := out[k]
		if !present || isEmptyScalar(sv) {
			if !isEmptyScalar(lv) {
				out[k] = lv
			}
		}
	}
	return out
}

func isEmptyScalar(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case float64:
		return t == 0
	case bool:
		return false
	default:
		// Arrays and objects are not scalars; leave them alone.
		return false
	}
}

// mergeOrder applies the default merge, then unions line items by item
// key taking the larger quantity. Server items keep their order; items
// only present locally follow, sorted by key for determinism.
func mergeOrder(local, server map[string]any) map[string]any {
	out := DefaultMerge(local, server)

	localItems, _ := local["items"].([]any)
	serverItems, _ := server["items"].([]any)
	if localItems == nil && serverItems == nil {
		return out
	}

	byKey := make(map[string]map[string]any)
	var order []string
	add := func(items []any) {
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			key, _ := item["key"].(string)
			if key == "" {
				continue
			}
			existing, seen := byKey[key]
			if !seen {
				cp := make(map[string]any, len(item))
				for k, v := range item {
					cp[k] = v
				}
				byKey[key] = cp
				order = append(order, key)
				continue
			}
			if qty, ok := item["quantity"].(float64); ok {
				if cur, ok := existing["quantity"].(float64); !ok || qty > cur {
					existing["quantity"] = qty
				}
			}
		}
	}
	add(serverItems)

	before := len(order)
	add(localItems)
	localOnly := order[before:]
	sort.Strings(localOnly)

	merged := make([]any, 0, len(order))
	for _, key := range order {
		merged = append(merged, byKey[key])
	}
	out["items"] = merged
	return out
}

// mergeMenuItem takes the server's availability flag unconditionally and
// its price unless the local edit is strictly newer; local customizations
// are always preserved.
func mergeMenuItem(local, server map[string]any) map[string]any {
	out := DefaultMerge(local, server)

	localNewer := false
	if lt, ok := mapTimestamp(local, "lastModified"); ok {
		if st, ok := mapTimestamp(server, "updatedAt"); ok {
			localNewer = lt.After(st)
		}
	}

	if price, ok := server["price"]; ok && !localNewer {
		out["price"] = price
	} else if price, ok := local["price"]; ok && localNewer {
		out["price"] = price
	}
	if available, ok := server["available"]; ok {
		out["available"] = available
	}
	if customizations, ok := local["customizations"]; ok {
		out["customizations"] = customizations
	}
	return out
}

// mapTimestamp reads a timestamp field out of a decoded payload.
// Numbers are unix milliseconds; strings are RFC 3339.
func mapTimestamp(m map[string]any, key string) (time.Time, bool) {
	switch v := m[key].(type) {
	case float64:
		return time.UnixMilli(int64(v)).UTC(), true
	case string:
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	default:
		return time.Time{}, false
	}
}
