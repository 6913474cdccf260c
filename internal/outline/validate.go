package outline

import (
	"math"
	"strings"
)

// Validate checks a full replacement strictly. Unlike Normalize it repairs
// nothing and reports the first violation with the offending index.
func Validate(raw RawWorkspace) error {
	if len(raw.issues) > 0 {
		return payloadError("%s", raw.issues[0])
	}
	groupIDs := make(map[string]bool, len(raw.Groups))
	for i, g := range raw.Groups {
		if g.ID != "" {
			if groupIDs[g.ID] {
				return payloadError("groups[%d] has duplicate id: %q", i, g.ID)
			}
			groupIDs[g.ID] = true
		}
		if !finite(g.Order) {
			return payloadError("groups[%d] has non-finite order", i)
		}
	}

	parentGroup := make(map[string]string, len(raw.Items))
	for _, it := range raw.Items {
		if _, ok := parentGroup[it.ID]; it.ID != "" && !ok {
			parentGroup[it.ID] = it.GroupID
		}
	}

	itemIDs := make(map[string]bool, len(raw.Items))
	for i, it := range raw.Items {
		if it.ID != "" {
			if itemIDs[it.ID] {
				return payloadError("items[%d] has duplicate id: %q", i, it.ID)
			}
			itemIDs[it.ID] = true
		}
		if !ItemType(it.Type).Valid() {
			return payloadError("items[%d] has unknown type: %q", i, it.Type)
		}
		if strings.TrimSpace(it.RefID) == "" {
			return payloadError("items[%d] has empty refId", i)
		}
		if !groupIDs[it.GroupID] {
			return payloadError("items[%d] references unknown groupId: %q", i, it.GroupID)
		}
		if !finite(it.Order) {
			return payloadError("items[%d] has non-finite order", i)
		}
		if it.Stage != "" && !Stage(it.Stage).Valid() {
			return payloadError("items[%d] has invalid stage: %q", i, it.Stage)
		}
		if it.Status != "" && !Status(it.Status).Valid() {
			return payloadError("items[%d] has invalid status: %q", i, it.Status)
		}
		if it.ParentID != "" {
			if group, ok := parentGroup[it.ParentID]; ok && group != it.GroupID {
				return payloadError("items[%d] parentId %q belongs to a different group", i, it.ParentID)
			}
		}
	}
	return nil
}

func finite(order *float64) bool {
	return order == nil || !(math.IsNaN(*order) || math.IsInf(*order, 0))
}
