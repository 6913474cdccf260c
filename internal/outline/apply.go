package outline

import (
	"sort"
	"strings"
)

// Apply runs one operation against ws and returns the next normalized
// workspace. ws itself is never modified, so a failed operation leaves the
// caller's state untouched.
func (e *Engine) Apply(ws Workspace, op Operation) (Workspace, error) {
	next := ws.Clone()
	var err error
	switch o := deref(op).(type) {
	case AddGroup:
		err = e.addGroup(&next, o)
	case UpdateGroup:
		err = e.updateGroup(&next, o)
	case DeleteGroup:
		err = e.deleteGroup(&next, o)
	case AddItem:
		err = e.addItem(&next, o)
	case MoveItem:
		err = e.moveItem(&next, OpMoveItem, o)
	case UpdateItem:
		err = e.updateItem(&next, o)
	case DeleteItem:
		err = e.deleteItem(&next, o)
	default:
		name := "<nil>"
		if op != nil {
			name = op.Name()
		}
		return Workspace{}, unknownOpError(name)
	}
	if err != nil {
		return Workspace{}, err
	}
	next.UpdatedAt = ""
	return e.Normalize(next.Raw()), nil
}

func (e *Engine) addGroup(ws *Workspace, o AddGroup) error {
	title := strings.TrimSpace(o.Title)
	if title == "" {
		return opError(OpAddGroup, "title is required")
	}
	ws.Groups = append(ws.Groups, Group{
		ID:          e.uniqueID("grp", groupIDSet(ws.Groups)),
		Title:       title,
		Description: strings.TrimSpace(o.Description),
		Order:       len(ws.Groups),
	})
	return nil
}

func (e *Engine) updateGroup(ws *Workspace, o UpdateGroup) error {
	idx := ws.group(o.ID)
	if idx < 0 {
		return opError(OpUpdateGroup, "group %q not found", o.ID)
	}
	patch := o.Patch
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return opError(OpUpdateGroup, "title must not be empty")
		}
		ws.Groups[idx].Title = title
	}
	if patch.Description != nil {
		ws.Groups[idx].Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Collapsed != nil {
		ws.Groups[idx].Collapsed = *patch.Collapsed
	}
	if patch.Order != nil {
		reorderGroup(ws, idx, *patch.Order)
	}
	return nil
}

// reorderGroup moves the group at idx to position among the other groups and
// renumbers the whole list.
func reorderGroup(ws *Workspace, idx, position int) {
	moving := ws.Groups[idx]
	others := make([]Group, 0, len(ws.Groups)-1)
	others = append(others, ws.Groups[:idx]...)
	others = append(others, ws.Groups[idx+1:]...)
	sort.SliceStable(others, func(a, b int) bool { return others[a].Order < others[b].Order })

	position = clamp(position, len(others))
	reordered := make([]Group, 0, len(ws.Groups))
	reordered = append(reordered, others[:position]...)
	reordered = append(reordered, moving)
	reordered = append(reordered, others[position:]...)
	for i := range reordered {
		reordered[i].Order = i
	}
	ws.Groups = reordered
}

func (e *Engine) deleteGroup(ws *Workspace, o DeleteGroup) error {
	idx := ws.group(o.ID)
	if idx < 0 {
		return opError(OpDeleteGroup, "group %q not found", o.ID)
	}
	taken := groupIDSet(ws.Groups)
	remaining := make([]Group, 0, len(ws.Groups))
	remaining = append(remaining, ws.Groups[:idx]...)
	remaining = append(remaining, ws.Groups[idx+1:]...)
	if len(remaining) == 0 {
		remaining = append(remaining, Group{ID: e.uniqueID("grp", taken), Title: DefaultGroupTitle})
	}
	fallback := remaining[0]
	for _, g := range remaining[1:] {
		if g.Order < fallback.Order {
			fallback = g
		}
	}

	tail := 0
	for _, it := range ws.Items {
		if it.GroupID == fallback.ID && it.ParentID == "" {
			tail++
		}
	}
	for n, i := range OutlineOrder(ws.Items, o.ID) {
		ws.Items[i].GroupID = fallback.ID
		ws.Items[i].ParentID = ""
		ws.Items[i].Order = tail + n
	}
	ws.Groups = remaining
	return nil
}

func (e *Engine) addItem(ws *Workspace, o AddItem) error {
	if !o.Type.Valid() {
		return opError(OpAddItem, "unknown item type %q", o.Type)
	}
	refID := strings.TrimSpace(o.RefID)
	if refID == "" {
		return opError(OpAddItem, "refId is required")
	}
	if ws.group(o.GroupID) < 0 {
		return opError(OpAddItem, "group %q not found", o.GroupID)
	}
	if o.ParentID != "" {
		j := ws.item(o.ParentID)
		if j < 0 {
			return opError(OpAddItem, "parent item %q not found", o.ParentID)
		}
		if ws.Items[j].GroupID != o.GroupID {
			return opError(OpAddItem, "parent item %q is not in group %q", o.ParentID, o.GroupID)
		}
	}

	ws.Items = append(ws.Items, Item{
		ID:       e.uniqueID("itm", itemIDSet(ws.Items)),
		Type:     o.Type,
		RefID:    refID,
		GroupID:  o.GroupID,
		ParentID: o.ParentID,
		Stage:    StageWorking,
		Status:   StatusActive,
	})
	place(ws.Items, len(ws.Items)-1, o.Order)
	return nil
}

func (e *Engine) moveItem(ws *Workspace, opName string, o MoveItem) error {
	i := ws.item(o.ItemID)
	if i < 0 {
		return opError(opName, "item %q not found", o.ItemID)
	}
	current := ws.Items[i]

	targetGroup := current.GroupID
	if o.GroupID != nil {
		if ws.group(*o.GroupID) < 0 {
			return opError(opName, "group %q not found", *o.GroupID)
		}
		targetGroup = *o.GroupID
	}
	targetParent := current.ParentID
	switch {
	case o.ParentID != nil:
		targetParent = *o.ParentID
	case targetGroup != current.GroupID:
		targetParent = ""
	}

	if targetParent != "" {
		if targetParent == current.ID {
			return opError(opName, "item %q cannot be its own parent", current.ID)
		}
		j := ws.item(targetParent)
		if j < 0 {
			return opError(opName, "parent item %q not found", targetParent)
		}
		if WouldCreateCycle(ws.Items, current.ID, targetParent) {
			return opError(opName, "moving %q under %q would create a cycle", current.ID, targetParent)
		}
		if ws.Items[j].GroupID != targetGroup {
			return opError(opName, "parent item %q is not in group %q", targetParent, targetGroup)
		}
	}

	if targetGroup != current.GroupID {
		subtree := Descendants(ws.Items, current.ID)
		for k := range ws.Items {
			if subtree[ws.Items[k].ID] {
				ws.Items[k].GroupID = targetGroup
			}
		}
	}
	ws.Items[i].GroupID = targetGroup
	ws.Items[i].ParentID = targetParent
	place(ws.Items, i, o.Order)
	return nil
}

func (e *Engine) updateItem(ws *Workspace, o UpdateItem) error {
	i := ws.item(o.ItemID)
	if i < 0 {
		return opError(OpUpdateItem, "item %q not found", o.ItemID)
	}
	patch := o.Patch
	if patch.Type != nil && !patch.Type.Valid() {
		return opError(OpUpdateItem, "unknown item type %q", *patch.Type)
	}
	if patch.RefID != nil && strings.TrimSpace(*patch.RefID) == "" {
		return opError(OpUpdateItem, "refId must not be empty")
	}
	if patch.Stage != nil && !patch.Stage.Valid() {
		return opError(OpUpdateItem, "invalid stage %q", *patch.Stage)
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return opError(OpUpdateItem, "invalid status %q", *patch.Status)
	}

	if patch.Type != nil {
		ws.Items[i].Type = *patch.Type
	}
	if patch.RefID != nil {
		ws.Items[i].RefID = strings.TrimSpace(*patch.RefID)
	}
	if patch.Stage != nil {
		ws.Items[i].Stage = *patch.Stage
	}
	if patch.Status != nil {
		ws.Items[i].Status = *patch.Status
	}
	if patch.relocates() {
		return e.moveItem(ws, OpUpdateItem, MoveItem{
			ItemID:   o.ItemID,
			GroupID:  patch.GroupID,
			ParentID: patch.ParentID,
			Order:    patch.Order,
		})
	}
	return nil
}

func (e *Engine) deleteItem(ws *Workspace, o DeleteItem) error {
	if ws.item(o.ItemID) < 0 {
		return opError(OpDeleteItem, "item %q not found", o.ItemID)
	}
	doomed := Descendants(ws.Items, o.ItemID)
	doomed[o.ItemID] = true
	kept := ws.Items[:0]
	for _, it := range ws.Items {
		if !doomed[it.ID] {
			kept = append(kept, it)
		}
	}
	ws.Items = kept
	return nil
}

// place positions items[i] within its scope: at position when set, otherwise
// after every other sibling. The scope is renumbered densely.
func place(items []Item, i int, position *int) {
	key := ScopeKey(items[i].GroupID, items[i].ParentID)
	siblings := make([]int, 0)
	for k, it := range items {
		if k != i && ScopeKey(it.GroupID, it.ParentID) == key {
			siblings = append(siblings, k)
		}
	}
	sort.SliceStable(siblings, func(a, b int) bool { return items[siblings[a]].Order < items[siblings[b]].Order })

	at := len(siblings)
	if position != nil {
		at = clamp(*position, len(siblings))
	}
	sequence := make([]int, 0, len(siblings)+1)
	sequence = append(sequence, siblings[:at]...)
	sequence = append(sequence, i)
	sequence = append(sequence, siblings[at:]...)
	for n, k := range sequence {
		items[k].Order = n
	}
}

func clamp(position, max int) int {
	if position < 0 {
		return 0
	}
	if position > max {
		return max
	}
	return position
}

func groupIDSet(groups []Group) map[string]bool {
	set := make(map[string]bool, len(groups))
	for _, g := range groups {
		set[g.ID] = true
	}
	return set
}

func itemIDSet(items []Item) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it.ID] = true
	}
	return set
}
