// Package mirror is the client side of the workspace protocol: a Predictor that
// recomputes an operation's effect locally and a Session that shows the
// prediction at once and then settles on the server's answer.
package mirror

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"marginalia/api/internal/outline"
	"marginalia/api/internal/util"
)

// ErrRejected is returned when the predictor refuses an operation locally. The
// operation is then never sent to the server.
var ErrRejected = errors.New("operation rejected")

func rejected(op, format string, args ...any) error {
	return fmt.Errorf("%s: %s: %w", op, fmt.Sprintf(format, args...), ErrRejected)
}

// Predictor works on the tolerant raw form with fractional orders and leaves
// all renumbering to the normalizer.
type Predictor struct {
	NewID func(prefix string) string
	Now   func() time.Time
}

func NewPredictor() *Predictor {
	return &Predictor{NewID: util.NewID, Now: time.Now}
}

var _ outline.Applier = (*Predictor)(nil)

// Apply predicts the workspace the server will return for op.
func (p *Predictor) Apply(ws outline.Workspace, op outline.Operation) (outline.Workspace, error) {
	return p.Predict(ws, op)
}

func (p *Predictor) Predict(ws outline.Workspace, op outline.Operation) (outline.Workspace, error) {
	raw := ws.Raw()
	var err error
	switch o := op.(type) {
	case outline.AddGroup:
		err = p.addGroup(&raw, o)
	case *outline.AddGroup:
		err = p.addGroup(&raw, *o)
	case outline.UpdateGroup:
		err = p.updateGroup(&raw, o)
	case *outline.UpdateGroup:
		err = p.updateGroup(&raw, *o)
	case outline.DeleteGroup:
		err = p.deleteGroup(&raw, o)
	case *outline.DeleteGroup:
		err = p.deleteGroup(&raw, *o)
	case outline.AddItem:
		err = p.addItem(&raw, o)
	case *outline.AddItem:
		err = p.addItem(&raw, *o)
	case outline.MoveItem:
		err = p.moveItem(&raw, outline.OpMoveItem, o)
	case *outline.MoveItem:
		err = p.moveItem(&raw, outline.OpMoveItem, *o)
	case outline.UpdateItem:
		err = p.updateItem(&raw, o)
	case *outline.UpdateItem:
		err = p.updateItem(&raw, *o)
	case outline.DeleteItem:
		err = p.deleteItem(&raw, o)
	case *outline.DeleteItem:
		err = p.deleteItem(&raw, *o)
	default:
		name := "<nil>"
		if op != nil {
			name = op.Name()
		}
		return outline.Workspace{}, rejected(name, "unknown operation")
	}
	if err != nil {
		return outline.Workspace{}, err
	}
	raw.UpdatedAt = ""
	engine := &outline.Engine{NewID: p.NewID, Now: p.Now}
	return engine.Normalize(raw), nil
}

func (p *Predictor) addGroup(raw *outline.RawWorkspace, o outline.AddGroup) error {
	title := strings.TrimSpace(o.Title)
	if title == "" {
		return rejected(outline.OpAddGroup, "title is required")
	}
	next := 0.0
	for _, g := range raw.Groups {
		if order := value(g.Order); order >= next {
			next = order + 1
		}
	}
	raw.Groups = append(raw.Groups, outline.RawGroup{
		ID:          p.freshID("grp", groupIDs(raw)),
		Title:       title,
		Description: strings.TrimSpace(o.Description),
		Order:       &next,
	})
	return nil
}

func (p *Predictor) updateGroup(raw *outline.RawWorkspace, o outline.UpdateGroup) error {
	g := findGroup(raw, o.ID)
	if g == nil {
		return rejected(outline.OpUpdateGroup, "group %q not found", o.ID)
	}
	if o.Patch.Title != nil {
		title := strings.TrimSpace(*o.Patch.Title)
		if title == "" {
			return rejected(outline.OpUpdateGroup, "title must not be empty")
		}
		g.Title = title
	}
	if o.Patch.Description != nil {
		g.Description = strings.TrimSpace(*o.Patch.Description)
	}
	if o.Patch.Collapsed != nil {
		g.Collapsed = *o.Patch.Collapsed
	}
	if o.Patch.Order != nil {
		var others []*outline.RawGroup
		for i := range raw.Groups {
			if raw.Groups[i].ID != o.ID {
				others = append(others, &raw.Groups[i])
			}
		}
		g.Order = slot(others, func(r *outline.RawGroup) **float64 { return &r.Order }, o.Patch.Order)
	}
	return nil
}

func (p *Predictor) deleteGroup(raw *outline.RawWorkspace, o outline.DeleteGroup) error {
	if findGroup(raw, o.ID) == nil {
		return rejected(outline.OpDeleteGroup, "group %q not found", o.ID)
	}
	taken := groupIDs(raw)
	kept := make([]outline.RawGroup, 0, len(raw.Groups))
	for _, g := range raw.Groups {
		if g.ID != o.ID {
			kept = append(kept, g)
		}
	}
	if len(kept) == 0 {
		kept = append(kept, outline.RawGroup{ID: p.freshID("grp", taken), Title: outline.DefaultGroupTitle, Order: new(float64)})
	}
	fallback := kept[0]
	for _, g := range kept[1:] {
		if value(g.Order) < value(fallback.Order) {
			fallback = g
		}
	}

	next := 0.0
	for _, it := range raw.Items {
		if it.GroupID == fallback.ID && it.ParentID == "" && value(it.Order) >= next {
			next = value(it.Order) + 1
		}
	}
	for _, i := range readingOrder(raw.Items, o.ID) {
		order := next
		next++
		raw.Items[i].GroupID = fallback.ID
		raw.Items[i].ParentID = ""
		raw.Items[i].Order = &order
	}
	raw.Groups = kept
	return nil
}

func (p *Predictor) addItem(raw *outline.RawWorkspace, o outline.AddItem) error {
	if !o.Type.Valid() {
		return rejected(outline.OpAddItem, "unknown item type %q", o.Type)
	}
	refID := strings.TrimSpace(o.RefID)
	if refID == "" {
		return rejected(outline.OpAddItem, "refId is required")
	}
	if findGroup(raw, o.GroupID) == nil {
		return rejected(outline.OpAddItem, "group %q not found", o.GroupID)
	}
	if o.ParentID != "" {
		parent := findItem(raw, o.ParentID)
		if parent == nil {
			return rejected(outline.OpAddItem, "parent item %q not found", o.ParentID)
		}
		if parent.GroupID != o.GroupID {
			return rejected(outline.OpAddItem, "parent item %q is not in group %q", o.ParentID, o.GroupID)
		}
	}
	raw.Items = append(raw.Items, outline.RawItem{
		ID:       p.freshID("itm", itemIDs(raw)),
		Type:     string(o.Type),
		RefID:    refID,
		GroupID:  o.GroupID,
		ParentID: o.ParentID,
		Stage:    string(outline.StageWorking),
		Status:   string(outline.StatusActive),
	})
	position(raw, len(raw.Items)-1, o.Order)
	return nil
}

func (p *Predictor) moveItem(raw *outline.RawWorkspace, opName string, o outline.MoveItem) error {
	it := findItem(raw, o.ItemID)
	if it == nil {
		return rejected(opName, "item %q not found", o.ItemID)
	}
	group, parent := it.GroupID, it.ParentID
	if o.GroupID != nil {
		if findGroup(raw, *o.GroupID) == nil {
			return rejected(opName, "group %q not found", *o.GroupID)
		}
		if *o.GroupID != group {
			parent = ""
		}
		group = *o.GroupID
	}
	if o.ParentID != nil {
		parent = *o.ParentID
	}
	if parent != "" {
		target := findItem(raw, parent)
		switch {
		case parent == o.ItemID:
			return rejected(opName, "item %q cannot be its own parent", o.ItemID)
		case target == nil:
			return rejected(opName, "parent item %q not found", parent)
		case hasAncestor(raw, parent, o.ItemID):
			return rejected(opName, "moving %q under %q would create a cycle", o.ItemID, parent)
		case target.GroupID != group:
			return rejected(opName, "parent item %q is not in group %q", parent, group)
		}
	}

	if group != it.GroupID {
		for i := range raw.Items {
			if raw.Items[i].ID != o.ItemID && hasAncestor(raw, raw.Items[i].ID, o.ItemID) {
				raw.Items[i].GroupID = group
			}
		}
	}
	it.GroupID = group
	it.ParentID = parent
	for i := range raw.Items {
		if raw.Items[i].ID == o.ItemID {
			position(raw, i, o.Order)
			break
		}
	}
	return nil
}

func (p *Predictor) updateItem(raw *outline.RawWorkspace, o outline.UpdateItem) error {
	it := findItem(raw, o.ItemID)
	if it == nil {
		return rejected(outline.OpUpdateItem, "item %q not found", o.ItemID)
	}
	patch := o.Patch
	switch {
	case patch.Type != nil && !patch.Type.Valid():
		return rejected(outline.OpUpdateItem, "unknown item type %q", *patch.Type)
	case patch.RefID != nil && strings.TrimSpace(*patch.RefID) == "":
		return rejected(outline.OpUpdateItem, "refId must not be empty")
	case patch.Stage != nil && !patch.Stage.Valid():
		return rejected(outline.OpUpdateItem, "invalid stage %q", *patch.Stage)
	case patch.Status != nil && !patch.Status.Valid():
		return rejected(outline.OpUpdateItem, "invalid status %q", *patch.Status)
	}
	if patch.Type != nil {
		it.Type = string(*patch.Type)
	}
	if patch.RefID != nil {
		it.RefID = strings.TrimSpace(*patch.RefID)
	}
	if patch.Stage != nil {
		it.Stage = string(*patch.Stage)
	}
	if patch.Status != nil {
		it.Status = string(*patch.Status)
	}
	if patch.GroupID == nil && patch.ParentID == nil && patch.Order == nil {
		return nil
	}
	return p.moveItem(raw, outline.OpUpdateItem, outline.MoveItem{
		ItemID:   o.ItemID,
		GroupID:  patch.GroupID,
		ParentID: patch.ParentID,
		Order:    patch.Order,
	})
}

func (p *Predictor) deleteItem(raw *outline.RawWorkspace, o outline.DeleteItem) error {
	if findItem(raw, o.ItemID) == nil {
		return rejected(outline.OpDeleteItem, "item %q not found", o.ItemID)
	}
	kept := make([]outline.RawItem, 0, len(raw.Items))
	for _, it := range raw.Items {
		if it.ID != o.ItemID && !hasAncestor(raw, it.ID, o.ItemID) {
			kept = append(kept, it)
		}
	}
	raw.Items = kept
	return nil
}

func (p *Predictor) freshID(prefix string, taken map[string]bool) string {
	for {
		if id := p.NewID(prefix); !taken[id] {
			return id
		}
	}
}

// position gives items[i] an order that sorts it at the requested index of its
// scope, or after every sibling. Siblings are renumbered 0..k-1 first so a
// half-step lands between two of them.
func position(raw *outline.RawWorkspace, i int, at *int) {
	moving := raw.Items[i]
	var siblings []*outline.RawItem
	for k := range raw.Items {
		if k != i && raw.Items[k].GroupID == moving.GroupID && raw.Items[k].ParentID == moving.ParentID {
			siblings = append(siblings, &raw.Items[k])
		}
	}
	raw.Items[i].Order = slot(siblings, func(r *outline.RawItem) **float64 { return &r.Order }, at)
}

func slot[T any](siblings []*T, order func(*T) **float64, at *int) *float64 {
	sort.SliceStable(siblings, func(a, b int) bool {
		return value(*order(siblings[a])) < value(*order(siblings[b]))
	})
	for n, s := range siblings {
		v := float64(n)
		*order(s) = &v
	}
	target := float64(len(siblings))
	if at != nil {
		target = math.Max(0, math.Min(float64(*at), target)) - 0.5
	}
	return &target
}

// hasAncestor walks id's parent chain looking for ancestorID.
func hasAncestor(raw *outline.RawWorkspace, id, ancestorID string) bool {
	seen := map[string]bool{}
	for current := findItem(raw, id); current != nil && current.ParentID != ""; current = findItem(raw, current.ParentID) {
		if current.ParentID == ancestorID {
			return true
		}
		if seen[current.ParentID] {
			return false
		}
		seen[current.ParentID] = true
	}
	return false
}

// readingOrder lists groupID's items depth first with siblings by order.
func readingOrder(items []outline.RawItem, groupID string) []int {
	var out []int
	var visit func(parentID string)
	visit = func(parentID string) {
		var level []int
		for i, it := range items {
			if it.GroupID == groupID && it.ParentID == parentID {
				level = append(level, i)
			}
		}
		sort.SliceStable(level, func(a, b int) bool { return value(items[level[a]].Order) < value(items[level[b]].Order) })
		for _, i := range level {
			out = append(out, i)
			visit(items[i].ID)
		}
	}
	visit("")
	return out
}

func value(order *float64) float64 {
	if order == nil {
		return math.Inf(1)
	}
	return *order
}

func findGroup(raw *outline.RawWorkspace, id string) *outline.RawGroup {
	for i := range raw.Groups {
		if raw.Groups[i].ID == id {
			return &raw.Groups[i]
		}
	}
	return nil
}

func findItem(raw *outline.RawWorkspace, id string) *outline.RawItem {
	for i := range raw.Items {
		if raw.Items[i].ID == id {
			return &raw.Items[i]
		}
	}
	return nil
}

func groupIDs(raw *outline.RawWorkspace) map[string]bool {
	set := make(map[string]bool, len(raw.Groups))
	for _, g := range raw.Groups {
		set[g.ID] = true
	}
	return set
}

func itemIDs(raw *outline.RawWorkspace) map[string]bool {
	set := make(map[string]bool, len(raw.Items))
	for _, it := range raw.Items {
		set[it.ID] = true
	}
	return set
}
