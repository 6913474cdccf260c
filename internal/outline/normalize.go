package outline

import (
	"math"
	"sort"
	"time"

	"marginalia/api/internal/util"
)

// Engine is the authoritative implementation. NewID and Now are injected so
// tests can compare it with the client predictor deterministically.
type Engine struct {
	NewID func(prefix string) string
	Now   func() time.Time
}

func NewEngine() *Engine {
	return &Engine{NewID: util.NewID, Now: time.Now}
}

var defaultEngine = NewEngine()

// Normalize repairs raw with generated ids and the wall clock.
func Normalize(raw RawWorkspace) Workspace {
	return defaultEngine.Normalize(raw)
}

// Normalize never fails: it repairs raw into a workspace that satisfies every
// structural invariant.
func (e *Engine) Normalize(raw RawWorkspace) Workspace {
	ws := Workspace{
		SchemaVersion: SchemaVersion,
		UpdatedAt:     e.timestamp(raw.UpdatedAt),
	}
	ws.Groups = e.normalizeGroups(raw.Groups)

	groupIDs := make(map[string]bool, len(ws.Groups))
	for _, g := range ws.Groups {
		groupIDs[g.ID] = true
	}

	itemIDs := make(map[string]bool, len(raw.Items))
	ranks := make([]float64, 0, len(raw.Items))
	ws.Items = make([]Item, 0, len(raw.Items))
	for _, r := range raw.Items {
		id := r.ID
		if id == "" || itemIDs[id] {
			id = e.uniqueID("itm", itemIDs)
		}
		itemIDs[id] = true

		it := Item{
			ID:       id,
			Type:     ItemType(r.Type),
			RefID:    r.RefID,
			GroupID:  r.GroupID,
			ParentID: r.ParentID,
			Stage:    Stage(r.Stage),
			Status:   Status(r.Status),
		}
		if !it.Type.Valid() {
			it.Type = TypeNote
		}
		if !it.Stage.Valid() {
			it.Stage = StageWorking
		}
		if !it.Status.Valid() {
			it.Status = StatusActive
		}
		if !groupIDs[it.GroupID] {
			it.GroupID = ws.Groups[0].ID
		}
		ws.Items = append(ws.Items, it)
		ranks = append(ranks, rank(r.Order))
	}

	resolveParents(ws.Items)
	restampScopes(ws.Items, ranks)
	return ws
}

func (e *Engine) normalizeGroups(raw []RawGroup) []Group {
	type ranked struct {
		group Group
		rank  float64
	}
	ids := make(map[string]bool, len(raw))
	list := make([]ranked, 0, len(raw)+1)
	for _, r := range raw {
		id := r.ID
		if id == "" || ids[id] {
			id = e.uniqueID("grp", ids)
		}
		ids[id] = true
		list = append(list, ranked{
			group: Group{ID: id, Title: r.Title, Description: r.Description, Collapsed: r.Collapsed},
			rank:  rank(r.Order),
		})
	}
	if len(list) == 0 {
		list = append(list, ranked{group: Group{ID: e.uniqueID("grp", ids), Title: DefaultGroupTitle}})
	}

	sort.SliceStable(list, func(a, b int) bool { return list[a].rank < list[b].rank })
	groups := make([]Group, len(list))
	for i, r := range list {
		groups[i] = r.group
		groups[i].Order = i
	}
	return groups
}

// resolveParents clears parent links that dangle, point at the item itself,
// cross into another group, or close a cycle.
func resolveParents(items []Item) {
	index := make(map[string]int, len(items))
	for i, it := range items {
		index[it.ID] = i
	}
	for i := range items {
		parentID := items[i].ParentID
		if parentID == "" {
			continue
		}
		j, ok := index[parentID]
		if !ok || j == i || items[j].GroupID != items[i].GroupID {
			items[i].ParentID = ""
		}
	}
	// Each cycle is broken at its first member in array order.
	for i := range items {
		if items[i].ParentID != "" && chainRevisits(items, index, i) {
			items[i].ParentID = ""
		}
	}
}

func chainRevisits(items []Item, index map[string]int, start int) bool {
	seen := map[string]bool{}
	current := items[start].ParentID
	for current != "" {
		if current == items[start].ID {
			return true
		}
		if seen[current] {
			return false
		}
		seen[current] = true
		j, ok := index[current]
		if !ok {
			return false
		}
		current = items[j].ParentID
	}
	return false
}

// restampScopes renumbers every (groupId, parentId) scope to 0..k-1, keeping
// prior order and breaking ties by array position.
func restampScopes(items []Item, ranks []float64) {
	scopes := map[string][]int{}
	for i, it := range items {
		key := ScopeKey(it.GroupID, it.ParentID)
		scopes[key] = append(scopes[key], i)
	}
	for _, members := range scopes {
		sort.SliceStable(members, func(a, b int) bool { return ranks[members[a]] < ranks[members[b]] })
		for n, i := range members {
			items[i].Order = n
		}
	}
}

// rank sorts a missing or non-finite order after every finite one.
func rank(order *float64) float64 {
	if order == nil || math.IsNaN(*order) || math.IsInf(*order, 0) {
		return math.Inf(1)
	}
	return *order
}

func (e *Engine) timestamp(value string) string {
	if value != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, value); err == nil {
			return parsed.UTC().Format(time.RFC3339Nano)
		}
	}
	return e.Now().UTC().Format(time.RFC3339Nano)
}

func (e *Engine) uniqueID(prefix string, taken map[string]bool) string {
	for {
		id := e.NewID(prefix)
		if !taken[id] {
			return id
		}
	}
}
