package outline

import "sort"

// ScopeKey identifies one ordered sibling list: the items of a group that share
// a parent (or the group's root items when parentID is empty).
func ScopeKey(groupID, parentID string) string {
	return groupID + "\x1f" + parentID
}

// childIndex maps each parent id to its children's ids in array order.
func childIndex(items []Item) map[string][]string {
	children := make(map[string][]string, len(items))
	for _, it := range items {
		if it.ParentID == "" {
			continue
		}
		children[it.ParentID] = append(children[it.ParentID], it.ID)
	}
	return children
}

// WouldCreateCycle reports whether placing itemID under newParentID would make
// the item its own ancestor, that is whether newParentID is the item itself or
// one of its descendants.
func WouldCreateCycle(items []Item, itemID, newParentID string) bool {
	if newParentID == "" {
		return false
	}
	if newParentID == itemID {
		return true
	}
	children := childIndex(items)
	seen := map[string]bool{itemID: true}
	stack := []string{itemID}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, child := range children[current] {
			if child == newParentID {
				return true
			}
			if !seen[child] {
				seen[child] = true
				stack = append(stack, child)
			}
		}
	}
	return false
}

// Descendants returns the transitive closure of rootID's children. Items may
// appear in any order, so the scan repeats until nothing new is added.
func Descendants(items []Item, rootID string) map[string]bool {
	out := map[string]bool{}
	for changed := true; changed; {
		changed = false
		for _, it := range items {
			if it.ID == rootID || out[it.ID] || it.ParentID == "" {
				continue
			}
			if it.ParentID == rootID || out[it.ParentID] {
				out[it.ID] = true
				changed = true
			}
		}
	}
	return out
}

// OutlineOrder returns the indexes of groupID's items in reading order: depth
// first, siblings by order then array position. Items unreachable from a root
// (only possible before normalization) follow at the end.
func OutlineOrder(items []Item, groupID string) []int {
	byParent := map[string][]int{}
	inGroup := 0
	for i, it := range items {
		if it.GroupID != groupID {
			continue
		}
		inGroup++
		byParent[it.ParentID] = append(byParent[it.ParentID], i)
	}
	for _, siblings := range byParent {
		sort.SliceStable(siblings, func(a, b int) bool {
			return items[siblings[a]].Order < items[siblings[b]].Order
		})
	}

	out := make([]int, 0, inGroup)
	visited := make(map[int]bool, inGroup)
	var walk func(parentID string)
	walk = func(parentID string) {
		for _, i := range byParent[parentID] {
			if visited[i] {
				continue
			}
			visited[i] = true
			out = append(out, i)
			walk(items[i].ID)
		}
	}
	walk("")
	for i, it := range items {
		if it.GroupID == groupID && !visited[i] {
			visited[i] = true
			out = append(out, i)
		}
	}
	return out
}

type ItemNode struct {
	Item
	Children []ItemNode `json:"children"`
}

type GroupNode struct {
	Group
	Items []ItemNode `json:"items"`
}

// BuildTree nests a normalized workspace for display.
func BuildTree(ws Workspace) []GroupNode {
	byParent := map[string][]Item{}
	for _, it := range ws.Items {
		key := ScopeKey(it.GroupID, it.ParentID)
		byParent[key] = append(byParent[key], it)
	}
	for _, siblings := range byParent {
		sort.SliceStable(siblings, func(a, b int) bool { return siblings[a].Order < siblings[b].Order })
	}

	var nest func(groupID, parentID string) []ItemNode
	nest = func(groupID, parentID string) []ItemNode {
		siblings := byParent[ScopeKey(groupID, parentID)]
		nodes := make([]ItemNode, 0, len(siblings))
		for _, it := range siblings {
			nodes = append(nodes, ItemNode{Item: it, Children: nest(groupID, it.ID)})
		}
		return nodes
	}

	groups := append([]Group(nil), ws.Groups...)
	sort.SliceStable(groups, func(a, b int) bool { return groups[a].Order < groups[b].Order })
	out := make([]GroupNode, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupNode{Group: g, Items: nest(g.ID, "")})
	}
	return out
}
