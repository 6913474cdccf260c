package outline

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marginalia/api/internal/util"
)

var fixedNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func testEngine() *Engine {
	return &Engine{NewID: util.Sequence(), Now: func() time.Time { return fixedNow }}
}

func ptr[T any](v T) *T { return &v }

func mustApply(t *testing.T, e *Engine, ws Workspace, op Operation) Workspace {
	t.Helper()
	next, err := e.Apply(ws, op)
	require.NoError(t, err)
	return next
}

func itemByRef(t *testing.T, ws Workspace, refID string) Item {
	t.Helper()
	for _, it := range ws.Items {
		if it.RefID == refID {
			return it
		}
	}
	t.Fatalf("no item with refId %q", refID)
	return Item{}
}

// requireStructurallyValid checks every invariant a normalized workspace holds.
func requireStructurallyValid(t *testing.T, ws Workspace) {
	t.Helper()
	require.NotEmpty(t, ws.Groups, "at least one group")
	require.Equal(t, SchemaVersion, ws.SchemaVersion)

	groupIDs := map[string]bool{}
	groupOrders := make([]int, 0, len(ws.Groups))
	for _, g := range ws.Groups {
		require.NotEmpty(t, g.ID)
		require.False(t, groupIDs[g.ID], "duplicate group id %s", g.ID)
		groupIDs[g.ID] = true
		groupOrders = append(groupOrders, g.Order)
	}
	requireDense(t, "groups", groupOrders)

	byID := map[string]Item{}
	for _, it := range ws.Items {
		require.NotEmpty(t, it.ID)
		_, dup := byID[it.ID]
		require.False(t, dup, "duplicate item id %s", it.ID)
		byID[it.ID] = it
	}

	scopes := map[string][]int{}
	for _, it := range ws.Items {
		require.True(t, groupIDs[it.GroupID], "item %s has unknown group %s", it.ID, it.GroupID)
		require.True(t, it.Type.Valid())
		require.True(t, it.Stage.Valid())
		require.True(t, it.Status.Valid())
		if it.ParentID != "" {
			parent, ok := byID[it.ParentID]
			require.True(t, ok, "item %s has dangling parent", it.ID)
			require.Equal(t, it.GroupID, parent.GroupID, "item %s has cross-group parent", it.ID)
		}
		key := ScopeKey(it.GroupID, it.ParentID)
		scopes[key] = append(scopes[key], it.Order)
	}
	for key, orders := range scopes {
		requireDense(t, key, orders)
	}

	for _, it := range ws.Items {
		seen := map[string]bool{it.ID: true}
		for current := it.ParentID; current != ""; current = byID[current].ParentID {
			require.False(t, seen[current], "item %s is its own ancestor", it.ID)
			seen[current] = true
		}
	}
}

func requireDense(t *testing.T, scope string, orders []int) {
	t.Helper()
	sorted := append([]int(nil), orders...)
	sort.Ints(sorted)
	for i, order := range sorted {
		require.Equal(t, i, order, "scope %q orders %v are not dense", scope, orders)
	}
}
