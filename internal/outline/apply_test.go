package outline

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoGroupWorkspace(t *testing.T, items ...RawItem) Workspace {
	t.Helper()
	ws := testEngine().Normalize(RawWorkspace{
		Groups:    []RawGroup{{ID: "g1", Title: "One", Order: ptr(0.0)}, {ID: "g2", Title: "Two", Order: ptr(1.0)}},
		Items:     items,
		UpdatedAt: "2020-01-01T00:00:00Z",
	})
	requireStructurallyValid(t, ws)
	return ws
}

func note(id, groupID, parentID string, order float64) RawItem {
	return RawItem{ID: id, Type: "note", RefID: "ref-" + id, GroupID: groupID, ParentID: parentID, Order: ptr(order)}
}

func TestAddItemAppendsToScope(t *testing.T) {
	e := testEngine()
	ws := e.Normalize(RawWorkspace{})
	g := ws.Groups[0].ID

	ws = mustApply(t, e, ws, AddItem{Type: TypeHighlight, RefID: "H1", GroupID: g})
	ws = mustApply(t, e, ws, AddItem{Type: TypeHighlight, RefID: "H2", GroupID: g})

	require.Len(t, ws.Items, 2)
	h1, h2 := itemByRef(t, ws, "H1"), itemByRef(t, ws, "H2")
	assert.Equal(t, 0, h1.Order)
	assert.Equal(t, 1, h2.Order)
	assert.Empty(t, h1.ParentID)
	assert.Empty(t, h2.ParentID)
	assert.Equal(t, g, h1.GroupID)
	assert.Equal(t, StageWorking, h1.Stage)
	assert.Equal(t, StatusActive, h1.Status)
	assert.NotEqual(t, h1.ID, h2.ID)
}

func TestAddItemInsertsAtOrder(t *testing.T) {
	e := testEngine()
	ws := twoGroupWorkspace(t, note("a", "g1", "", 0), note("b", "g1", "", 1))

	ws = mustApply(t, e, ws, AddItem{Type: TypeQuestion, RefID: "Q", GroupID: "g1", Order: ptr(1)})
	assert.Equal(t, 0, itemByRef(t, ws, "ref-a").Order)
	assert.Equal(t, 1, itemByRef(t, ws, "Q").Order)
	assert.Equal(t, 2, itemByRef(t, ws, "ref-b").Order)

	ws = mustApply(t, e, ws, AddItem{Type: TypeQuestion, RefID: "FAR", GroupID: "g1", Order: ptr(99)})
	assert.Equal(t, 3, itemByRef(t, ws, "FAR").Order)
}

func TestAddItemUnderParent(t *testing.T) {
	e := testEngine()
	ws := twoGroupWorkspace(t, note("a", "g1", "", 0))

	ws = mustApply(t, e, ws, AddItem{Type: TypeNote, RefID: "child", GroupID: "g1", ParentID: "a"})
	child := itemByRef(t, ws, "child")
	assert.Equal(t, "a", child.ParentID)
	assert.Equal(t, 0, child.Order)
}

func TestAddItemRejectsInvalidInput(t *testing.T) {
	ws := twoGroupWorkspace(t, note("a", "g1", "", 0))
	cases := map[string]AddItem{
		"unknown type":       {Type: "video", RefID: "V", GroupID: "g1"},
		"empty ref":          {Type: TypeNote, RefID: "  ", GroupID: "g1"},
		"unknown group":      {Type: TypeNote, RefID: "N", GroupID: "nope"},
		"unknown parent":     {Type: TypeNote, RefID: "N", GroupID: "g1", ParentID: "ghost"},
		"cross group parent": {Type: TypeNote, RefID: "N", GroupID: "g2", ParentID: "a"},
	}
	for name, op := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := testEngine().Apply(ws, op)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidOperation))
		})
	}
}

func TestMoveItemCycleLeavesWorkspaceUnchanged(t *testing.T) {
	ws := twoGroupWorkspace(t, note("A", "g1", "", 0), note("B", "g1", "A", 0), note("C", "g1", "B", 0))
	before, err := json.Marshal(ws)
	require.NoError(t, err)

	next, err := testEngine().Apply(ws, MoveItem{ItemID: "A", ParentID: ptr("C")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidOperation))
	assert.Contains(t, err.Error(), "cycle")
	assert.Empty(t, next.Groups)

	after, err := json.Marshal(ws)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestMoveItemRejections(t *testing.T) {
	ws := twoGroupWorkspace(t, note("A", "g1", "", 0), note("B", "g2", "", 0))
	cases := map[string]MoveItem{
		"missing item":       {ItemID: "ghost"},
		"missing group":      {ItemID: "A", GroupID: ptr("nope")},
		"self parent":        {ItemID: "A", ParentID: ptr("A")},
		"missing parent":     {ItemID: "A", ParentID: ptr("ghost")},
		"cross group parent": {ItemID: "A", ParentID: ptr("B")},
	}
	for name, op := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := testEngine().Apply(ws, op)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidOperation))
		})
	}
}

func TestMoveItemAcrossGroupsCarriesSubtree(t *testing.T) {
	ws := twoGroupWorkspace(t,
		note("A", "g1", "", 0),
		note("B", "g1", "A", 0),
		note("C", "g1", "B", 0),
		note("Z", "g2", "", 0),
	)

	ws = mustApply(t, testEngine(), ws, MoveItem{ItemID: "A", GroupID: ptr("g2")})
	requireStructurallyValid(t, ws)

	a := itemByRef(t, ws, "ref-A")
	assert.Equal(t, "g2", a.GroupID)
	assert.Empty(t, a.ParentID)
	assert.Equal(t, 1, a.Order)
	assert.Equal(t, "g2", itemByRef(t, ws, "ref-B").GroupID)
	assert.Equal(t, "A", itemByRef(t, ws, "ref-B").ParentID)
	assert.Equal(t, "g2", itemByRef(t, ws, "ref-C").GroupID)
}

func TestMoveItemReordersWithinScope(t *testing.T) {
	ws := twoGroupWorkspace(t, note("a", "g1", "", 0), note("b", "g1", "", 1), note("c", "g1", "", 2))

	ws = mustApply(t, testEngine(), ws, MoveItem{ItemID: "c", Order: ptr(0)})
	assert.Equal(t, 0, itemByRef(t, ws, "ref-c").Order)
	assert.Equal(t, 1, itemByRef(t, ws, "ref-a").Order)
	assert.Equal(t, 2, itemByRef(t, ws, "ref-b").Order)
}

func TestMoveItemReparentAndReroot(t *testing.T) {
	e := testEngine()
	ws := twoGroupWorkspace(t, note("a", "g1", "", 0), note("b", "g1", "", 1))

	ws = mustApply(t, e, ws, MoveItem{ItemID: "b", ParentID: ptr("a")})
	assert.Equal(t, "a", itemByRef(t, ws, "ref-b").ParentID)
	assert.Equal(t, 0, itemByRef(t, ws, "ref-b").Order)

	ws = mustApply(t, e, ws, MoveItem{ItemID: "b", ParentID: ptr("")})
	assert.Empty(t, itemByRef(t, ws, "ref-b").ParentID)
	assert.Equal(t, 1, itemByRef(t, ws, "ref-b").Order)
}

func TestUpdateItemPatchesFields(t *testing.T) {
	ws := twoGroupWorkspace(t, note("a", "g1", "", 0))

	ws = mustApply(t, testEngine(), ws, UpdateItem{ItemID: "a", Patch: ItemPatch{
		Type:   ptr(TypeArticle),
		RefID:  ptr(" ART-1 "),
		Stage:  ptr(StageEvidence),
		Status: ptr(StatusArchived),
	}})
	it := ws.Items[0]
	assert.Equal(t, TypeArticle, it.Type)
	assert.Equal(t, "ART-1", it.RefID)
	assert.Equal(t, StageEvidence, it.Stage)
	assert.Equal(t, StatusArchived, it.Status)
}

func TestUpdateItemRelocates(t *testing.T) {
	ws := twoGroupWorkspace(t, note("a", "g1", "", 0), note("z", "g2", "", 0))

	ws = mustApply(t, testEngine(), ws, UpdateItem{ItemID: "a", Patch: ItemPatch{GroupID: ptr("g2"), Order: ptr(0)}})
	assert.Equal(t, "g2", itemByRef(t, ws, "ref-a").GroupID)
	assert.Equal(t, 0, itemByRef(t, ws, "ref-a").Order)
	assert.Equal(t, 1, itemByRef(t, ws, "ref-z").Order)
}

func TestUpdateItemRejections(t *testing.T) {
	ws := twoGroupWorkspace(t, note("a", "g1", "", 0), note("b", "g1", "a", 0))
	cases := map[string]UpdateItem{
		"missing item":  {ItemID: "ghost"},
		"bad type":      {ItemID: "a", Patch: ItemPatch{Type: ptr(ItemType("video"))}},
		"empty ref":     {ItemID: "a", Patch: ItemPatch{RefID: ptr("")}},
		"bad stage":     {ItemID: "a", Patch: ItemPatch{Stage: ptr(Stage("done"))}},
		"bad status":    {ItemID: "a", Patch: ItemPatch{Status: ptr(Status("gone"))}},
		"cycle":         {ItemID: "a", Patch: ItemPatch{ParentID: ptr("b")}},
		"unknown group": {ItemID: "a", Patch: ItemPatch{GroupID: ptr("nope")}},
	}
	for name, op := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := testEngine().Apply(ws, op)
			require.Error(t, err)
			var opErr *Error
			require.True(t, errors.As(err, &opErr))
			assert.Equal(t, OpUpdateItem, opErr.Op)
		})
	}
}

func TestDeleteItemCascades(t *testing.T) {
	ws := twoGroupWorkspace(t, note("A", "g1", "", 0), note("B", "g1", "A", 0), note("C", "g1", "B", 0))

	ws = mustApply(t, testEngine(), ws, DeleteItem{ItemID: "A"})
	for _, it := range ws.Items {
		assert.NotEqual(t, "g1", it.GroupID)
	}
	assert.Empty(t, ws.Items)
}

func TestDeleteItemKeepsSiblingsDense(t *testing.T) {
	ws := twoGroupWorkspace(t, note("a", "g1", "", 0), note("b", "g1", "", 1), note("c", "g1", "", 2))

	ws = mustApply(t, testEngine(), ws, DeleteItem{ItemID: "b"})
	requireStructurallyValid(t, ws)
	assert.Equal(t, 1, itemByRef(t, ws, "ref-c").Order)

	_, err := testEngine().Apply(ws, DeleteItem{ItemID: "b"})
	assert.True(t, errors.Is(err, ErrInvalidOperation))
}

func TestDeleteGroupMovesItemsToTail(t *testing.T) {
	ws := twoGroupWorkspace(t, note("X", "g1", "", 0), note("P", "g2", "", 0), note("Q", "g2", "", 1))

	ws = mustApply(t, testEngine(), ws, DeleteGroup{ID: "g1"})
	require.Len(t, ws.Groups, 1)
	assert.Equal(t, "g2", ws.Groups[0].ID)
	assert.Equal(t, 0, ws.Groups[0].Order)

	x := itemByRef(t, ws, "ref-X")
	assert.Equal(t, "g2", x.GroupID)
	assert.Equal(t, 2, x.Order)
	assert.Equal(t, 0, itemByRef(t, ws, "ref-P").Order)
	assert.Equal(t, 1, itemByRef(t, ws, "ref-Q").Order)
}

func TestDeleteGroupFlattensInOutlineOrder(t *testing.T) {
	ws := twoGroupWorkspace(t,
		note("A", "g2", "", 0),
		note("C", "g2", "", 1),
		note("B", "g2", "A", 0),
		note("K", "g1", "", 0),
	)

	ws = mustApply(t, testEngine(), ws, DeleteGroup{ID: "g2"})
	requireStructurallyValid(t, ws)
	require.Len(t, ws.Items, 4)
	for _, it := range ws.Items {
		assert.Equal(t, "g1", it.GroupID)
		assert.Empty(t, it.ParentID)
	}
	assert.Equal(t, 0, itemByRef(t, ws, "ref-K").Order)
	assert.Equal(t, 1, itemByRef(t, ws, "ref-A").Order)
	assert.Equal(t, 2, itemByRef(t, ws, "ref-B").Order)
	assert.Equal(t, 3, itemByRef(t, ws, "ref-C").Order)
}

func TestDeleteLastGroupCreatesDefault(t *testing.T) {
	e := testEngine()
	ws := e.Normalize(RawWorkspace{Groups: []RawGroup{{ID: "only", Title: "Only"}}, Items: []RawItem{note("a", "only", "", 0)}})

	ws = mustApply(t, e, ws, DeleteGroup{ID: "only"})
	require.Len(t, ws.Groups, 1)
	assert.Equal(t, DefaultGroupTitle, ws.Groups[0].Title)
	assert.NotEqual(t, "only", ws.Groups[0].ID)
	require.Len(t, ws.Items, 1)
	assert.Equal(t, ws.Groups[0].ID, ws.Items[0].GroupID)
}

func TestGroupOperations(t *testing.T) {
	e := testEngine()
	ws := twoGroupWorkspace(t)

	ws = mustApply(t, e, ws, AddGroup{Title: "  Three ", Description: " third "})
	require.Len(t, ws.Groups, 3)
	added := ws.Groups[2]
	assert.Equal(t, "Three", added.Title)
	assert.Equal(t, "third", added.Description)
	assert.Equal(t, 2, added.Order)

	ws = mustApply(t, e, ws, UpdateGroup{ID: added.ID, Patch: GroupPatch{Order: ptr(0), Collapsed: ptr(true)}})
	assert.Equal(t, added.ID, ws.Groups[0].ID)
	assert.True(t, ws.Groups[0].Collapsed)
	assert.Equal(t, "g1", ws.Groups[1].ID)
	assert.Equal(t, "g2", ws.Groups[2].ID)

	ws = mustApply(t, e, ws, UpdateGroup{ID: "g2", Patch: GroupPatch{Title: ptr("Renamed")}})
	assert.Equal(t, "Renamed", ws.Groups[2].Title)

	_, err := e.Apply(ws, AddGroup{Title: " "})
	assert.True(t, errors.Is(err, ErrInvalidOperation))
	_, err = e.Apply(ws, UpdateGroup{ID: "g2", Patch: GroupPatch{Title: ptr("")}})
	assert.True(t, errors.Is(err, ErrInvalidOperation))
	_, err = e.Apply(ws, UpdateGroup{ID: "nope"})
	assert.True(t, errors.Is(err, ErrInvalidOperation))
	_, err = e.Apply(ws, DeleteGroup{ID: "nope"})
	assert.True(t, errors.Is(err, ErrInvalidOperation))
}

func TestApplyRefreshesUpdatedAt(t *testing.T) {
	ws := twoGroupWorkspace(t)
	require.Equal(t, "2020-01-01T00:00:00Z", ws.UpdatedAt)

	ws = mustApply(t, testEngine(), ws, AddGroup{Title: "T"})
	assert.Equal(t, "2026-10-16T12:00:00Z", ws.UpdatedAt)
}

type explodeOp struct{}

func (explodeOp) Name() string { return "explode" }

func TestApplyUnknownOperation(t *testing.T) {
	ws := twoGroupWorkspace(t)

	_, err := testEngine().Apply(ws, explodeOp{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownOperation))
	assert.True(t, errors.Is(err, ErrInvalidOperation))

	_, err = testEngine().Apply(ws, nil)
	assert.True(t, errors.Is(err, ErrUnknownOperation))
}

func TestApplyAcceptsPointerOperations(t *testing.T) {
	ws := twoGroupWorkspace(t)
	ws = mustApply(t, testEngine(), ws, &AddItem{Type: TypeNote, RefID: "N", GroupID: "g1"})
	assert.Len(t, ws.Items, 1)
}
