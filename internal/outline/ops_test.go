package outline

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperation(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		payload string
		want    Operation
	}{
		{"add group", OpAddGroup, `{"title":"Claims"}`, AddGroup{Title: "Claims"}},
		{"update group", OpUpdateGroup, `{"id":"g","patch":{"collapsed":true}}`, UpdateGroup{ID: "g", Patch: GroupPatch{Collapsed: ptr(true)}}},
		{"delete group", OpDeleteGroup, `{"id":"g"}`, DeleteGroup{ID: "g"}},
		{"add item", OpAddItem, `{"type":"note","refId":"N","groupId":"g","order":2}`, AddItem{Type: TypeNote, RefID: "N", GroupID: "g", Order: ptr(2)}},
		{"move item to root", OpMoveItem, `{"itemId":"i","parentId":""}`, MoveItem{ItemID: "i", ParentID: ptr("")}},
		{"move item keep parent", OpMoveItem, `{"itemId":"i","groupId":"g"}`, MoveItem{ItemID: "i", GroupID: ptr("g")}},
		{"update item", OpUpdateItem, `{"itemId":"i","patch":{"stage":"claim"}}`, UpdateItem{ItemID: "i", Patch: ItemPatch{Stage: ptr(StageClaim)}}},
		{"delete item", OpDeleteItem, `{"itemId":"i"}`, DeleteItem{ItemID: "i"}},
		{"null payload", OpDeleteItem, `null`, DeleteItem{}},
		{"empty payload", OpAddGroup, ``, AddGroup{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOperation(tt.op, json.RawMessage(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.op, got.Name())
		})
	}
}

func TestParseOperationErrors(t *testing.T) {
	_, err := ParseOperation("renameConcept", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownOperation))

	_, err = ParseOperation(OpAddItem, json.RawMessage(`{"type":3}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidOperation))
	assert.False(t, errors.Is(err, ErrUnknownOperation))
}

func TestEncodeOperationRoundTrips(t *testing.T) {
	op := MoveItem{ItemID: "i", ParentID: ptr(""), Order: ptr(0)}
	name, payload, err := EncodeOperation(op)
	require.NoError(t, err)
	assert.Equal(t, OpMoveItem, name)
	assert.JSONEq(t, `{"itemId":"i","parentId":"","order":0}`, string(payload))

	decoded, err := ParseOperation(name, payload)
	require.NoError(t, err)
	assert.Equal(t, op, decoded)
}
