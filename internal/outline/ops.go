package outline

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	OpAddGroup    = "addGroup"
	OpUpdateGroup = "updateGroup"
	OpDeleteGroup = "deleteGroup"
	OpAddItem     = "addItem"
	OpMoveItem    = "moveItem"
	OpUpdateItem  = "updateItem"
	OpDeleteItem  = "deleteItem"
)

// Operation is one named patch applied to a workspace.
type Operation interface {
	Name() string
}

// Applier is implemented by both the authoritative Engine and the client-side
// predictor so their results can be compared for the same inputs.
type Applier interface {
	Apply(ws Workspace, op Operation) (Workspace, error)
}

type AddGroup struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type GroupPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Collapsed   *bool   `json:"collapsed,omitempty"`
	Order       *int    `json:"order,omitempty"`
}

type UpdateGroup struct {
	ID    string     `json:"id"`
	Patch GroupPatch `json:"patch"`
}

type DeleteGroup struct {
	ID string `json:"id"`
}

// AddItem appends an item to the (GroupID, ParentID) scope, or inserts it at
// Order when set.
type AddItem struct {
	Type     ItemType `json:"type"`
	RefID    string   `json:"refId"`
	GroupID  string   `json:"groupId"`
	ParentID string   `json:"parentId,omitempty"`
	Order    *int     `json:"order,omitempty"`
}

// MoveItem relocates an item. A nil GroupID keeps the current group; a nil
// ParentID keeps the current parent within the same group and re-roots the item
// when the group changes; an empty ParentID always re-roots.
type MoveItem struct {
	ItemID   string  `json:"itemId"`
	GroupID  *string `json:"groupId,omitempty"`
	ParentID *string `json:"parentId,omitempty"`
	Order    *int    `json:"order,omitempty"`
}

type ItemPatch struct {
	Type     *ItemType `json:"type,omitempty"`
	RefID    *string   `json:"refId,omitempty"`
	Stage    *Stage    `json:"stage,omitempty"`
	Status   *Status   `json:"status,omitempty"`
	GroupID  *string   `json:"groupId,omitempty"`
	ParentID *string   `json:"parentId,omitempty"`
	Order    *int      `json:"order,omitempty"`
}

func (p ItemPatch) relocates() bool {
	return p.GroupID != nil || p.ParentID != nil || p.Order != nil
}

type UpdateItem struct {
	ItemID string    `json:"itemId"`
	Patch  ItemPatch `json:"patch"`
}

type DeleteItem struct {
	ItemID string `json:"itemId"`
}

func (AddGroup) Name() string    { return OpAddGroup }
func (UpdateGroup) Name() string { return OpUpdateGroup }
func (DeleteGroup) Name() string { return OpDeleteGroup }
func (AddItem) Name() string     { return OpAddItem }
func (MoveItem) Name() string    { return OpMoveItem }
func (UpdateItem) Name() string  { return OpUpdateItem }
func (DeleteItem) Name() string  { return OpDeleteItem }

// ParseOperation decodes the wire form {op, payload}.
func ParseOperation(name string, payload json.RawMessage) (Operation, error) {
	var op Operation
	switch name {
	case OpAddGroup:
		op = &AddGroup{}
	case OpUpdateGroup:
		op = &UpdateGroup{}
	case OpDeleteGroup:
		op = &DeleteGroup{}
	case OpAddItem:
		op = &AddItem{}
	case OpMoveItem:
		op = &MoveItem{}
	case OpUpdateItem:
		op = &UpdateItem{}
	case OpDeleteItem:
		op = &DeleteItem{}
	default:
		return nil, unknownOpError(name)
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	if err := json.Unmarshal(trimmed, op); err != nil {
		return nil, opError(name, "malformed payload: %v", err)
	}
	return deref(op), nil
}

// EncodeOperation is the inverse of ParseOperation.
func EncodeOperation(op Operation) (string, json.RawMessage, error) {
	payload, err := json.Marshal(op)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s payload: %w", op.Name(), err)
	}
	return op.Name(), payload, nil
}

func deref(op Operation) Operation {
	switch o := op.(type) {
	case *AddGroup:
		return *o
	case *UpdateGroup:
		return *o
	case *DeleteGroup:
		return *o
	case *AddItem:
		return *o
	case *MoveItem:
		return *o
	case *UpdateItem:
		return *o
	case *DeleteItem:
		return *o
	default:
		return op
	}
}
