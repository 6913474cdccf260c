package outline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DecodeRaw parses a stored or submitted workspace. Only malformed JSON is an
// error. Fields of the wrong type are coerced where the intent is clear (a
// numeric string order, a numeric id) and dropped otherwise; each one is
// recorded in Issues so Validate can reject it while Normalize ignores it.
// An empty payload decodes to the empty workspace.
func DecodeRaw(data []byte) (RawWorkspace, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return RawWorkspace{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return RawWorkspace{}, fmt.Errorf("decode workspace: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return RawWorkspace{}, errors.New("decode workspace: unexpected data after the workspace")
	}

	var d rawDecoder
	raw := d.workspace(doc)
	raw.issues = d.issues
	return raw, nil
}

type rawDecoder struct {
	issues []string
}

func (d *rawDecoder) note(format string, args ...any) {
	d.issues = append(d.issues, fmt.Sprintf(format, args...))
}

func (d *rawDecoder) workspace(doc any) RawWorkspace {
	var raw RawWorkspace
	obj, ok := doc.(map[string]any)
	if !ok {
		if doc != nil {
			d.note("workspace must be an object, got %s", jsonKind(doc))
		}
		return raw
	}

	if n, ok := obj["schemaVersion"].(json.Number); ok {
		if v, err := n.Int64(); err == nil {
			raw.SchemaVersion = int(v)
		}
	}
	raw.UpdatedAt, _ = obj["updatedAt"].(string)

	if groups, ok := d.list(obj, "groups"); ok {
		raw.Groups = make([]RawGroup, 0, len(groups))
		for i, el := range groups {
			path := fmt.Sprintf("groups[%d]", i)
			g, ok := el.(map[string]any)
			if !ok {
				d.note("%s must be an object, got %s", path, jsonKind(el))
				continue
			}
			raw.Groups = append(raw.Groups, RawGroup{
				ID:          d.text(path, g, "id"),
				Title:       d.text(path, g, "title"),
				Description: d.text(path, g, "description"),
				Collapsed:   d.flag(path, g, "collapsed"),
				Order:       d.order(path, g, "order"),
			})
		}
	}

	if items, ok := d.list(obj, "items"); ok {
		raw.Items = make([]RawItem, 0, len(items))
		for i, el := range items {
			path := fmt.Sprintf("items[%d]", i)
			it, ok := el.(map[string]any)
			if !ok {
				d.note("%s must be an object, got %s", path, jsonKind(el))
				continue
			}
			raw.Items = append(raw.Items, RawItem{
				ID:       d.text(path, it, "id"),
				Type:     d.text(path, it, "type"),
				RefID:    d.text(path, it, "refId"),
				GroupID:  d.text(path, it, "groupId"),
				ParentID: d.text(path, it, "parentId"),
				Stage:    d.text(path, it, "stage"),
				Status:   d.text(path, it, "status"),
				Order:    d.order(path, it, "order"),
			})
		}
	}
	return raw
}

// list reports false when key is absent or null.
func (d *rawDecoder) list(obj map[string]any, key string) ([]any, bool) {
	switch v := obj[key].(type) {
	case nil:
		return nil, false
	case []any:
		return v, true
	default:
		d.note("%s must be an array, got %s", key, jsonKind(v))
		return nil, false
	}
}

func (d *rawDecoder) mistyped(path, key, want string, got any) {
	d.note("%s has invalid %s: expected %s, got %s", path, key, want, jsonKind(got))
}

func (d *rawDecoder) text(path string, obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		d.mistyped(path, key, "string", v)
		return v.String()
	default:
		d.mistyped(path, key, "string", v)
		return ""
	}
}

func (d *rawDecoder) order(path string, obj map[string]any, key string) *float64 {
	switch v := obj[key].(type) {
	case nil:
		return nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			d.mistyped(path, key, "finite number", v)
			return nil
		}
		return &f
	case string:
		d.mistyped(path, key, "number", v)
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return &f
		}
		return nil
	default:
		d.mistyped(path, key, "number", v)
		return nil
	}
}

func (d *rawDecoder) flag(path string, obj map[string]any, key string) bool {
	switch v := obj[key].(type) {
	case nil:
		return false
	case bool:
		return v
	case json.Number:
		d.mistyped(path, key, "boolean", v)
		f, err := v.Float64()
		return err == nil && f != 0
	case string:
		d.mistyped(path, key, "boolean", v)
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	default:
		d.mistyped(path, key, "boolean", v)
		return false
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
