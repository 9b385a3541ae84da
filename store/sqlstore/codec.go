package sqlstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/getpup/docledger"
)

// Layouts accepted when a driver returns a timestamp as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// encodeRow converts a document into column arguments by walking its JSON
// form, so the json tags stay the single source of field names.
func encodeRow(cols []Column, doc interface{}) ([]interface{}, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree map[string]interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	args := make([]interface{}, len(cols))
	for i, c := range cols {
		v, err := encodeValue(c, lookup(tree, c.Path))
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		args[i] = v
	}
	return args, nil
}

func lookup(tree map[string]interface{}, path []string) interface{} {
	var cur interface{} = tree
	for _, p := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return cur
}

func encodeValue(c Column, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if c.Repeated {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	}

	switch c.Type {
	case docledger.FieldInteger:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected a number, got %T", v)
		}
		return n.Int64()
	case docledger.FieldDate:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected a timestamp, got %T", v)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// decodeRow rebuilds the JSON form of a document from scanned column values
// and unmarshals it into out. An object whose columns are all NULL decodes
// as null.
func decodeRow(cols []Column, values []interface{}, out interface{}) error {
	tree := make(map[string]interface{})
	for i, c := range cols {
		v, err := decodeValue(c, values[i])
		if err != nil {
			return fmt.Errorf("column %s: %w", c.Name, err)
		}
		set(tree, c.Path, v)
	}
	nullEmptyObjects(tree)

	raw, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to decode row: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode row: %w", err)
	}
	return nil
}

func set(tree map[string]interface{}, path []string, v interface{}) {
	for _, p := range path[:len(path)-1] {
		child, ok := tree[p].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			tree[p] = child
		}
		tree = child
	}
	tree[path[len(path)-1]] = v
}

// nullEmptyObjects replaces nested objects whose leaves are all nil with nil.
// It reports whether tree itself is empty.
func nullEmptyObjects(tree map[string]interface{}) bool {
	empty := true
	for k, v := range tree {
		if child, ok := v.(map[string]interface{}); ok {
			if nullEmptyObjects(child) {
				tree[k] = nil
				continue
			}
			empty = false
			continue
		}
		if v != nil {
			empty = false
		}
	}
	return empty
}

func decodeValue(c Column, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if c.Repeated {
		var list []interface{}
		if err := json.Unmarshal([]byte(asString(v)), &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	switch c.Type {
	case docledger.FieldInteger:
		switch n := v.(type) {
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		default:
			return strconv.ParseInt(asString(v), 10, 64)
		}
	case docledger.FieldDate:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
		t, err := parseTime(asString(v))
		if err != nil {
			return nil, err
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	default:
		return asString(v), nil
	}
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
