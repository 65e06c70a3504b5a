package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EncodeValue renders a field value as canonical JSON text for its kind.
// Identical values always produce identical bytes: ints render in base 10,
// floats use the shortest round-trippable form, times are normalized to
// UTC RFC3339Nano. This is what makes the line diff of two record files
// align with field-level changes.
func EncodeValue(kind FieldKind, v interface{}) (string, error) {
	switch kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return "", kindError(kind, v)
		}
		return marshalJSON(s)
	case KindInt:
		switch n := v.(type) {
		case int:
			return strconv.FormatInt(int64(n), 10), nil
		case int64:
			return strconv.FormatInt(n, 10), nil
		default:
			return "", kindError(kind, v)
		}
	case KindFloat:
		f, ok := v.(float64)
		if !ok {
			return "", kindError(kind, v)
		}
		return marshalJSON(f)
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return "", kindError(kind, v)
		}
		return strconv.FormatBool(b), nil
	case KindTime:
		t, ok := v.(time.Time)
		if !ok {
			return "", kindError(kind, v)
		}
		return marshalJSON(t.UTC().Format(time.RFC3339Nano))
	case KindRef:
		k, ok := refKey(v)
		if !ok {
			return "", kindError(kind, v)
		}
		return marshalJSON(string(k))
	case KindRefList:
		keys, ok := refKeys(v)
		if !ok {
			return "", kindError(kind, v)
		}
		ss := make([]string, 0, len(keys))
		for _, k := range keys {
			ss = append(ss, string(k))
		}
		return marshalJSON(ss)
	}
	return "", fmt.Errorf("unknown field kind %q", kind)
}

// DecodeValue parses canonical JSON text back into the Go value for a kind.
func DecodeValue(kind FieldKind, s string) (interface{}, error) {
	switch kind {
	case KindString:
		var v string
		return v, unmarshalJSON(s, &v)
	case KindInt:
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	case KindFloat:
		var v float64
		return v, unmarshalJSON(s, &v)
	case KindBool:
		return strconv.ParseBool(strings.TrimSpace(s))
	case KindTime:
		var v string
		if err := unmarshalJSON(s, &v); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, v)
	case KindRef:
		var v string
		if err := unmarshalJSON(s, &v); err != nil {
			return nil, err
		}
		return Key(v), nil
	case KindRefList:
		var ss []string
		if err := unmarshalJSON(s, &ss); err != nil {
			return nil, err
		}
		keys := make([]Key, 0, len(ss))
		for _, s := range ss {
			keys = append(keys, Key(s))
		}
		return keys, nil
	}
	return nil, fmt.Errorf("unknown field kind %q", kind)
}

func refKey(v interface{}) (Key, bool) {
	switch k := v.(type) {
	case Key:
		return k, true
	case string:
		return Key(k), true
	}
	return "", false
}

func refKeys(v interface{}) ([]Key, bool) {
	switch ks := v.(type) {
	case []Key:
		return ks, true
	case []string:
		out := make([]Key, 0, len(ks))
		for _, k := range ks {
			out = append(out, Key(k))
		}
		return out, true
	}
	return nil, false
}

func kindError(kind FieldKind, v interface{}) error {
	return fmt.Errorf("value of type %T is not valid for kind %q", v, kind)
}

func marshalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(s string, v interface{}) error {
	return json.Unmarshal([]byte(s), v)
}
