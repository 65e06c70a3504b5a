package model

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Field is one serialized field of a record: a name and its canonical
// JSON value.
type Field struct {
	Name  string
	Value string
	_     struct{}
}

// Record is the stored form of one object instance. Reference fields hold
// keys, never embedded copies.
type Record struct {
	Class  string
	Key    Key
	Schema uint64
	Fields []Field
	_      struct{}
}

// recordHeader is the first line of an encoded record. Encoding goes
// through json.Marshal of a struct so that key order is fixed.
type recordHeader struct {
	Class  string `json:"class"`
	Key    Key    `json:"key"`
	Schema uint64 `json:"schema"`
}

// FieldValue retrieves the canonical value of a named field.
func (r Record) FieldValue(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Normalize sorts the fields by name. Encoding always normalizes, so two
// records holding the same state encode to identical bytes regardless of
// assignment order.
func (r *Record) Normalize() {
	sort.Slice(r.Fields, func(i, j int) bool { return r.Fields[i].Name < r.Fields[j].Name })
}

// EncodeRecord renders a record in the canonical text form: a JSON header
// line, then one "name=value" line per field, fields sorted by name, with
// a trailing newline. One line per field keeps the backing store's
// line-oriented diff aligned with field-level changes.
func EncodeRecord(r Record) ([]byte, error) {
	if !r.Key.Valid() {
		return nil, fmt.Errorf("record has invalid key %q", r.Key)
	}
	if r.Class == "" {
		return nil, fmt.Errorf("record %s has no class tag", r.Key)
	}
	header, err := json.Marshal(recordHeader{Class: r.Class, Key: r.Key, Schema: r.Schema})
	if err != nil {
		return nil, err
	}
	r.Normalize()

	var buf bytes.Buffer
	buf.Write(header)
	buf.WriteByte('\n')
	for _, f := range r.Fields {
		if err := validateFieldName(f.Name); err != nil {
			return nil, err
		}
		buf.WriteString(f.Name)
		buf.WriteByte('=')
		buf.WriteString(f.Value)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// DecodeRecord parses the canonical text form back into a record.
func DecodeRecord(data []byte) (Record, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		return Record{}, fmt.Errorf("record is empty")
	}
	var header recordHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return Record{}, fmt.Errorf("record header is invalid: %v", err)
	}
	r := Record{Class: header.Class, Key: header.Key, Schema: header.Schema}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		name, value, found := strings.Cut(line, "=")
		if !found {
			return Record{}, fmt.Errorf("record %s: malformed field line %q", r.Key, line)
		}
		r.Fields = append(r.Fields, Field{Name: name, Value: value})
	}
	if err := scanner.Err(); err != nil {
		return Record{}, err
	}
	return r, nil
}
