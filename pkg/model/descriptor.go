// Package model describes the wire-level entities of the store: keys,
// class descriptors, object records, the canonical record encoding, the
// archive layout and the namespace manifest.
package model

import (
	"fmt"
	"unicode"

	"github.com/segmentio/ksuid"
)

// Key is an opaque object identifier, unique within a namespace for the
// lifetime of the namespace. Keys are assigned at creation time and are
// immutable thereafter.
type Key string

// NewKey mints a fresh key. KSUIDs are URL-safe, collision-free and sort
// by creation time, which keeps the sharded archive layout stable.
func NewKey() Key {
	return Key(ksuid.New().String())
}

func (k Key) String() string {
	return string(k)
}

// Valid reports whether the key can be mapped to an archive path.
func (k Key) Valid() bool {
	if len(k) < 2 {
		return false
	}
	for _, c := range k {
		if !unicode.IsDigit(c) && !unicode.IsLetter(c) {
			return false
		}
	}
	return true
}

// FieldKind enumerates the kinds a field may take in a class schema.
type FieldKind string

const (
	// KindString is a unicode string scalar
	KindString FieldKind = "string"
	// KindInt is a 64 bit signed integer scalar
	KindInt FieldKind = "int"
	// KindFloat is a 64 bit float scalar
	KindFloat FieldKind = "float"
	// KindBool is a boolean scalar
	KindBool FieldKind = "bool"
	// KindTime is a timestamp scalar, normalized to UTC
	KindTime FieldKind = "time"
	// KindRef is a reference to another object, held as its key
	KindRef FieldKind = "ref"
	// KindRefList is an ordered sequence of references
	KindRefList FieldKind = "reflist"
)

func (k FieldKind) valid() bool {
	switch k {
	case KindString, KindInt, KindFloat, KindBool, KindTime, KindRef, KindRefList:
		return true
	}
	return false
}

// FieldDescriptor describes a single field in a class schema.
type FieldDescriptor struct {
	Name   string    `json:"name" yaml:"name"`
	Kind   FieldKind `json:"kind" yaml:"kind"`
	Target string    `json:"target,omitempty" yaml:"target,omitempty"` // class tag, for ref kinds
	_      struct{}
}

// ClassDescriptor is the ordered field schema a class is registered with.
// The schema is fixed at registration time and versioned.
type ClassDescriptor struct {
	Tag     string            `json:"tag" yaml:"tag"`
	Version uint64            `json:"version" yaml:"version"`
	Fields  []FieldDescriptor `json:"fields" yaml:"fields"`
	_       struct{}
}

// FieldByName retrieves a field descriptor from the schema.
func (c ClassDescriptor) FieldByName(name string) (FieldDescriptor, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// Equal reports whether two descriptors define the same schema, field
// order included.
func (c ClassDescriptor) Equal(other ClassDescriptor) bool {
	if c.Tag != other.Tag || c.Version != other.Version || len(c.Fields) != len(other.Fields) {
		return false
	}
	for i := range c.Fields {
		if c.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}

// Validate checks a descriptor eagerly, at registration time, so that
// field access never has to re-derive schema information.
func (c ClassDescriptor) Validate() error {
	if c.Tag == "" {
		return fmt.Errorf("empty field: class tag is empty")
	}
	for i, r := range c.Tag {
		if !unicode.IsDigit(r) && !unicode.IsLetter(r) && !unicode.Is(unicode.Hyphen, r) {
			return fmt.Errorf("invalid tag: class tag:%s contains unsupported character %q",
				c.Tag, string([]rune(c.Tag)[i]))
		}
	}
	if c.Version == 0 {
		return fmt.Errorf("invalid version: class %s must declare a version >= 1", c.Tag)
	}
	seen := make(map[string]struct{}, len(c.Fields))
	for _, f := range c.Fields {
		if err := validateFieldName(f.Name); err != nil {
			return fmt.Errorf("class %s: %v", c.Tag, err)
		}
		if _, ok := seen[f.Name]; ok {
			return fmt.Errorf("class %s: duplicate field %s", c.Tag, f.Name)
		}
		seen[f.Name] = struct{}{}
		if !f.Kind.valid() {
			return fmt.Errorf("class %s: field %s has unknown kind %q", c.Tag, f.Name, f.Kind)
		}
		switch f.Kind {
		case KindRef, KindRefList:
			if f.Target == "" {
				return fmt.Errorf("class %s: reference field %s must name a target class", c.Tag, f.Name)
			}
		default:
			if f.Target != "" {
				return fmt.Errorf("class %s: scalar field %s cannot name a target class", c.Tag, f.Name)
			}
		}
	}
	return nil
}

func validateFieldName(name string) error {
	if name == "" {
		return fmt.Errorf("empty field name")
	}
	for i, r := range name {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return fmt.Errorf("field name %q contains unsupported character %q", name, string(r))
	}
	return nil
}
