package model

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v2"
)

// Manifest is the single index file of a namespace: class tag to schema
// version, key to archive path, the set of keys left unresolved by a
// merge, and the set of keys retired by deletion. It avoids full-tree
// scans on lookup.
type Manifest struct {
	StoreVersion string            `json:"storeVersion" yaml:"storeVersion"`
	Classes      map[string]uint64 `json:"classes" yaml:"classes"`
	Objects      map[Key]string    `json:"objects" yaml:"objects"`
	Conflicted   []Key             `json:"conflicted,omitempty" yaml:"conflicted,omitempty"`
	Tombstones   []Key             `json:"tombstones,omitempty" yaml:"tombstones,omitempty"`
	_            struct{}
}

// NewManifest seeds an empty manifest at the current store version.
func NewManifest() *Manifest {
	return &Manifest{
		StoreVersion: StoreVersion,
		Classes:      make(map[string]uint64),
		Objects:      make(map[Key]string),
	}
}

// Clone produces an independent deep copy, the working copy a commit or
// merge mutates before it atomically replaces the live manifest.
func (m *Manifest) Clone() *Manifest {
	out := &Manifest{
		StoreVersion: m.StoreVersion,
		Classes:      make(map[string]uint64, len(m.Classes)),
		Objects:      make(map[Key]string, len(m.Objects)),
	}
	for tag, v := range m.Classes {
		out.Classes[tag] = v
	}
	for k, p := range m.Objects {
		out.Objects[k] = p
	}
	if len(m.Conflicted) > 0 {
		out.Conflicted = append([]Key(nil), m.Conflicted...)
	}
	if len(m.Tombstones) > 0 {
		out.Tombstones = append([]Key(nil), m.Tombstones...)
	}
	return out
}

// SetClass records a class tag at a schema version.
func (m *Manifest) SetClass(tag string, version uint64) {
	m.Classes[tag] = version
}

// SetObject records the archive path of a key.
func (m *Manifest) SetObject(key Key) {
	m.Objects[key] = ArchivePathToObject(key)
}

// RemoveObject drops a key from the index.
func (m *Manifest) RemoveObject(key Key) {
	delete(m.Objects, key)
}

// PathTo retrieves the archive path of a key, if indexed.
func (m *Manifest) PathTo(key Key) (string, bool) {
	p, ok := m.Objects[key]
	return p, ok
}

// Keys lists all indexed keys in lexical order.
func (m *Manifest) Keys() []Key {
	keys := make([]Key, 0, len(m.Objects))
	for k := range m.Objects {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// IsConflicted reports whether a key awaits explicit conflict resolution.
func (m *Manifest) IsConflicted(key Key) bool {
	for _, k := range m.Conflicted {
		if k == key {
			return true
		}
	}
	return false
}

// FlagConflict marks a key as unresolved. The set stays sorted so that
// manifest serialization remains deterministic.
func (m *Manifest) FlagConflict(key Key) {
	if m.IsConflicted(key) {
		return
	}
	m.Conflicted = append(m.Conflicted, key)
	sort.Slice(m.Conflicted, func(i, j int) bool { return m.Conflicted[i] < m.Conflicted[j] })
}

// ClearConflict unmarks a key after it has been explicitly resolved.
func (m *Manifest) ClearConflict(key Key) {
	out := m.Conflicted[:0]
	for _, k := range m.Conflicted {
		if k != key {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		m.Conflicted = nil
		return
	}
	m.Conflicted = out
}

// IsTombstoned reports whether a key was retired by a committed
// deletion. Tombstoned keys are never reassigned, so a stale reference
// can only dangle, never alias a newer object.
func (m *Manifest) IsTombstoned(key Key) bool {
	for _, k := range m.Tombstones {
		if k == key {
			return true
		}
	}
	return false
}

// AddTombstone retires a key. The set stays sorted so that manifest
// serialization remains deterministic.
func (m *Manifest) AddTombstone(key Key) {
	if m.IsTombstoned(key) {
		return
	}
	m.Tombstones = append(m.Tombstones, key)
	sort.Slice(m.Tombstones, func(i, j int) bool { return m.Tombstones[i] < m.Tombstones[j] })
}

// ClearTombstone revives a key, the conflict-resolution path where a
// locally deleted key is recreated explicitly.
func (m *Manifest) ClearTombstone(key Key) {
	out := m.Tombstones[:0]
	for _, k := range m.Tombstones {
		if k != key {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		m.Tombstones = nil
		return
	}
	m.Tombstones = out
}

// Marshal renders the manifest as yaml. Map keys serialize in sorted
// order, so identical manifests produce identical bytes.
func (m *Manifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

// UnmarshalManifest parses a manifest and validates its store version.
func UnmarshalManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest is invalid: %v", err)
	}
	if err := CheckStoreVersion(m.StoreVersion); err != nil {
		return nil, err
	}
	if m.Classes == nil {
		m.Classes = make(map[string]uint64)
	}
	if m.Objects == nil {
		m.Objects = make(map[Key]string)
	}
	return &m, nil
}
