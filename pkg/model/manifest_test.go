package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestRoundTrip(t *testing.T) {
	m := NewManifest()
	m.SetClass("Task", 1)
	m.SetObject("2HFyEoYrXGVek9iDv37gpWZ41aB")
	m.FlagConflict("2HFyEoYrXGVek9iDv37gpWZ41aB")

	data, err := m.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalManifest(data)
	require.NoError(t, err)
	assert.Equal(t, m.Classes, got.Classes)
	assert.Equal(t, m.Objects, got.Objects)
	assert.Equal(t, m.Conflicted, got.Conflicted)
}

func TestManifestMarshalDeterminism(t *testing.T) {
	build := func(order []Key) []byte {
		m := NewManifest()
		m.SetClass("Task", 1)
		for _, k := range order {
			m.SetObject(k)
			m.FlagConflict(k)
		}
		data, err := m.Marshal()
		require.NoError(t, err)
		return data
	}
	keys := []Key{"aaZZZZZZZZZZZZZZZZZZZZZZZZZ", "abZZZZZZZZZZZZZZZZZZZZZZZZZ", "acZZZZZZZZZZZZZZZZZZZZZZZZZ"}
	reversed := []Key{keys[2], keys[1], keys[0]}
	assert.Equal(t, build(keys), build(reversed))
}

func TestManifestConflicts(t *testing.T) {
	m := NewManifest()
	k := Key("2HFyEoYrXGVek9iDv37gpWZ41aB")
	assert.False(t, m.IsConflicted(k))

	m.FlagConflict(k)
	m.FlagConflict(k)
	assert.True(t, m.IsConflicted(k))
	assert.Len(t, m.Conflicted, 1)

	m.ClearConflict(k)
	assert.False(t, m.IsConflicted(k))
	assert.Empty(t, m.Conflicted)
}

func TestManifestTombstones(t *testing.T) {
	m := NewManifest()
	k := Key("2HFyEoYrXGVek9iDv37gpWZ41aB")
	assert.False(t, m.IsTombstoned(k))

	m.AddTombstone(k)
	m.AddTombstone(k)
	assert.True(t, m.IsTombstoned(k))
	assert.Len(t, m.Tombstones, 1)

	data, err := m.Marshal()
	require.NoError(t, err)
	got, err := UnmarshalManifest(data)
	require.NoError(t, err)
	assert.Equal(t, m.Tombstones, got.Tombstones)

	m.ClearTombstone(k)
	assert.False(t, m.IsTombstoned(k))
	assert.Empty(t, m.Tombstones)
}

func TestManifestClone(t *testing.T) {
	m := NewManifest()
	m.SetClass("Task", 1)
	m.SetObject("2HFyEoYrXGVek9iDv37gpWZ41aB")

	c := m.Clone()
	c.SetObject("ab0000000000000000000000000")
	c.SetClass("Person", 1)
	c.FlagConflict("2HFyEoYrXGVek9iDv37gpWZ41aB")

	assert.Len(t, m.Objects, 1)
	assert.Len(t, m.Classes, 1)
	assert.Empty(t, m.Conflicted)
}

func TestManifestVersionGate(t *testing.T) {
	m := NewManifest()
	data, err := m.Marshal()
	require.NoError(t, err)

	newer := strings.Replace(string(data), StoreVersion, "99.0.0", 1)
	_, err = UnmarshalManifest([]byte(newer))
	require.Error(t, err)
}

func TestCheckStoreVersion(t *testing.T) {
	require.NoError(t, CheckStoreVersion("1.0.0"))
	require.NoError(t, CheckStoreVersion("0.9.1"))
	require.Error(t, CheckStoreVersion("2.0.0"))
	require.Error(t, CheckStoreVersion("not-a-version"))
}
