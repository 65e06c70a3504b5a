package core

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/keeldb/keel/pkg/errors"
	"github.com/keeldb/keel/pkg/model"
	"github.com/keeldb/keel/pkg/storage"
	"github.com/keeldb/keel/pkg/storage/localfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	g, ns, _ := testNamespace(t, "n1")

	s, err := g.OpenSession("Add task")
	require.NoError(t, err)
	obj, err := ns.NewObject("Task", map[string]interface{}{
		"text": "Do something",
		"done": false,
	})
	require.NoError(t, err)
	before, err := obj.Record()
	require.NoError(t, err)

	rec, err := s.Commit("Add task")
	require.NoError(t, err)
	assert.Equal(t, "Add task", rec.Message)
	assert.Equal(t, []model.Key{obj.Key()}, rec.Written)
	require.NoError(t, s.Close())

	// Drop the live cache so the object rematerializes from storage.
	g.evictAll()

	loaded, err := g.GetObject(obj.Key())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	after, err := loaded.Record()
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(before, after, cmpopts.IgnoreUnexported(model.Record{}, model.Field{})))

	text, err := loaded.Get("text")
	require.NoError(t, err)
	assert.Equal(t, "Do something", text)
}

func TestCommitKeepsSessionOpen(t *testing.T) {
	g, ns, _ := testNamespace(t, "n1")

	s, err := g.OpenSession("Updates")
	require.NoError(t, err)
	obj, err := ns.NewObject("Task", map[string]interface{}{"text": "one", "done": false})
	require.NoError(t, err)
	_, err = s.Commit("")
	require.NoError(t, err)

	// The session stays open for further mutation-and-commit cycles.
	require.NoError(t, obj.Set("done", true))
	rec, err := s.Commit("Mark done")
	require.NoError(t, err)
	assert.Equal(t, "Mark done", rec.Message)
	require.NoError(t, s.Close())
}

func TestCloseOnCommitPolicy(t *testing.T) {
	g, ns, _ := testNamespace(t, "n1", CloseOnCommit(true))

	s, err := g.OpenSession("Add")
	require.NoError(t, err)
	obj, err := ns.NewObject("Task", map[string]interface{}{"text": "one", "done": false})
	require.NoError(t, err)
	_, err = s.Commit("")
	require.NoError(t, err)

	require.ErrorIs(t, obj.Set("done", true), errors.ErrNoOpenSession)
	_, err = g.OpenSession("Next")
	require.NoError(t, err)
}

func TestAbandonDiscards(t *testing.T) {
	g, ns, _ := testNamespace(t, "n1")

	s, err := g.OpenSession("Never committed")
	require.NoError(t, err)
	obj, err := ns.NewObject("Task", map[string]interface{}{"text": "ghost", "done": false})
	require.NoError(t, err)
	key := obj.Key()
	require.NoError(t, s.Close())

	loaded, err := g.GetObject(key)
	require.NoError(t, err)
	assert.Nil(t, loaded, "uncommitted mutations are never durable")
	assert.Empty(t, ns.Keys())
}

func TestAbandonRevertsMutations(t *testing.T) {
	g, ns, _ := testNamespace(t, "n1")
	key := commitTask(t, ns, g, "original", false, "Add task")

	s, err := g.OpenSession("Doomed edits")
	require.NoError(t, err)
	obj, err := g.GetObject(key)
	require.NoError(t, err)
	require.NoError(t, obj.Set("text", "mutated"))
	s.Abandon()

	loaded, err := g.GetObject(key)
	require.NoError(t, err)
	text, err := loaded.Get("text")
	require.NoError(t, err)
	assert.Equal(t, "original", text)
}

func TestAutoCommitOnClose(t *testing.T) {
	g, ns, _ := testNamespace(t, "n1", AutoCommitOnClose(true))

	s, err := g.OpenSession("Auto")
	require.NoError(t, err)
	obj, err := ns.NewObject("Task", map[string]interface{}{"text": "kept", "done": false})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	loaded, err := g.GetObject(obj.Key())
	require.NoError(t, err)
	require.NotNil(t, loaded)
}

func TestDeleteObject(t *testing.T) {
	g, ns, _ := testNamespace(t, "n1")
	key := commitTask(t, ns, g, "to delete", false, "Add")

	s, err := g.OpenSession("Delete")
	require.NoError(t, err)
	require.NoError(t, ns.DeleteObject(key))
	rec, err := s.Commit("Delete task")
	require.NoError(t, err)
	assert.Equal(t, []model.Key{key}, rec.Removed)
	require.NoError(t, s.Close())

	loaded, err := g.GetObject(key)
	require.NoError(t, err)
	assert.Nil(t, loaded)
	assert.Empty(t, ns.Keys())
}

func TestDeletedKeyIsNeverReused(t *testing.T) {
	g, ns, _ := testNamespace(t, "n1")

	s, err := g.OpenSession("Setup")
	require.NoError(t, err)
	owner, err := ns.NewObject("Person", map[string]interface{}{"name": "ada"})
	require.NoError(t, err)
	task, err := ns.NewObject("Task", map[string]interface{}{
		"text":  "owned",
		"done":  false,
		"owner": owner.Key(),
	})
	require.NoError(t, err)
	_, err = s.Commit("")
	require.NoError(t, err)

	require.NoError(t, ns.DeleteObject(owner.Key()))
	_, err = s.Commit("Delete owner")
	require.NoError(t, err)

	// A retired key stays retired: rebinding it would let the stale
	// reference resolve to an unrelated object.
	_, err = ns.NewObjectWithKey("Person", owner.Key(), map[string]interface{}{"name": "eve"})
	require.Error(t, err)
	require.NoError(t, s.Close())

	_, err = task.Resolve("owner")
	require.ErrorIs(t, err, errors.ErrDanglingReference)
}

func TestLastWritePerKeyWins(t *testing.T) {
	g, ns, _ := testNamespace(t, "n1")

	s, err := g.OpenSession("Rewrites")
	require.NoError(t, err)
	obj, err := ns.NewObject("Task", map[string]interface{}{"text": "first", "done": false})
	require.NoError(t, err)
	require.NoError(t, obj.Set("text", "second"))
	require.NoError(t, obj.Set("text", "third"))
	rec, err := s.Commit("")
	require.NoError(t, err)
	require.Len(t, rec.Written, 1)
	require.NoError(t, s.Close())

	g.evictAll()
	loaded, err := g.GetObject(obj.Key())
	require.NoError(t, err)
	text, err := loaded.Get("text")
	require.NoError(t, err)
	assert.Equal(t, "third", text)
}

func TestMutationRequiresSession(t *testing.T) {
	g, ns, _ := testNamespace(t, "n1")
	key := commitTask(t, ns, g, "stable", false, "Add")

	obj, err := g.GetObject(key)
	require.NoError(t, err)
	require.ErrorIs(t, obj.Set("done", true), errors.ErrNoOpenSession)

	_, err = ns.NewObject("Task", nil)
	require.ErrorIs(t, err, errors.ErrNoOpenSession)
}

func TestDanglingReference(t *testing.T) {
	g, ns, _ := testNamespace(t, "n1")

	s, err := g.OpenSession("Refs")
	require.NoError(t, err)
	missing := model.NewKey()
	obj, err := ns.NewObject("Task", map[string]interface{}{
		"text":  "has owner",
		"done":  false,
		"owner": missing, // assignment never checks existence
	})
	require.NoError(t, err)
	_, err = s.Commit("")
	require.NoError(t, err)

	// Reading the raw field works, only dereferencing fails.
	raw, err := obj.Get("owner")
	require.NoError(t, err)
	assert.Equal(t, missing, raw)

	_, err = obj.Resolve("owner")
	require.ErrorIs(t, err, errors.ErrDanglingReference)

	// Once the target exists the same access succeeds.
	person, err := ns.NewObjectWithKey("Person", missing, map[string]interface{}{"name": "ada"})
	require.NoError(t, err)
	_, err = s.Commit("Add person")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	target, err := obj.Resolve("owner")
	require.NoError(t, err)
	assert.Equal(t, person.Key(), target.Key())
}

func TestResolveChecksTargetClass(t *testing.T) {
	g, ns, _ := testNamespace(t, "n1")

	s, err := g.OpenSession("Refs")
	require.NoError(t, err)
	other, err := ns.NewObject("Task", map[string]interface{}{"text": "not a person", "done": false})
	require.NoError(t, err)
	obj, err := ns.NewObject("Task", map[string]interface{}{
		"text":  "bad owner",
		"done":  false,
		"owner": other.Key(),
	})
	require.NoError(t, err)
	_, err = s.Commit("")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = obj.Resolve("owner")
	require.ErrorIs(t, err, errors.ErrDanglingReference)
}

func TestResolveList(t *testing.T) {
	g, ns, _ := testNamespace(t, "n1")

	s, err := g.OpenSession("Refs")
	require.NoError(t, err)
	sub1, err := ns.NewObject("Task", map[string]interface{}{"text": "sub1", "done": false})
	require.NoError(t, err)
	sub2, err := ns.NewObject("Task", map[string]interface{}{"text": "sub2", "done": false})
	require.NoError(t, err)
	parent, err := ns.NewObject("Task", map[string]interface{}{
		"text":     "parent",
		"done":     false,
		"subtasks": []model.Key{sub2.Key(), sub1.Key()},
	})
	require.NoError(t, err)
	_, err = s.Commit("")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	targets, err := parent.ResolveList("subtasks")
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, sub2.Key(), targets[0].Key(), "sequence order is preserved")
	assert.Equal(t, sub1.Key(), targets[1].Key())
}

// flakyStore fails the nth Put, standing in for a staging area running
// out of disk.
type flakyStore struct {
	storage.Store
	failAt int
	puts   int
}

func (f *flakyStore) Put(ctx context.Context, key string, r io.Reader) error {
	f.puts++
	if f.puts == f.failAt {
		return fmt.Errorf("disk full")
	}
	return f.Store.Put(ctx, key, r)
}

func TestCommitAtomicity(t *testing.T) {
	staging := &flakyStore{Store: localfs.New(nil), failAt: 2}
	g, ns, _ := testNamespace(t, "n1", Staging(staging))

	s, err := g.OpenSession("Two objects")
	require.NoError(t, err)
	o1, err := ns.NewObject("Task", map[string]interface{}{"text": "one", "done": false})
	require.NoError(t, err)
	o2, err := ns.NewObject("Task", map[string]interface{}{"text": "two", "done": false})
	require.NoError(t, err)

	_, err = s.Commit("Must not land")
	require.Error(t, err)

	// Zero of the N changes are visible.
	assert.Empty(t, ns.Keys())

	// The session survives the failure; a retry lands both.
	_, err = s.Commit("Second try")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.ElementsMatch(t, []model.Key{o1.Key(), o2.Key()}, ns.Keys())
}
