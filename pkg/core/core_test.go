package core

import (
	"testing"

	"github.com/keeldb/keel/pkg/model"
	"github.com/stretchr/testify/require"
)

func taskClass() model.ClassDescriptor {
	return model.ClassDescriptor{
		Tag:     "Task",
		Version: 1,
		Fields: []model.FieldDescriptor{
			{Name: "text", Kind: model.KindString},
			{Name: "done", Kind: model.KindBool},
			{Name: "owner", Kind: model.KindRef, Target: "Person"},
			{Name: "subtasks", Kind: model.KindRefList, Target: "Task"},
		},
	}
}

func personClass() model.ClassDescriptor {
	return model.ClassDescriptor{
		Tag:     "Person",
		Version: 1,
		Fields: []model.FieldDescriptor{
			{Name: "name", Kind: model.KindString},
		},
	}
}

func testGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	require.NoError(t, g.RegisterClass(taskClass()))
	require.NoError(t, g.RegisterClass(personClass()))
	return g
}

func testNamespace(t *testing.T, name string, opts ...NamespaceOption) (*Graph, *Namespace, string) {
	t.Helper()
	g := testGraph(t)
	dir := t.TempDir()
	ns, err := New(g, name, dir, opts...)
	require.NoError(t, err)
	return g, ns, dir
}

// commitTask creates and commits one Task, returning its key.
func commitTask(t *testing.T, ns *Namespace, g *Graph, text string, done bool, message string) model.Key {
	t.Helper()
	s, err := g.OpenSession(message)
	require.NoError(t, err)
	obj, err := ns.NewObject("Task", map[string]interface{}{"text": text, "done": done})
	require.NoError(t, err)
	_, err = s.Commit(message)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	return obj.Key()
}
