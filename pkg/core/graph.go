// Package core implements the object graph on top of the repository:
// class registration, keyed object identity with lazy cross-references,
// session-scoped atomic commits and object-granular synchronization.
package core

import (
	"fmt"
	"sync"

	"github.com/keeldb/keel/pkg/errors"
	"github.com/keeldb/keel/pkg/model"
	"go.uber.org/zap"
)

// Graph is the per-process registry of classes, plus the live-object
// cache keyed by object identity. A graph binds to exactly one namespace
// and permits at most one open session at a time.
type Graph struct {
	mu      sync.Mutex
	classes map[string]model.ClassDescriptor
	cache   map[model.Key]*Object
	session *Session
	ns      *Namespace
	l       *zap.Logger
}

// NewGraph builds an empty registry.
func NewGraph(opts ...GraphOption) *Graph {
	g := &Graph{
		classes: make(map[string]model.ClassDescriptor),
		cache:   make(map[model.Key]*Object),
		l:       zap.NewNop(),
	}
	for _, apply := range opts {
		apply(g)
	}
	return g
}

// RegisterClass records a class descriptor. Registration is idempotent
// for an identical schema and fails when the tag is already bound to a
// different one.
func (g *Graph) RegisterClass(desc model.ClassDescriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.classes[desc.Tag]; ok {
		if prev.Equal(desc) {
			return nil
		}
		return errors.ErrDuplicateClass.Wrap(fmt.Errorf("class %s", desc.Tag))
	}
	g.classes[desc.Tag] = desc
	g.l.Debug("class registered", zap.String("class", desc.Tag), zap.Uint64("version", desc.Version))
	return nil
}

// Class retrieves a registered descriptor.
func (g *Graph) Class(tag string) (model.ClassDescriptor, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	desc, ok := g.classes[tag]
	return desc, ok
}

// GetObject returns the live object for a key. A cached object is
// returned as is, otherwise the namespace store loads and deserializes
// it. An absent key yields (nil, nil).
func (g *Graph) GetObject(key model.Key) (*Object, error) {
	g.mu.Lock()
	obj, cached := g.cache[key]
	ns := g.ns
	g.mu.Unlock()

	if ns == nil {
		return nil, errors.ErrRepository.Wrap(fmt.Errorf("graph is not bound to a namespace"))
	}
	if ns.conflicted(key) {
		return nil, errors.ErrMergeConflict.Wrap(fmt.Errorf("key %s", key))
	}
	if cached {
		return obj, nil
	}
	return ns.loadObject(key)
}

// Objects materializes every committed object of the bound namespace, in
// key order. A conflicted key fails the enumeration with a merge conflict
// error; resolve it first.
func (g *Graph) Objects() ([]*Object, error) {
	g.mu.Lock()
	ns := g.ns
	g.mu.Unlock()

	if ns == nil {
		return nil, errors.ErrRepository.Wrap(fmt.Errorf("graph is not bound to a namespace"))
	}
	keys := ns.Keys()
	objects := make([]*Object, 0, len(keys))
	for _, key := range keys {
		obj, err := g.GetObject(key)
		if err != nil {
			return nil, err
		}
		if obj == nil {
			continue
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// OpenSession acquires the namespace's exclusive write scope. It fails
// immediately when a session is already open.
func (g *Graph) OpenSession(message string) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ns == nil {
		return nil, errors.ErrRepository.Wrap(fmt.Errorf("graph is not bound to a namespace"))
	}
	if g.session != nil {
		return nil, errors.ErrSessionAlreadyOpen
	}
	s := &Session{
		graph:         g,
		ns:            g.ns,
		message:       message,
		dirty:         make(map[model.Key]*dirtyEntry),
		autoCommit:    g.ns.autoCommitOnClose,
		closeOnCommit: g.ns.closeOnCommit,
	}
	g.session = s
	g.l.Debug("session opened", zap.String("message", message))
	return s, nil
}

func (g *Graph) bind(ns *Namespace) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ns != nil {
		return errors.ErrRepository.Wrap(fmt.Errorf("graph is already bound to namespace %s", g.ns.name))
	}
	g.ns = ns
	return nil
}

func (g *Graph) currentSession() *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

func (g *Graph) releaseSession(s *Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == s {
		g.session = nil
	}
}

func (g *Graph) cachePut(obj *Object) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache[obj.key] = obj
}

func (g *Graph) cacheGet(key model.Key) (*Object, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	obj, ok := g.cache[key]
	return obj, ok
}

func (g *Graph) evict(keys ...model.Key) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, k := range keys {
		delete(g.cache, k)
	}
}

func (g *Graph) evictAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache = make(map[model.Key]*Object)
}
