package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/keeldb/keel/pkg/dlogger"
	"github.com/keeldb/keel/pkg/errors"
	"github.com/keeldb/keel/pkg/model"
	"github.com/keeldb/keel/pkg/storage"
	"github.com/keeldb/keel/pkg/storage/localfs"
	"github.com/keeldb/keel/pkg/vcs"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Namespace binds a graph to one repository and branch. It owns the
// serialized object records, the manifest, the staging area and the
// registered remotes.
type Namespace struct {
	name    string
	graph   *Graph
	repo    *vcs.Repo
	staging storage.Store
	l       *zap.Logger

	mu       sync.Mutex
	manifest *model.Manifest
	remotes  []string

	branch            string
	committer         vcs.Signature
	syncRetries       int
	autoCommitOnClose bool
	closeOnCommit     bool
}

// New binds a graph to the repository at path, initializing the
// repository, the branch and the manifest when absent.
func New(graph *Graph, name, path string, opts ...NamespaceOption) (*Namespace, error) {
	n := defaultNamespace(name, graph)
	for _, apply := range opts {
		apply(n)
	}
	n.l = dlogger.WithNamespace(n.l, name, n.branch)

	repo, err := vcs.Open(path, n.branch, n.committer, n.l)
	if err != nil {
		return nil, err
	}
	n.repo = repo
	if n.syncRetries > 0 {
		repo.SetFetchRetries(n.syncRetries)
	}
	if n.staging == nil {
		n.staging = localfs.New(nil)
	}
	if err := graph.bind(n); err != nil {
		return nil, err
	}
	if err := n.loadOrCreateManifest(); err != nil {
		return nil, err
	}
	return n, nil
}

func defaultNamespace(name string, graph *Graph) *Namespace {
	return &Namespace{
		name:      name,
		graph:     graph,
		branch:    "main",
		committer: vcs.Signature{Name: "keel", Email: "keel@localhost"},
		l:         zap.NewNop(),
	}
}

// Name yields the namespace name.
func (n *Namespace) Name() string {
	return n.name
}

// GetObject delegates to the graph registry; see Graph.GetObject.
func (n *Namespace) GetObject(key model.Key) (*Object, error) {
	return n.graph.GetObject(key)
}

// Keys lists every committed key in the namespace, in lexical order.
func (n *Namespace) Keys() []model.Key {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manifest.Keys()
}

// NewObject creates an instance of a registered class, assigns it a
// fresh key and records it in the open session.
func (n *Namespace) NewObject(classTag string, values map[string]interface{}) (*Object, error) {
	return n.newObject(classTag, model.NewKey(), values)
}

// NewObjectWithKey creates an instance bound to an explicit key. This is
// the resolution path for conflicted keys whose local version was a
// deletion, and the materialization path for replication tooling. The
// key must not collide with a live one and must never have carried a
// committed object that was since deleted: reassigning a retired key
// would let stale references resolve to the new object.
func (n *Namespace) NewObjectWithKey(classTag string, key model.Key, values map[string]interface{}) (*Object, error) {
	if _, cached := n.graph.cacheGet(key); cached {
		return nil, fmt.Errorf("key %s is already live in this namespace", key)
	}
	if !n.conflicted(key) {
		if n.tombstoned(key) {
			return nil, fmt.Errorf("key %s was deleted from this namespace and cannot be reused", key)
		}
		if _, ok := n.pathTo(key); ok {
			return nil, fmt.Errorf("key %s is already committed in this namespace", key)
		}
	}
	return n.newObject(classTag, key, values)
}

func (n *Namespace) newObject(classTag string, key model.Key, values map[string]interface{}) (*Object, error) {
	desc, ok := n.graph.Class(classTag)
	if !ok {
		return nil, fmt.Errorf("class %s is not registered", classTag)
	}
	s := n.graph.currentSession()
	if s == nil || !s.isOpen() {
		return nil, errors.ErrNoOpenSession
	}
	if !key.Valid() {
		return nil, fmt.Errorf("invalid key %q", key)
	}
	o := &Object{
		graph:  n.graph,
		ns:     n,
		class:  desc,
		key:    key,
		fields: make(map[string]interface{}, len(values)),
	}
	for name, v := range values {
		fd, ok := desc.FieldByName(name)
		if !ok {
			return nil, fmt.Errorf("class %s has no field %s", classTag, name)
		}
		normalized, err := normalizeValue(fd.Kind, v)
		if err != nil {
			return nil, err
		}
		o.fields[name] = normalized
	}
	n.graph.cachePut(o)
	s.touch(o)
	return o, nil
}

// DeleteObject marks a committed object for removal in the open session.
func (n *Namespace) DeleteObject(key model.Key) error {
	obj, err := n.GetObject(key)
	if err != nil {
		return err
	}
	if obj == nil {
		return fmt.Errorf("key %s does not exist", key)
	}
	return obj.Delete()
}

// AddRemote registers a named remote location. Remotes are synchronized
// in registration order.
func (n *Namespace) AddRemote(name, location string) error {
	if err := n.repo.AddRemote(name, location); err != nil {
		return err
	}
	n.mu.Lock()
	n.remotes = append(n.remotes, name)
	n.mu.Unlock()
	return nil
}

// Sync fetches and merges every registered remote, in registration
// order. Per-remote failures are aggregated; the namespace is left at
// its last consistent state after a failure.
func (n *Namespace) Sync(ctx context.Context) error {
	if s := n.graph.currentSession(); s != nil && s.isOpen() {
		return errors.ErrSessionAlreadyOpen.Wrap(
			fmt.Errorf("sync requires exclusive access to namespace %s", n.name))
	}
	n.mu.Lock()
	remotes := append([]string(nil), n.remotes...)
	n.mu.Unlock()

	var errs error
	for _, remote := range remotes {
		if err := n.syncRemote(ctx, remote); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sync %s: %w", remote, err))
		}
	}
	return errs
}

func (n *Namespace) conflicted(key model.Key) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manifest.IsConflicted(key)
}

func (n *Namespace) tombstoned(key model.Key) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manifest.IsTombstoned(key)
}

func (n *Namespace) pathTo(key model.Key) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manifest.PathTo(key)
}

// loadObject deserializes a committed record and installs it in the
// graph cache. An unknown key yields (nil, nil).
func (n *Namespace) loadObject(key model.Key) (*Object, error) {
	path, ok := n.pathTo(key)
	if !ok {
		return nil, nil
	}
	head, err := n.repo.Head()
	if err != nil {
		return nil, err
	}
	data, found, err := n.repo.ReadFile(head, path)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.ErrRepository.Wrap(
			fmt.Errorf("manifest names %s at %s but the record is missing", key, path))
	}
	record, err := model.DecodeRecord(data)
	if err != nil {
		return nil, err
	}
	desc, ok := n.graph.Class(record.Class)
	if !ok {
		return nil, errors.ErrSchemaVersion.Wrap(
			fmt.Errorf("record %s has class %s, which is not registered", key, record.Class))
	}
	if record.Schema != desc.Version {
		return nil, errors.ErrSchemaVersion.Wrap(
			fmt.Errorf("record %s has schema version %d, registry supports %d",
				key, record.Schema, desc.Version))
	}
	obj, err := materialize(n.graph, n, desc, record)
	if err != nil {
		return nil, err
	}
	n.graph.cachePut(obj)
	return obj, nil
}

// stageAndCommit writes and removes exactly the files implied by the
// dirty set and produces one commit. Every record is serialized into the
// staging store first; the repository is only touched once the full set
// staged cleanly, so a failing write leaves no partial state behind.
func (n *Namespace) stageAndCommit(dirty map[model.Key]*dirtyEntry, message string) (model.CommitRecord, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ctx := context.Background()
	defer func() {
		_ = n.staging.Clear(ctx)
	}()

	next := n.manifest.Clone()
	var written, removed []model.Key
	var removals []string

	keys := make([]model.Key, 0, len(dirty))
	for k := range dirty {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, key := range keys {
		entry := dirty[key]
		path := model.ArchivePathToObject(key)
		if entry.deleted {
			if _, ok := next.PathTo(key); ok {
				removals = append(removals, path)
				next.RemoveObject(key)
				next.AddTombstone(key)
				removed = append(removed, key)
			}
			next.ClearConflict(key)
			continue
		}
		record, err := entry.obj.Record()
		if err != nil {
			return model.CommitRecord{}, err
		}
		data, err := model.EncodeRecord(record)
		if err != nil {
			return model.CommitRecord{}, err
		}
		if err := n.staging.Put(ctx, path, bytes.NewReader(data)); err != nil {
			return model.CommitRecord{}, errors.ErrRepository.Wrap(err)
		}
		next.SetObject(key)
		next.SetClass(record.Class, record.Schema)
		next.ClearConflict(key)
		next.ClearTombstone(key)
		written = append(written, key)
	}

	manifestData, err := next.Marshal()
	if err != nil {
		return model.CommitRecord{}, err
	}
	if err := n.staging.Put(ctx, model.ManifestPath(), bytes.NewReader(manifestData)); err != nil {
		return model.CommitRecord{}, errors.ErrRepository.Wrap(err)
	}

	// The whole dirty set staged cleanly: apply it to the repository.
	writes, err := n.collectStaged(ctx)
	if err != nil {
		return model.CommitRecord{}, err
	}
	info, ok, err := n.repo.Apply(writes, removals, message)
	if err != nil {
		return model.CommitRecord{}, err
	}
	if !ok {
		// Nothing actually changed: no commit, the manifest is untouched.
		return model.CommitRecord{Message: message}, nil
	}

	n.manifest = next
	n.graph.evict(removed...)
	n.l.Info("committed session",
		zap.String("hash", info.Hash),
		zap.Int("written", len(written)),
		zap.Int("removed", len(removed)))
	return model.CommitRecord{
		Hash:      info.Hash,
		Message:   message,
		Timestamp: info.When,
		Written:   written,
		Removed:   removed,
	}, nil
}

func (n *Namespace) collectStaged(ctx context.Context) (map[string][]byte, error) {
	staged, err := n.staging.Keys(ctx)
	if err != nil {
		return nil, errors.ErrRepository.Wrap(err)
	}
	writes := make(map[string][]byte, len(staged))
	for _, path := range staged {
		rdr, err := n.staging.Get(ctx, path)
		if err != nil {
			return nil, errors.ErrRepository.Wrap(err)
		}
		data, err := io.ReadAll(rdr)
		_ = rdr.Close()
		if err != nil {
			return nil, errors.ErrRepository.Wrap(err)
		}
		writes[path] = data
	}
	return writes, nil
}

func (n *Namespace) loadOrCreateManifest() error {
	head, err := n.repo.Head()
	if err != nil {
		return err
	}
	data, found, err := n.repo.ReadFile(head, model.ManifestPath())
	if err != nil {
		return err
	}
	if found {
		m, err := model.UnmarshalManifest(data)
		if err != nil {
			return errors.ErrSchemaVersion.Wrap(err)
		}
		n.manifest = m
		return nil
	}

	m := model.NewManifest()
	manifestData, err := m.Marshal()
	if err != nil {
		return err
	}
	writes := map[string][]byte{model.ManifestPath(): manifestData}
	if _, _, err := n.repo.Apply(writes, nil, "Set store version"); err != nil {
		return err
	}
	n.manifest = m
	n.l.Debug("manifest created", zap.String("storeVersion", model.StoreVersion))
	return nil
}
