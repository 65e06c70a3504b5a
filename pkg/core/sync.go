package core

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/keeldb/keel/pkg/errors"
	"github.com/keeldb/keel/pkg/model"
	"go.uber.org/zap"
)

// mergeDecision is the outcome of the three-way combination for one key.
type mergeDecision int

const (
	keepLocal mergeDecision = iota
	takeRemote
	removeLocal
	conflict
)

// syncRemote fetches one remote's branch tip and merges it into the
// local namespace at object granularity. Keys changed on one side only
// take that side's version; keys changed on both sides to different
// encodings are flagged conflicted and keep their pre-merge local
// version, never a last-writer-wins guess.
func (n *Namespace) syncRemote(ctx context.Context, remote string) error {
	if err := n.repo.Fetch(ctx, remote); err != nil {
		return err
	}
	remoteTip, found, err := n.repo.RemoteHead(remote)
	if err != nil {
		return err
	}
	if !found {
		return errors.ErrRepository.Wrap(
			fmt.Errorf("remote %s has no branch %s", remote, n.repo.Branch()))
	}
	localTip, err := n.repo.Head()
	if err != nil {
		return err
	}
	if remoteTip == localTip {
		return nil
	}

	base := plumbing.ZeroHash
	if b, ok, err := n.repo.MergeBase(localTip, remoteTip); err != nil {
		return err
	} else if ok {
		base = b
	}
	if base == remoteTip {
		// Everything the remote has is already part of local history.
		return nil
	}

	remoteManifest, err := n.manifestAt(remoteTip)
	if err != nil {
		return err
	}

	if base == localTip {
		// The local branch never diverged: adopt the remote tip as is.
		if err := n.repo.ResetTo(remoteTip); err != nil {
			return err
		}
		n.mu.Lock()
		n.manifest = remoteManifest
		n.mu.Unlock()
		n.graph.evictAll()
		n.l.Info("synced fast-forward", zap.String("remote", remote), zap.String("tip", remoteTip.String()))
		return nil
	}

	return n.merge(remote, localTip, remoteTip, base, remoteManifest)
}

func (n *Namespace) merge(remote string, localTip, remoteTip, base plumbing.Hash, remoteManifest *model.Manifest) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	baseManifest := model.NewManifest()
	if base != plumbing.ZeroHash {
		m, err := n.manifestAt(base)
		if err != nil {
			return err
		}
		baseManifest = m
	}

	merged := n.manifest.Clone()
	if err := mergeClasses(merged, remoteManifest); err != nil {
		return err
	}
	for _, key := range remoteManifest.Conflicted {
		merged.FlagConflict(key)
	}
	for _, key := range remoteManifest.Tombstones {
		merged.AddTombstone(key)
	}

	writes := make(map[string][]byte)
	var removals []string
	var adopted, conflicted []model.Key

	for _, key := range unionKeys(n.manifest, remoteManifest, baseManifest) {
		decision, err := n.decide(key, localTip, remoteTip, base)
		if err != nil {
			return err
		}
		switch decision {
		case keepLocal:
			// Nothing to do, the local tree already carries it.
		case takeRemote:
			path := model.ArchivePathToObject(key)
			data, found, err := n.repo.ReadFile(remoteTip, path)
			if err != nil {
				return err
			}
			if !found {
				return errors.ErrRepository.Wrap(
					fmt.Errorf("remote %s names %s but the record is missing", remote, key))
			}
			writes[path] = data
			merged.SetObject(key)
			adopted = append(adopted, key)
		case removeLocal:
			if _, ok := merged.PathTo(key); ok {
				removals = append(removals, model.ArchivePathToObject(key))
				merged.RemoveObject(key)
				adopted = append(adopted, key)
			}
		case conflict:
			merged.FlagConflict(key)
			conflicted = append(conflicted, key)
		}
	}

	manifestData, err := merged.Marshal()
	if err != nil {
		return err
	}
	writes[model.ManifestPath()] = manifestData

	message := fmt.Sprintf("Merge remote %q", remote)
	info, committed, err := n.repo.Apply(writes, removals, message, remoteTip)
	if err != nil {
		return err
	}
	if !committed {
		return nil
	}

	n.manifest = merged
	n.graph.evict(adopted...)
	n.graph.evict(conflicted...)
	n.l.Info("merged remote",
		zap.String("remote", remote),
		zap.String("hash", info.Hash),
		zap.Int("adopted", len(adopted)),
		zap.Int("conflicted", len(conflicted)))
	return nil
}

// decide computes the three-way outcome for one key from the blob hashes
// of its record on each side.
func (n *Namespace) decide(key model.Key, localTip, remoteTip, base plumbing.Hash) (mergeDecision, error) {
	path := model.ArchivePathToObject(key)
	localHash, localHas, err := n.repo.FileHash(localTip, path)
	if err != nil {
		return keepLocal, err
	}
	remoteHash, remoteHas, err := n.repo.FileHash(remoteTip, path)
	if err != nil {
		return keepLocal, err
	}
	baseHash, baseHas, err := n.repo.FileHash(base, path)
	if err != nil {
		return keepLocal, err
	}

	localChanged := localHas != baseHas || (localHas && localHash != baseHash)
	remoteChanged := remoteHas != baseHas || (remoteHas && remoteHash != baseHash)

	switch {
	case !remoteChanged:
		return keepLocal, nil
	case !localChanged:
		if !remoteHas {
			return removeLocal, nil
		}
		return takeRemote, nil
	default:
		// Both sides changed. Identical outcomes are not a conflict.
		if localHas == remoteHas && localHash == remoteHash {
			return keepLocal, nil
		}
		return conflict, nil
	}
}

// mergeClasses folds the remote's class table into the merged manifest.
// A class tag bound to two different schema versions cannot be combined.
func mergeClasses(merged, remote *model.Manifest) error {
	for tag, version := range remote.Classes {
		if local, ok := merged.Classes[tag]; ok && local != version {
			return errors.ErrSchemaVersion.Wrap(
				fmt.Errorf("class %s has schema version %d locally, %d remotely", tag, local, version))
		}
		merged.SetClass(tag, version)
	}
	return nil
}

func unionKeys(manifests ...*model.Manifest) []model.Key {
	seen := make(map[model.Key]struct{})
	var keys []model.Key
	for _, m := range manifests {
		for _, k := range m.Keys() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}

// manifestAt reads and validates the manifest recorded in a commit tree.
func (n *Namespace) manifestAt(commit plumbing.Hash) (*model.Manifest, error) {
	data, found, err := n.repo.ReadFile(commit, model.ManifestPath())
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.ErrRepository.Wrap(
			fmt.Errorf("commit %s carries no manifest, not a namespace", commit))
	}
	m, err := model.UnmarshalManifest(data)
	if err != nil {
		return nil, errors.ErrSchemaVersion.Wrap(err)
	}
	return m, nil
}
