package vcs

import (
	"context"
	"fmt"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/keeldb/keel/pkg/errors"
	"go.uber.org/zap"
)

const (
	fetchAttempts = 3
	fetchBackoff  = 250 * time.Millisecond
)

// SetFetchRetries overrides the number of fetch attempts before a
// transient failure escalates. Values below one are ignored.
func (r *Repo) SetFetchRetries(attempts int) {
	if attempts >= 1 {
		r.retries = attempts
	}
}

// AddRemote registers a named remote location.
func (r *Repo) AddRemote(name, location string) error {
	_, err := r.repo.CreateRemote(&config.RemoteConfig{
		Name: name,
		URLs: []string{location},
	})
	if err == git.ErrRemoteExists {
		return errors.ErrDuplicateRemote.Wrap(fmt.Errorf("remote %s", name))
	}
	if err != nil {
		return errors.ErrRepository.Wrap(err)
	}
	r.l.Debug("remote registered", zap.String("remote", name), zap.String("location", location))
	return nil
}

// Fetch updates the shadow reference of the remote's namespace branch.
// Transient failures are retried a small bounded number of times before
// escalating.
func (r *Repo) Fetch(ctx context.Context, remote string) error {
	spec := config.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", r.branch, remote, r.branch))
	var err error
	for attempt := 1; attempt <= r.retries; attempt++ {
		err = r.repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: remote,
			RefSpecs:   []config.RefSpec{spec},
		})
		if err == nil || err == git.NoErrAlreadyUpToDate {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		r.l.Debug("fetch failed, retrying",
			zap.String("remote", remote),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-time.After(fetchBackoff):
		case <-ctx.Done():
			return errors.ErrRepository.Wrap(ctx.Err())
		}
	}
	return errors.ErrRepository.Wrap(fmt.Errorf("fetch %s: %w", remote, err))
}

// RemoteHead yields the fetched tip of the remote's namespace branch.
func (r *Repo) RemoteHead(remote string) (plumbing.Hash, bool, error) {
	ref, err := r.repo.Reference(plumbing.NewRemoteReferenceName(remote, r.branch), true)
	if err == plumbing.ErrReferenceNotFound {
		return plumbing.ZeroHash, false, nil
	}
	if err != nil {
		return plumbing.ZeroHash, false, errors.ErrRepository.Wrap(err)
	}
	return ref.Hash(), true, nil
}

// MergeBase yields the closest common ancestor of two commits. Unrelated
// histories have no ancestor: ok is false and a merge proceeds against an
// empty base.
func (r *Repo) MergeBase(a, b plumbing.Hash) (plumbing.Hash, bool, error) {
	ca, err := r.repo.CommitObject(a)
	if err != nil {
		return plumbing.ZeroHash, false, errors.ErrRepository.Wrap(err)
	}
	cb, err := r.repo.CommitObject(b)
	if err != nil {
		return plumbing.ZeroHash, false, errors.ErrRepository.Wrap(err)
	}
	bases, err := ca.MergeBase(cb)
	if err != nil {
		return plumbing.ZeroHash, false, errors.ErrRepository.Wrap(err)
	}
	if len(bases) == 0 {
		return plumbing.ZeroHash, false, nil
	}
	return bases[0].Hash, true, nil
}

// IsAncestor reports whether commit a is an ancestor of commit b.
func (r *Repo) IsAncestor(a, b plumbing.Hash) (bool, error) {
	ca, err := r.repo.CommitObject(a)
	if err != nil {
		return false, errors.ErrRepository.Wrap(err)
	}
	cb, err := r.repo.CommitObject(b)
	if err != nil {
		return false, errors.ErrRepository.Wrap(err)
	}
	ok, err := ca.IsAncestor(cb)
	if err != nil {
		return false, errors.ErrRepository.Wrap(err)
	}
	return ok, nil
}
