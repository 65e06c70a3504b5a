// Package vcs wraps the backing version control system behind a small
// surface: repository open, staged commits, remote registration, fetch
// and ancestry lookups. Everything above this package treats the
// repository as a black box.
package vcs

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-git/go-billy/v5/util"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
	"github.com/keeldb/keel/pkg/errors"
	"go.uber.org/zap"
)

func init() {
	// Local path remotes resolve in-process, no git binaries required.
	client.InstallProtocol("file", server.NewClient(server.DefaultLoader))
}

// Signature identifies the committer recorded on commits produced by
// this repository handle.
type Signature struct {
	Name  string
	Email string
}

// CommitInfo describes one commit created through Apply.
type CommitInfo struct {
	Hash string
	When time.Time
}

// Repo is a handle on one repository and one branch of it. All commits
// go to that branch, all reads come from commit trees, never from the
// working tree, so uncommitted state is never observable.
type Repo struct {
	repo    *git.Repository
	wt      *git.Worktree
	branch  string
	sig     Signature
	retries int
	l       *zap.Logger
}

// Open opens the repository at path, initializing it when absent, and
// ensures the given branch exists with at least one commit.
func Open(path, branch string, sig Signature, l *zap.Logger) (*Repo, error) {
	if l == nil {
		l = zap.NewNop()
	}
	created := false
	repo, err := git.PlainOpen(path)
	if err == git.ErrRepositoryNotExists {
		repo, err = git.PlainInit(path, false)
		created = true
	}
	if err != nil {
		return nil, errors.ErrRepository.Wrap(fmt.Errorf("open %s: %w", path, err))
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, errors.ErrRepository.Wrap(err)
	}
	r := &Repo{repo: repo, wt: wt, branch: branch, sig: sig, retries: fetchAttempts, l: l}
	if err := r.ensureBranch(created); err != nil {
		return nil, err
	}
	return r, nil
}

// Branch yields the branch this handle commits to.
func (r *Repo) Branch() string {
	return r.branch
}

func (r *Repo) branchRef() plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(r.branch)
}

func (r *Repo) signature() *object.Signature {
	return &object.Signature{Name: r.sig.Name, Email: r.sig.Email, When: time.Now()}
}

func (r *Repo) ensureBranch(created bool) error {
	ref := r.branchRef()
	if _, err := r.repo.Reference(ref, true); err == nil {
		if err := r.wt.Checkout(&git.CheckoutOptions{Branch: ref}); err != nil {
			return errors.ErrRepository.Wrap(err)
		}
		return nil
	}
	if created {
		// A fresh repository: point HEAD at the namespace branch before
		// the first commit so no stray default branch is left behind.
		head := plumbing.NewSymbolicReference(plumbing.HEAD, ref)
		if err := r.repo.Storer.SetReference(head); err != nil {
			return errors.ErrRepository.Wrap(err)
		}
		_, err := r.wt.Commit("Initialize namespace", &git.CommitOptions{
			Author:            r.signature(),
			AllowEmptyCommits: true,
		})
		if err != nil {
			return errors.ErrRepository.Wrap(err)
		}
		r.l.Debug("initialized repository branch", zap.String("branch", r.branch))
		return nil
	}
	// An existing repository without the namespace branch: branch off the
	// current head.
	headRef, err := r.repo.Head()
	if err != nil {
		return errors.ErrRepository.Wrap(err)
	}
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(ref, headRef.Hash())); err != nil {
		return errors.ErrRepository.Wrap(err)
	}
	if err := r.wt.Checkout(&git.CheckoutOptions{Branch: ref}); err != nil {
		return errors.ErrRepository.Wrap(err)
	}
	return nil
}

// Head yields the tip of the namespace branch.
func (r *Repo) Head() (plumbing.Hash, error) {
	ref, err := r.repo.Reference(r.branchRef(), true)
	if err != nil {
		return plumbing.ZeroHash, errors.ErrRepository.Wrap(err)
	}
	return ref.Hash(), nil
}

// ReadFile reads a blob from the tree of the given commit. A missing
// path yields storage-style absence through ok=false, not an error.
func (r *Repo) ReadFile(commit plumbing.Hash, path string) ([]byte, bool, error) {
	tree, err := r.treeOf(commit)
	if err != nil {
		return nil, false, err
	}
	f, err := tree.File(path)
	if err == object.ErrFileNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.ErrRepository.Wrap(err)
	}
	contents, err := f.Contents()
	if err != nil {
		return nil, false, errors.ErrRepository.Wrap(err)
	}
	return []byte(contents), true, nil
}

// FileHash yields the blob hash of a path in a commit tree, used to
// decide whether two sides of a merge changed the same object.
func (r *Repo) FileHash(commit plumbing.Hash, path string) (plumbing.Hash, bool, error) {
	if commit == plumbing.ZeroHash {
		return plumbing.ZeroHash, false, nil
	}
	tree, err := r.treeOf(commit)
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	entry, err := tree.FindEntry(path)
	if err != nil {
		return plumbing.ZeroHash, false, nil
	}
	return entry.Hash, true, nil
}

// ListTree yields the paths under a prefix in a commit tree, sorted.
func (r *Repo) ListTree(commit plumbing.Hash, prefix string) ([]string, error) {
	tree, err := r.treeOf(commit)
	if err != nil {
		return nil, err
	}
	var paths []string
	iter := tree.Files()
	err = iter.ForEach(func(f *object.File) error {
		if prefix == "" || hasPathPrefix(f.Name, prefix) {
			paths = append(paths, f.Name)
		}
		return nil
	})
	if err != nil {
		return nil, errors.ErrRepository.Wrap(err)
	}
	sort.Strings(paths)
	return paths, nil
}

func hasPathPrefix(path, prefix string) bool {
	return len(path) >= len(prefix) && path[:len(prefix)] == prefix
}

func (r *Repo) treeOf(commit plumbing.Hash) (*object.Tree, error) {
	c, err := r.repo.CommitObject(commit)
	if err != nil {
		return nil, errors.ErrRepository.Wrap(err)
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, errors.ErrRepository.Wrap(err)
	}
	return tree, nil
}

// Apply writes and removes the given paths in the working tree, stages
// exactly those paths and commits them in one commit with the message
// attached verbatim. Extra parents turn the commit into a merge commit.
// When nothing is staged no commit is created and ok is false. A failing
// apply restores the worktree to the branch tip, so partially staged
// paths never bleed into a later commit.
func (r *Repo) Apply(writes map[string][]byte, removals []string, message string, extraParents ...plumbing.Hash) (CommitInfo, bool, error) {
	info, ok, err := r.apply(writes, removals, message, extraParents...)
	if err != nil {
		r.restoreWorktree()
	}
	return info, ok, err
}

func (r *Repo) apply(writes map[string][]byte, removals []string, message string, extraParents ...plumbing.Hash) (CommitInfo, bool, error) {
	paths := make([]string, 0, len(writes))
	for p := range writes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if err := util.WriteFile(r.wt.Filesystem, p, writes[p], 0644); err != nil {
			return CommitInfo{}, false, errors.ErrRepository.Wrap(fmt.Errorf("write %s: %w", p, err))
		}
		if _, err := r.wt.Add(p); err != nil {
			return CommitInfo{}, false, errors.ErrRepository.Wrap(fmt.Errorf("stage %s: %w", p, err))
		}
	}
	for _, p := range removals {
		if _, err := r.wt.Remove(p); err != nil {
			return CommitInfo{}, false, errors.ErrRepository.Wrap(fmt.Errorf("remove %s: %w", p, err))
		}
	}

	status, err := r.wt.Status()
	if err != nil {
		return CommitInfo{}, false, errors.ErrRepository.Wrap(err)
	}
	if status.IsClean() && len(extraParents) == 0 {
		r.l.Debug("nothing staged, skipping commit", zap.String("message", message))
		return CommitInfo{}, false, nil
	}

	opts := &git.CommitOptions{Author: r.signature()}
	if len(extraParents) > 0 {
		head, err := r.Head()
		if err != nil {
			return CommitInfo{}, false, err
		}
		opts.Parents = append([]plumbing.Hash{head}, extraParents...)
		opts.AllowEmptyCommits = true
	}
	sig := opts.Author
	hash, err := r.wt.Commit(message, opts)
	if err != nil {
		return CommitInfo{}, false, errors.ErrRepository.Wrap(err)
	}
	r.l.Debug("committed",
		zap.String("hash", hash.String()),
		zap.String("message", message),
		zap.Int("writes", len(writes)),
		zap.Int("removals", len(removals)))
	return CommitInfo{Hash: hash.String(), When: sig.When}, true, nil
}

// restoreWorktree makes the working tree and index match the branch tip
// again after a failed apply.
func (r *Repo) restoreWorktree() {
	head, err := r.Head()
	if err != nil {
		return
	}
	if err := r.wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: head}); err != nil {
		r.l.Debug("worktree restore failed", zap.Error(err))
	}
}

// ResetTo moves the branch tip to the given commit and makes the working
// tree match it. Used for fast-forward synchronization.
func (r *Repo) ResetTo(commit plumbing.Hash) error {
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(r.branchRef(), commit)); err != nil {
		return errors.ErrRepository.Wrap(err)
	}
	if err := r.wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: commit}); err != nil {
		return errors.ErrRepository.Wrap(err)
	}
	return nil
}
