// Package localfs provides a file system backed implementation of
// storage.Store on top of afero.
package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/keeldb/keel/pkg/storage"
	"github.com/spf13/afero"
)

// New creates a new local file system backed store. A nil fs defaults to
// an in-memory file system, which is what the namespace store uses as its
// commit staging area.
func New(fs afero.Fs) storage.Store {
	if fs == nil {
		fs = afero.NewMemMapFs()
	}
	return &localFS{fs: fs}
}

type localFS struct {
	fs afero.Fs
}

func (l *localFS) Has(ctx context.Context, key string) (bool, error) {
	fi, err := l.fs.Stat(key)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !fi.IsDir(), nil
}

func (l *localFS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	has, err := l.Has(ctx, key)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, storage.ErrNotFound
	}
	return l.fs.Open(key)
}

func (l *localFS) Put(ctx context.Context, key string, source io.Reader) error {
	dir := filepath.Dir(key)
	if dir != "" {
		if err := l.fs.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("ensuring directories for %q: %v", key, err)
		}
	}
	target, err := l.fs.OpenFile(key, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_SYNC, 0600)
	if err != nil {
		return fmt.Errorf("create record for %q: %v", key, err)
	}
	defer target.Close()
	if _, err = storage.PipeIO(target, source); err != nil {
		return fmt.Errorf("write record for %q: %v", key, err)
	}
	return nil
}

func (l *localFS) Delete(ctx context.Context, key string) error {
	if err := l.fs.Remove(key); err != nil {
		return fmt.Errorf("removing %q: %v", key, err)
	}
	return nil
}

func (l *localFS) Keys(ctx context.Context) ([]string, error) {
	var res []string
	e := afero.Walk(l.fs, "", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info == nil || info.IsDir() {
			return nil
		}
		res = append(res, strings.TrimPrefix(filepath.ToSlash(path), "/"))
		return nil
	})
	if e != nil {
		return nil, e
	}
	return res, nil
}

func (l *localFS) Clear(ctx context.Context) error {
	keys, err := l.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := l.fs.Remove(k); err != nil {
			return err
		}
	}
	return nil
}

func (l *localFS) String() string {
	const localfsScheme = "localfs"
	switch fs := l.fs.(type) {
	case *afero.BasePathFs:
		pp, err := fs.RealPath("")
		if err != nil {
			return localfsScheme
		}
		return localfsScheme + "@" + pp
	default:
		return localfsScheme
	}
}
