// Package storage abstracts a flat key/value file store.
//
// The namespace store stages every pending write into such a store before
// anything touches the repository working tree, which is what makes a
// session commit all-or-nothing.
package storage

import (
	"context"
	"io"
)

type errString string

func (e errString) Error() string { return string(e) }

// ErrNotFound when a key is absent from the store
const ErrNotFound errString = "not found"

// Store implementations know how to read and write entries of a flat K/V
// file store. Implementations of this interface are assumed to be fairly
// simple.
type Store interface {
	String() string
	Has(context.Context, string) (bool, error)
	Get(context.Context, string) (io.ReadCloser, error)
	Put(context.Context, string, io.Reader) error
	Delete(context.Context, string) error
	Keys(context.Context) ([]string, error)
	Clear(context.Context) error
}

// PipeIO copies a reader out to a writer
func PipeIO(writer io.Writer, reader io.Reader) (n int64, err error) {
	pr, pw := io.Pipe()
	errC := make(chan error, 1)
	go func() {
		defer pw.Close()
		_, err := io.Copy(pw, reader)
		errC <- err
	}()
	written, err := io.Copy(writer, pr)
	if err != nil {
		return 0, err
	}
	err = <-errC
	return written, err
}
