package core

import (
	"github.com/keeldb/keel/pkg/errors"
	"github.com/keeldb/keel/pkg/model"
	"go.uber.org/zap"
)

type sessionState int

const (
	sessionOpen sessionState = iota
	sessionCommitted
	sessionAbandoned
)

type dirtyEntry struct {
	obj     *Object
	deleted bool
}

// Session is a scoped acquisition of exclusive write access to a
// namespace. Mutations accumulate in an in-memory dirty set keyed by
// object key, last write per key wins; nothing is durable until Commit.
type Session struct {
	graph   *Graph
	ns      *Namespace
	message string
	dirty   map[model.Key]*dirtyEntry
	state   sessionState

	committed     bool
	autoCommit    bool
	closeOnCommit bool
}

func (s *Session) isOpen() bool {
	return s.state == sessionOpen
}

func (s *Session) touch(o *Object) {
	s.dirty[o.key] = &dirtyEntry{obj: o}
}

func (s *Session) remove(o *Object) {
	s.dirty[o.key] = &dirtyEntry{obj: o, deleted: true}
}

// Commit flushes the dirty set as exactly one commit carrying the given
// message (the session's default message when empty) and keeps the
// session open for further mutation-and-commit cycles.
func (s *Session) Commit(message string) (model.CommitRecord, error) {
	if !s.isOpen() {
		return model.CommitRecord{}, errors.ErrNoOpenSession
	}
	if message == "" {
		message = s.message
	}
	rec, err := s.ns.stageAndCommit(s.dirty, message)
	if err != nil {
		return model.CommitRecord{}, err
	}
	s.dirty = make(map[model.Key]*dirtyEntry)
	s.committed = true
	if s.closeOnCommit {
		s.state = sessionCommitted
		s.graph.releaseSession(s)
	}
	return rec, nil
}

// Close ends the session. Pending mutations are discarded unless the
// namespace was configured to auto-commit on close. The namespace write
// lock is released on every path.
func (s *Session) Close() error {
	if !s.isOpen() {
		return nil
	}
	defer s.graph.releaseSession(s)

	if len(s.dirty) == 0 {
		if s.committed {
			s.state = sessionCommitted
		} else {
			s.state = sessionAbandoned
		}
		return nil
	}

	if s.autoCommit {
		_, err := s.ns.stageAndCommit(s.dirty, s.message)
		if err != nil {
			s.discard()
			s.state = sessionAbandoned
			return err
		}
		s.dirty = make(map[model.Key]*dirtyEntry)
		s.state = sessionCommitted
		return nil
	}

	pending := len(s.dirty)
	s.discard()
	s.state = sessionAbandoned
	s.ns.l.Debug("session abandoned, pending mutations discarded", zap.Int("pending", pending))
	return nil
}

// Abandon discards pending mutations and ends the session regardless of
// the auto-commit policy.
func (s *Session) Abandon() {
	if !s.isOpen() {
		return
	}
	s.discard()
	s.state = sessionAbandoned
	s.graph.releaseSession(s)
}

// discard evicts every touched object from the live cache so that the
// next access rematerializes it from the last committed state.
func (s *Session) discard() {
	keys := make([]model.Key, 0, len(s.dirty))
	for k := range s.dirty {
		keys = append(keys, k)
	}
	s.graph.evict(keys...)
	s.dirty = make(map[model.Key]*dirtyEntry)
}
