package core

import (
	"github.com/keeldb/keel/pkg/storage"
	"github.com/keeldb/keel/pkg/vcs"
	"go.uber.org/zap"
)

// NamespaceOption is a functor to build a namespace with some options
type NamespaceOption func(*Namespace)

// GraphOption is a functor to build a graph with some options
type GraphOption func(*Graph)

// Branch defines the repository branch the namespace binds to
func Branch(branch string) NamespaceOption {
	return func(n *Namespace) {
		if branch != "" {
			n.branch = branch
		}
	}
}

// Committer defines the identity recorded on commits
func Committer(name, email string) NamespaceOption {
	return func(n *Namespace) {
		n.committer = vcs.Signature{Name: name, Email: email}
	}
}

// Logger injects a logging facility into namespace operations
func Logger(l *zap.Logger) NamespaceOption {
	return func(n *Namespace) {
		if l != nil {
			n.l = l
		}
	}
}

// Staging overrides the staging store used to make commits atomic.
// Defaults to an in-memory store.
func Staging(store storage.Store) NamespaceOption {
	return func(n *Namespace) {
		n.staging = store
	}
}

// AutoCommitOnClose makes Session.Close commit pending mutations instead
// of discarding them. Discard is the default: uncommitted mutations are
// never durable unless explicitly asked for.
func AutoCommitOnClose(auto bool) NamespaceOption {
	return func(n *Namespace) {
		n.autoCommitOnClose = auto
	}
}

// SyncRetries bounds the fetch attempts per remote before a transient
// failure escalates to a repository error.
func SyncRetries(attempts int) NamespaceOption {
	return func(n *Namespace) {
		n.syncRetries = attempts
	}
}

// CloseOnCommit makes Session.Commit terminal: the session ends with its
// first flush instead of staying open for further cycles.
func CloseOnCommit(enabled bool) NamespaceOption {
	return func(n *Namespace) {
		n.closeOnCommit = enabled
	}
}

// GraphLogger injects a logging facility into registry operations
func GraphLogger(l *zap.Logger) GraphOption {
	return func(g *Graph) {
		if l != nil {
			g.l = l
		}
	}
}
