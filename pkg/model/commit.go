package model

import "time"

// CommitRecord describes one backing-store commit produced by a session
// flush or a merge: its hash, the message attached verbatim, and the exact
// set of object diffs it contains.
type CommitRecord struct {
	Hash      string    `json:"hash" yaml:"hash"`
	Message   string    `json:"message" yaml:"message"`
	Timestamp time.Time `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Written   []Key     `json:"written,omitempty" yaml:"written,omitempty"`
	Removed   []Key     `json:"removed,omitempty" yaml:"removed,omitempty"`
	_         struct{}
}
