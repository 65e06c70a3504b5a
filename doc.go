/*
Package keel provides a serverless structured object store layered on a
version control repository.

Applications register object classes on a graph, mutate typed objects
inside sessions, and commit each session as a single repository commit.
Namespaces replicate through registered remotes: synchronization merges
at object granularity and flags concurrent edits of the same object as
conflicts instead of guessing a winner.
*/
package keel
