// Package conversation persists per-user conversation documents with
// optimistic concurrency control across file, Redis and MySQL backends.
package conversation
