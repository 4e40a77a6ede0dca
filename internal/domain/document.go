package domain

import (
	"context"
	"encoding/json"
)

// Document is a whole JSON value stored under a key.
type Document struct {
	Key     string
	Body    json.RawMessage
	Version string
}

// Decode unmarshals the document body into v.
func (d *Document) Decode(v any) error {
	return json.Unmarshal(d.Body, v)
}

// DocumentStore reads and writes whole JSON documents with optimistic
// concurrency. Get returns an error matching ErrNotFound when the key is
// absent. Put with a non-empty expectedVersion fails with ErrConflict when the
// stored version differs; an empty expectedVersion overwrites whatever is
// current. Put returns the new version token.
type DocumentStore interface {
	Get(ctx context.Context, key string) (*Document, error)
	Put(ctx context.Context, key string, body any, expectedVersion string) (string, error)
}

type commitMessageKey struct{}

// WithCommitMessage attaches a human-readable change description that stores
// with a change log (the content API) record alongside the write.
func WithCommitMessage(ctx context.Context, msg string) context.Context {
	return context.WithValue(ctx, commitMessageKey{}, msg)
}

// CommitMessage returns the message set by WithCommitMessage, or fallback.
func CommitMessage(ctx context.Context, fallback string) string {
	if msg, ok := ctx.Value(commitMessageKey{}).(string); ok && msg != "" {
		return msg
	}
	return fallback
}
