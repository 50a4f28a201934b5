// Package store defines the contract between the HTTP handlers and the
// storage backend, together with the records that flow through it.
package store

import (
	"context"
	"io"
)

// Store persists uploaded files and serves them back by key.
type Store interface {
	// Put writes the file bytes and its metadata record and returns the
	// newly assigned key.
	Put(ctx context.Context, f FileInput) (string, error)
	// Get opens the stored content for key. The returned reader yields the
	// chunks in the order the backend emits them and can be read only once.
	// Callers must close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Info returns the metadata record for key, or nil when none exists.
	Info(ctx context.Context, key string) (*FileMetadata, error)
}

// FileMetadata is the persisted description of a stored file.
type FileMetadata struct {
	Name     string `json:"name" bson:"name"`
	MIME     string `json:"mime" bson:"mime"`
	Owner    string `json:"owner" bson:"owner"`
	Key      string `json:"key" bson:"key"`
	CreateAt string `json:"create_at" bson:"create_at"`
}

// FileInput is an upload decoded from a request.
type FileInput struct {
	Name  string
	Owner string
	Bytes []byte
}

// FileOutput combines a metadata record with the file content.
type FileOutput struct {
	FileMetadata
	Bytes []byte `json:"bytes"`
}
