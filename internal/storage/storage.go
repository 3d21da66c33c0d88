// Package storage archives evidence blobs (raw processor reports behind an
// integrity incident) to the local disk or S3.
package storage

import (
	"context"
	"io"
)

type PutInput struct {
	Key         string // relative object key, e.g. "incidents/<id>.json"
	ContentType string
	Size        int64
}

type PutResult struct {
	Key string
	URL string
}

type Storage interface {
	Put(ctx context.Context, r io.Reader, in PutInput) (PutResult, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}
