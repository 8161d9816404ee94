package domain

import (
	"context"
	"io"
	"time"
)

// PutOptions carries optional upload parameters for a blob write.
type PutOptions struct {
	// ContentType labels the object; empty falls back to the provider
	// default.
	ContentType string

	// PartSize switches the upload to multipart with parts of this many
	// bytes. Zero uploads the object in one request.
	PartSize int64
}

// BlobWriter uploads archive objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error
}

// Archiver exports old ledger data to cold storage.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error)
}
