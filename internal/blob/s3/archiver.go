package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/theatom/atombot/internal/domain"
)

// contentTypeJSONL labels archive objects as newline-delimited JSON.
const contentTypeJSONL = "application/x-ndjson"

// multipartThreshold is the encoded batch size past which uploads switch
// to multipart. 64 MiB of JSONL is far beyond a normal monthly batch.
const multipartThreshold = 64 * 1024 * 1024

// TradeArchiveStore is the slice of the trade store the archiver reads:
// settled attempts older than a cutoff. The Postgres store satisfies it.
type TradeArchiveStore interface {
	ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.TradeAttempt, error)
}

// AuditArchiveStore is the slice of the audit store the archiver reads.
type AuditArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
}

// ArchiveImpl implements domain.Archiver: it queries old records, encodes
// them as JSONL, and uploads the result. Deleting the archived rows from
// the primary store is deliberately not done here; the sweep that calls
// this deletes only after the upload has succeeded.
type ArchiveImpl struct {
	writer domain.BlobWriter
	trades TradeArchiveStore
	audits AuditArchiveStore
}

// NewArchiver creates an ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, trades TradeArchiveStore, audits AuditArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		trades: trades,
		audits: audits,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveTrades uploads every settled attempt older than the cutoff to
// archive/trades/YYYY-MM.jsonl. It returns the number of records archived.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	attempts, err := a.trades.ListTerminalBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(attempts) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(attempts)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	if err := a.upload(ctx, archivePath("trades", before), buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}
	return int64(len(attempts)), nil
}

// ArchiveAuditLog uploads audit entries older than the cutoff to
// archive/audit/YYYY-MM.jsonl. Rows written after the cutoff, the one
// recording this sweep included, stay in the primary store.
func (a *ArchiveImpl) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audits.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	if err := a.upload(ctx, archivePath("audit", before), buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}
	return int64(len(entries)), nil
}

// upload writes one encoded batch, going multipart once the batch is big
// enough to be worth splitting.
func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	opts := domain.PutOptions{ContentType: contentTypeJSONL}
	if int64(len(buf)) >= multipartThreshold {
		opts.PartSize = multipartThreshold / 8
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), opts)
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff:
//
//	archive/trades/2025-01.jsonl
//	archive/audit/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
