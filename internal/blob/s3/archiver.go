package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold switches uploads to the transfer manager.
	multipartThreshold = 16 << 20
)

// TransactionSource lists records older than a cutoff.
type TransactionSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TransactionRecord, error)
}

// Archiver implements domain.Archiver. Records are grouped by the month they
// were created in and written as one JSONL object per month and cutoff.
// Records are not deleted from the primary store.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	txs    TransactionSource
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver. reader and audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	txs TransactionSource,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		txs:    txs,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTransactions uploads every record created before the cutoff and
// returns how many were written. Objects already present for the same cutoff
// are skipped, so a rerun does not rewrite them.
func (a *Archiver) ArchiveTransactions(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.txs.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transactions query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]domain.TransactionRecord)
	for _, r := range recs {
		m := r.CreatedAt.UTC().Format("2006-01")
		byMonth[m] = append(byMonth[m], r)
	}
	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	var total int64
	for _, m := range months {
		path := archivePath(m, before)
		if a.reader != nil {
			exists, err := a.reader.Exists(ctx, path)
			if err != nil {
				return total, fmt.Errorf("s3blob: archive transactions check %s: %w", path, err)
			}
			if exists {
				a.logger.InfoContext(ctx, "archive object exists, skipping", slog.String("path", path))
				continue
			}
		}

		buf, err := marshalJSONL(byMonth[m])
		if err != nil {
			return total, fmt.Errorf("s3blob: archive transactions marshal: %w", err)
		}
		if len(buf) > multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
		}
		if err != nil {
			return total, fmt.Errorf("s3blob: archive transactions upload: %w", err)
		}

		count := int64(len(byMonth[m]))
		total += count
		a.logAudit(ctx, path, count, before)
	}

	a.logger.InfoContext(ctx, "transactions archived",
		slog.Int64("count", total),
		slog.Time("before", before),
	)
	return total, nil
}

func (a *Archiver) logAudit(ctx context.Context, path string, count int64, before time.Time) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Log(ctx, "archive.transactions", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	}); err != nil {
		a.logger.WarnContext(ctx, "archive audit log failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// archivePath is archive/transactions/<month>/before-<cutoff>.jsonl.
func archivePath(month string, before time.Time) string {
	return fmt.Sprintf("archive/transactions/%s/before-%s.jsonl", month, before.UTC().Format("20060102T150405Z"))
}

// marshalJSONL encodes one compact JSON document per line.
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

var _ domain.Archiver = (*Archiver)(nil)
