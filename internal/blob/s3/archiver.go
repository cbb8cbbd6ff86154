package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"

	defaultBatchSize = 500

	// Batches larger than this go through the multipart uploader.
	multipartThreshold = 8 * 1024 * 1024
)

// existenceChecker is the part of domain.BlobReader the archiver needs.
type existenceChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies settled ledgers older than a cutoff to object storage as
// JSONL, then flags them archived in the database. Rows are never deleted
// here.
type Archiver struct {
	writer    domain.BlobWriter
	reader    existenceChecker
	ledger    domain.SettlementStore
	audit     domain.AuditStore
	batchSize int
}

// NewArchiver wires an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader existenceChecker, ledger domain.SettlementStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer:    writer,
		reader:    reader,
		ledger:    ledger,
		audit:     audit,
		batchSize: defaultBatchSize,
	}
}

// WithBatchSize overrides how many settlements go into one file.
func (a *Archiver) WithBatchSize(n int) *Archiver {
	if n > 0 {
		a.batchSize = n
	}
	return a
}

// ArchiveSettlements uploads every unarchived settlement older than before
// and returns how many were archived. A batch whose file already exists is
// only marked, so a run that died between upload and mark can be repeated.
func (a *Archiver) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		batch, err := a.ledger.ListSettlementsBefore(ctx, before, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive settlements query: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		path := archivePath(batch)
		if err := a.upload(ctx, path, batch); err != nil {
			return total, err
		}

		ids := make([]string, len(batch))
		for i, s := range batch {
			ids[i] = s.MarketID
		}
		if err := a.ledger.MarkSettlementsArchived(ctx, ids); err != nil {
			return total, fmt.Errorf("s3blob: mark %d settlements archived: %w", len(ids), err)
		}
		total += int64(len(batch))

		if a.audit != nil {
			if err := a.audit.Log(ctx, "archive.settlements", map[string]any{
				"path":   path,
				"count":  len(batch),
				"before": before.Format(time.RFC3339),
			}); err != nil {
				return total, fmt.Errorf("s3blob: archive settlements audit log: %w", err)
			}
		}

		if len(batch) < a.batchSize {
			return total, nil
		}
	}
}

func (a *Archiver) upload(ctx context.Context, path string, batch []domain.Settlement) error {
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return fmt.Errorf("s3blob: check %s: %w", path, err)
		}
		if exists {
			return nil
		}
	}

	buf, err := marshalJSONL(batch)
	if err != nil {
		return fmt.Errorf("s3blob: archive settlements marshal: %w", err)
	}
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive settlements upload: %w", err)
	}
	return nil
}

// archivePath names a batch after its first settlement, which is stable
// across retries because batches are read oldest first:
//
//	archive/settlements/2025-03/20250301T201500Z_market_123.jsonl
func archivePath(batch []domain.Settlement) string {
	first := batch[0]
	at := first.SettledAt.UTC()
	return fmt.Sprintf("archive/settlements/%s/%s_%s.jsonl",
		at.Format("2006-01"), at.Format("20060102T150405Z"), first.MarketID)
}

// marshalJSONL encodes one compact JSON value per line.
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
