package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// ExecutionArchiveStore is the narrow read surface the archiver needs from
// the execution store.
type ExecutionArchiveStore interface {
	ListRecent(ctx context.Context, chain domain.ChainID, limit int) ([]domain.ExecutionRecord, error)
}

// archiveBatchLimit caps how many records one report covers.
const archiveBatchLimit = 5000

// Archiver serializes recent execution records to JSONL and uploads the
// result. Deleting archived rows from the primary store is a separate,
// explicit step run only after the archive is verified.
type Archiver struct {
	writer     domain.BlobWriter
	executions ExecutionArchiveStore
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, executions ExecutionArchiveStore) *Archiver {
	return &Archiver{writer: writer, executions: executions}
}

// ArchiveExecutions uploads an execution report for one chain, keyed by the
// report date. Returns the number of records archived.
func (a *Archiver) ArchiveExecutions(ctx context.Context, chain domain.ChainID, at time.Time) (int, error) {
	records, err := a.executions.ListRecent(ctx, chain, archiveBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: load executions for archive: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return 0, fmt.Errorf("s3blob: encode execution %s: %w", rec.ID, err)
		}
	}

	key := fmt.Sprintf("executions/%s/%s.jsonl", chain.Name(), at.UTC().Format("2006-01-02"))
	if err := a.writer.Put(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return 0, err
	}
	return len(records), nil
}
