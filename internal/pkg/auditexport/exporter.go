// Package auditexport writes a day of ledger entries as JSON lines to
// object storage.
package auditexport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/brandbridge/brandbridge/app/models"
)

const (
	contentType      = "application/x-ndjson"
	defaultBatchSize = 500
)

// Source pages through ledger entries in id order.
type Source interface {
	ListCreatedBetween(ctx context.Context, from, to time.Time, afterID uint, limit int) ([]models.TokenTransaction, error)
}

// Store receives finished export objects.
type Store interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	ObjectExists(ctx context.Context, key string) (bool, error)
}

type Exporter struct {
	source    Source
	store     Store
	prefix    string
	batchSize int
}

func NewExporter(source Source, store Store, prefix string) *Exporter {
	return &Exporter{source: source, store: store, prefix: prefix, batchSize: defaultBatchSize}
}

// Result describes one uploaded export.
type Result struct {
	Key   string
	Count int
	Bytes int
}

// ObjectKey is <prefix>/YYYY/MM/DD.jsonl for the UTC day of t.
func ObjectKey(prefix string, t time.Time) string {
	return path.Join(prefix, t.UTC().Format("2006/01/02")+".jsonl")
}

// ExportDay uploads every entry created on day (UTC). An existing object
// is only replaced when overwrite is set.
func (e *Exporter) ExportDay(ctx context.Context, day time.Time, overwrite bool) (*Result, error) {
	day = day.UTC()
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	key := ObjectKey(e.prefix, from)

	if !overwrite {
		exists, err := e.store.ObjectExists(ctx, key)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("export %s already exists", key)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	count := 0
	var afterID uint
	for {
		batch, err := e.source.ListCreatedBetween(ctx, from, to, afterID, e.batchSize)
		if err != nil {
			return nil, fmt.Errorf("read ledger after id %d: %w", afterID, err)
		}
		for i := range batch {
			if err := enc.Encode(&batch[i]); err != nil {
				return nil, fmt.Errorf("encode tx %d: %w", batch[i].ID, err)
			}
		}
		count += len(batch)
		if len(batch) < e.batchSize {
			break
		}
		afterID = batch[len(batch)-1].ID
	}

	if err := e.store.PutObject(ctx, key, buf.Bytes(), contentType); err != nil {
		return nil, err
	}
	log.Infof("[Audit] Exported %d ledger entries for %s", count, from.Format("2006-01-02"))
	return &Result{Key: key, Count: count, Bytes: buf.Len()}, nil
}
