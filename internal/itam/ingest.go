package itam

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// Batch is one discovery drop: a set of records from a single source for a
// single tenant. Connectors out of process serialise these as JSON files.
type Batch struct {
	CustomerID int64         `json:"customer_id"`
	SourceName string        `json:"source_name"`
	Records    []BatchRecord `json:"records"`
}

// BatchRecord wraps one record with its source bookkeeping.
type BatchRecord struct {
	SourceKey    string           `json:"source_key,omitempty"`
	Confidence   int              `json:"confidence,omitempty"`
	DiscoveredAt time.Time        `json:"discovered_at,omitempty"`
	Record       *DiscoveryRecord `json:"record"`
}

// IngestSummary reports one sweep's outcome.
type IngestSummary struct {
	RecordsSeen    int      `json:"records_seen"`
	AssetsCreated  int      `json:"assets_created"`
	AssetsUpdated  int      `json:"assets_updated"`
	RecordsSkipped int      `json:"records_skipped"`
	Errors         []string `json:"errors,omitempty"`
}

func (s *IngestSummary) add(other *IngestSummary) {
	s.RecordsSeen += other.RecordsSeen
	s.AssetsCreated += other.AssetsCreated
	s.AssetsUpdated += other.AssetsUpdated
	s.RecordsSkipped += other.RecordsSkipped
	s.Errors = append(s.Errors, other.Errors...)
}

// IngestBatch reconciles every record in the batch. Per-record failures are
// collected, not fatal; one bad record must not sink the rest of the drop.
func (r *Resolver) IngestBatch(ctx context.Context, batch *Batch) *IngestSummary {
	summary := &IngestSummary{}
	if batch == nil {
		return summary
	}
	if batch.CustomerID == 0 {
		summary.RecordsSkipped = len(batch.Records)
		summary.RecordsSeen = len(batch.Records)
		return summary
	}

	for i, item := range batch.Records {
		summary.RecordsSeen++
		if item.Record == nil {
			summary.RecordsSkipped++
			continue
		}
		sourceKey := NormStr(item.SourceKey)
		if sourceKey == "" {
			sourceKey = fmt.Sprintf("%s:%d", batch.SourceName, i+1)
		}

		_, created, err := r.UpsertAsset(ctx, batch.CustomerID, batch.SourceName, sourceKey,
			item.Record, item.DiscoveredAt, item.Confidence)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s/%s: %v", batch.SourceName, sourceKey, err))
			continue
		}
		if created {
			summary.AssetsCreated++
		} else {
			summary.AssetsUpdated++
		}
	}
	return summary
}

// SweepInbox ingests every *.json batch file in dir. Processed files are
// renamed to .done (or .failed when the payload does not parse) so a crashed
// sweep never re-ingests half a directory, only whole files.
func (r *Resolver) SweepInbox(ctx context.Context, dir string) (*IngestSummary, error) {
	total := &IngestSummary{}
	if dir == "" {
		return total, nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create inbox directory: %w", err)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Inbox file unreadable")
			continue
		}

		batch := &Batch{}
		if err := json.Unmarshal(data, batch); err != nil {
			log.Error().Err(err).Str("file", path).Msg("Inbox file is not a valid batch")
			if renameErr := os.Rename(path, path+".failed"); renameErr != nil {
				log.Error().Err(renameErr).Str("file", path).Msg("Could not park failed batch")
			}
			continue
		}

		startedAt := time.Now().UTC()
		runUID := ulid.Make().String()
		runID, err := r.store.StartRun(ctx, runUID, batch.CustomerID, batch.SourceName, startedAt)
		if err != nil {
			return total, err
		}

		summary := r.IngestBatch(ctx, batch)
		total.add(summary)

		status := "completed"
		if len(summary.Errors) > 0 {
			status = "completed_with_errors"
		}
		if err := r.store.FinishRun(ctx, runID, status, "", summary, time.Now().UTC()); err != nil {
			return total, err
		}

		if err := os.Rename(path, path+".done"); err != nil {
			log.Error().Err(err).Str("file", path).Msg("Could not mark batch done")
		}
		log.Info().
			Str("run", runUID).
			Str("file", filepath.Base(path)).
			Str("source", batch.SourceName).
			Int("seen", summary.RecordsSeen).
			Int("created", summary.AssetsCreated).
			Int("updated", summary.AssetsUpdated).
			Int("errors", len(summary.Errors)).
			Msg("Discovery batch ingested")
	}
	return total, nil
}
