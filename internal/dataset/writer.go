package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"WorkItemsETL/internal/domain"
	"WorkItemsETL/internal/ports"
)

const (
	manifestFile  = "manifest.json"
	recordsFile   = "records.jsonl"
	schemaVersion = 1
)

// Writer publishes one complete dataset directory per run. The dataset is
// assembled in a sibling staging directory and swapped into place with
// renames, so readers never observe a partial rebuild and a failed run
// leaves the previously published dataset untouched.
type Writer struct {
	collection string
	project    string
	logger     *slog.Logger

	// stagePath is overridable in tests to force staging failures.
	stagePath func(dest string) string
}

var _ ports.DatasetWriter = (*Writer)(nil)

// NewWriter labels datasets with the collection and project they were built
// from.
func NewWriter(collection, project string, logger *slog.Logger) *Writer {
	return &Writer{
		collection: collection,
		project:    project,
		logger:     logger,
		stagePath: func(dest string) string {
			return fmt.Sprintf("%s.staging-%s", dest, uuid.NewString())
		},
	}
}

// Write stages the full record set and atomically replaces whatever dataset
// currently lives at dest. Records are sorted by id before serialization so
// repeated runs over an unchanged source produce identical bytes.
func (w *Writer) Write(ctx context.Context, records []domain.NormalizedRecord, dest string) (domain.Dataset, error) {
	if dest == "" {
		return domain.Dataset{}, fmt.Errorf("dataset destination path is empty")
	}

	ordered := append([]domain.NormalizedRecord{}, records...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	staging := w.stagePath(dest)
	published := false
	defer func() {
		if !published {
			_ = os.RemoveAll(staging)
		}
	}()

	if err := os.MkdirAll(staging, 0o755); err != nil {
		return domain.Dataset{}, fmt.Errorf("create staging directory: %w", err)
	}

	if err := writeRecords(ctx, filepath.Join(staging, recordsFile), ordered); err != nil {
		return domain.Dataset{}, err
	}

	ds := domain.Dataset{
		Path:          dest,
		Collection:    w.collection,
		Project:       w.project,
		SchemaVersion: schemaVersion,
		RecordCount:   len(ordered),
		RecordsFile:   recordsFile,
	}
	if err := writeManifest(filepath.Join(staging, manifestFile), ds); err != nil {
		return domain.Dataset{}, err
	}

	if err := w.swap(staging, dest); err != nil {
		return domain.Dataset{}, err
	}
	published = true

	if w.logger != nil {
		w.logger.Info("dataset published", "path", dest, "records", len(ordered))
	}
	return ds, nil
}

func writeRecords(ctx context.Context, path string, records []domain.NormalizedRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create records file: %w", err)
	}

	buf := bufio.NewWriter(file)
	enc := json.NewEncoder(buf)

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			file.Close()
			return err
		}
		if err := enc.Encode(record); err != nil {
			file.Close()
			return fmt.Errorf("encode record %d: %w", record.ID, err)
		}
	}

	if err := buf.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("flush records file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close records file: %w", err)
	}
	return nil
}

func writeManifest(path string, ds domain.Dataset) error {
	raw, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// swap replaces dest with staging. The old dataset is moved aside first and
// restored if the final rename fails.
func (w *Writer) swap(staging, dest string) error {
	old := ""
	if _, err := os.Stat(dest); err == nil {
		old = fmt.Sprintf("%s.old-%s", dest, uuid.NewString())
		if err := os.Rename(dest, old); err != nil {
			return fmt.Errorf("move previous dataset aside: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat destination: %w", err)
	}

	if err := os.Rename(staging, dest); err != nil {
		if old != "" {
			if restoreErr := os.Rename(old, dest); restoreErr != nil {
				return fmt.Errorf("publish dataset: %w (restore previous failed: %v)", err, restoreErr)
			}
		}
		return fmt.Errorf("publish dataset: %w", err)
	}

	if old != "" {
		if err := os.RemoveAll(old); err != nil && w.logger != nil {
			w.logger.Warn("cannot remove previous dataset", "path", old, "error", err)
		}
	}
	return nil
}
