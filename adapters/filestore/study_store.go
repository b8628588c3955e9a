// Package filestore keeps study records as JSON files in a directory.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"alphabias/domain/core"
	"alphabias/domain/run"
	"alphabias/internal/errors"
	"alphabias/ports"
)

// StudyStore handles persistence of study records
type StudyStore struct {
	BaseDir string
}

var _ ports.StudyRepository = (*StudyStore)(nil)

// NewStudyStore creates a new study store instance
func NewStudyStore(baseDir string) *StudyStore {
	return &StudyStore{BaseDir: baseDir}
}

// EnsureBaseDir creates the base directory if it doesn't exist
func (s *StudyStore) EnsureBaseDir() error {
	return os.MkdirAll(s.BaseDir, 0755)
}

// Save writes the record to <created>_<channel>_<id>.json, replacing an earlier
// version of the same study.
func (s *StudyStore) Save(ctx context.Context, rec *run.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil || core.ID(rec.ID()).IsEmpty() {
		return core.NewValidationError("record", "study id cannot be empty")
	}
	if err := s.EnsureBaseDir(); err != nil {
		return errors.StorageError("failed to create base directory", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal study: %w", err)
	}

	path := s.pathFor(rec)
	if old, err := s.find(rec.ID()); err == nil && old != path {
		_ = os.Remove(old)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.StorageError("failed to write study file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.StorageError("failed to write study file", err)
	}
	return nil
}

// Get retrieves a study by its ID
func (s *StudyStore) Get(ctx context.Context, id core.StudyID) (*run.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.find(id)
	if err != nil {
		return nil, err
	}
	return s.load(path)
}

// List returns the stored studies matching filters, newest first.
func (s *StudyStore) List(ctx context.Context, filters ports.StudyFilters) ([]ports.StudySummary, error) {
	files, err := s.listStudyFiles()
	if err != nil {
		return nil, err
	}

	var out []ports.StudySummary
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := s.load(file)
		if err != nil {
			continue // Skip corrupted files
		}
		if filters.Channel != "" && rec.Manifest.Channel != filters.Channel {
			continue
		}
		if filters.Status != "" && rec.Status != filters.Status {
			continue
		}
		out = append(out, ports.Summarize(rec))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[j].CreatedAt.Before(out[i].CreatedAt)
	})
	if filters.Offset > 0 {
		if filters.Offset >= len(out) {
			return []ports.StudySummary{}, nil
		}
		out = out[filters.Offset:]
	}
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

func (s *StudyStore) pathFor(rec *run.Record) string {
	created := rec.Manifest.CreatedAt.Time().UTC().Format("2006-01-02_15-04-05")
	return filepath.Join(s.BaseDir, fmt.Sprintf("%s_%s_%s.json", created, rec.Manifest.Channel, rec.ID()))
}

func (s *StudyStore) find(id core.StudyID) (string, error) {
	files, err := s.listStudyFiles()
	if err != nil {
		return "", err
	}
	suffix := "_" + id.String() + ".json"
	for _, f := range files {
		if strings.HasSuffix(f, suffix) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %s", core.ErrStudyNotFound, id)
}

func (s *StudyStore) load(path string) (*run.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec run.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}

// listStudyFiles returns all study JSON files in the base directory
func (s *StudyStore) listStudyFiles() ([]string, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StorageError("failed to read study directory", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(s.BaseDir, e.Name()))
	}
	return files, nil
}
