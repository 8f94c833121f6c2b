package operations

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kebairia/b2backup/internal/backup"
)

const RecordFilename = "last_run.json"

// RunRecord summarizes the last finished run.
type RunRecord struct {
	ID          string        `json:"id"`
	Status      backup.Status `json:"status"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	DurationMS  int64         `json:"duration_ms"`
	Totals      backup.Totals `json:"totals"`
	Failures    []FileFailure `json:"failures,omitempty"`
}

func recordFrom(s Snapshot) RunRecord {
	return RunRecord{
		ID:          s.ID,
		Status:      s.Status,
		Error:       s.Err,
		StartedAt:   s.StartedAt,
		CompletedAt: s.FinishedAt,
		DurationMS:  s.Duration().Milliseconds(),
		Totals:      s.Totals,
		Failures:    s.Failures,
	}
}

// Load reads the record stored in dirPath.
func (m *RunRecord) Load(dirPath string) error {
	filePath := filepath.Join(dirPath, RecordFilename)
	jsonFile, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("couldn't open run record %q: %w", filePath, err)
	}
	defer jsonFile.Close()

	if err := json.NewDecoder(jsonFile).Decode(m); err != nil {
		return fmt.Errorf("decode run record JSON: %w", err)
	}
	return nil
}

// Write stores the record in dirPath, replacing any previous one.
func (m *RunRecord) Write(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0o700); err != nil {
		return fmt.Errorf("ensure run record directory %q: %w", dirPath, err)
	}

	jsonFile, err := os.CreateTemp(dirPath, ".last_run-*.json")
	if err != nil {
		return fmt.Errorf("create run record in %q: %w", dirPath, err)
	}
	defer os.Remove(jsonFile.Name())

	encoder := json.NewEncoder(jsonFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(m); err != nil {
		jsonFile.Close()
		return fmt.Errorf("encode run record JSON: %w", err)
	}
	if err := jsonFile.Close(); err != nil {
		return err
	}
	return os.Rename(jsonFile.Name(), filepath.Join(dirPath, RecordFilename))
}

// LoadLastRun returns the record in dirPath. A missing record is reported
// with an error wrapping os.ErrNotExist.
func LoadLastRun(dirPath string) (RunRecord, error) {
	var rec RunRecord
	err := rec.Load(dirPath)
	return rec, err
}
