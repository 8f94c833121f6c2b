package backup

import "fmt"

// Mode selects how configured folders map onto buckets.
type Mode string

const (
	// ModeSingleBucket stores every folder in one bucket, each under a
	// prefix named after the folder.
	ModeSingleBucket Mode = "single-bucket"
	// ModePerFolderBucket stores each folder at the root of its own bucket.
	ModePerFolderBucket Mode = "per-folder-bucket"
)

// ParseMode validates a mode string from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSingleBucket, ModePerFolderBucket:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// BackupTarget is a configured local-folder-to-bucket mapping.
type BackupTarget struct {
	LocalPath string
	Bucket    string
	Mode      Mode
}

// Decision is the outcome of comparing a local file against the
// fingerprint recorded for its remote key.
type Decision string

const (
	DecisionUpload Decision = "upload"
	DecisionSkip   Decision = "skip"
)

// FileTask is created for each file discovered during a run.
type FileTask struct {
	LocalPath string
	RemoteKey string
	LocalHash string
	Size      int64
	Decision  Decision
}

// Status is the state of a backup run. Scanning and Uploading are the two
// phases of a running backup.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusScanning  Status = "scanning"
	StatusUploading Status = "uploading"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Running reports whether the run still holds the backup lock.
func (s Status) Running() bool {
	return s == StatusScanning || s == StatusUploading
}

// Terminal reports whether the run has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Totals are the per-run file counters.
type Totals struct {
	Scanned  int `json:"scanned"`
	Uploaded int `json:"uploaded"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}
