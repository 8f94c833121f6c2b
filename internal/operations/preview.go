package operations

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/kebairia/b2backup/internal/backup"
)

// PlannedFile is what a backup would do with one file.
type PlannedFile struct {
	LocalPath string
	RemoteKey string
	Bucket    string
	Size      int64
	Decision  backup.Decision
	Err       error
}

// Plan is the outcome of a dry run.
type Plan struct {
	Files []PlannedFile

	UploadCount int
	UploadBytes int64
	SkipCount   int
	SkipBytes   int64
	FailedCount int
}

func (p *Plan) add(f PlannedFile) {
	p.Files = append(p.Files, f)
	switch {
	case f.Err != nil:
		p.FailedCount++
	case f.Decision == backup.DecisionSkip:
		p.SkipCount++
		p.SkipBytes += f.Size
	default:
		p.UploadCount++
		p.UploadBytes += f.Size
	}
}

// Summary is a one-line human readable description of the plan.
func (p Plan) Summary() string {
	s := fmt.Sprintf("%d to upload (%s), %d unchanged (%s)",
		p.UploadCount, humanize.Bytes(uint64(p.UploadBytes)),
		p.SkipCount, humanize.Bytes(uint64(p.SkipBytes)))
	if p.FailedCount > 0 {
		s += fmt.Sprintf(", %d unreadable", p.FailedCount)
	}
	return s
}

// Preview computes what a backup would upload without uploading anything.
// It does not take the backup lock. Errors that would fail a run fail the
// preview too.
func (c *Coordinator) Preview(ctx context.Context) (Plan, error) {
	var plan Plan
	targets, err := c.targets.BackupTargets()
	if err != nil {
		return plan, fmt.Errorf("load backup targets: %w", err)
	}
	if err := backup.CheckOverlap(targets); err != nil {
		return plan, err
	}
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return plan, err
		}
		log := c.log.With("folder", target.LocalPath, "bucket", target.Bucket)
		detector, err := c.prepare(ctx, target, log)
		if err != nil {
			return plan, err
		}

		err = target.WalkFiles(func(path string, walkErr error) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f := PlannedFile{LocalPath: path, Bucket: target.Bucket, Err: walkErr}
			if walkErr == nil {
				task := backup.FileTask{LocalPath: path}
				task.RemoteKey, f.Err = target.RemoteKey(path)
				if f.Err == nil {
					f.Err = detector.Decide(&task)
				}
				f.RemoteKey, f.Size, f.Decision = task.RemoteKey, task.Size, task.Decision
			}
			plan.add(f)
			return nil
		})
		if err != nil {
			return plan, err
		}
	}
	return plan, nil
}
