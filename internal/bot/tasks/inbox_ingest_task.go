package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// newInboxIngestTask ingests every *.txt export found in the inbox directory
// and moves it to the processed or failed directory afterwards.
func newInboxIngestTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "inbox_ingest")
	cfg := deps.Config.Ingest

	return func(ctx context.Context) error {
		if cfg.InboxDir == "" {
			log.WarnContext(ctx, "Inbox directory not configured, nothing to do")
			return nil
		}

		files, err := listExports(cfg.InboxDir)
		if err != nil {
			return fmt.Errorf("failed to list inbox %s: %w", cfg.InboxDir, err)
		}
		if len(files) == 0 {
			log.DebugContext(ctx, "Inbox is empty", "inbox_dir", cfg.InboxDir)
			return nil
		}

		var failed []error
		for _, path := range files {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			target := cfg.ProcessedDir
			if ingestErr := ingestFile(ctx, deps.Ingester, path); ingestErr != nil {
				log.ErrorContext(ctx, "Failed to ingest inbox file", "file", path, "error", ingestErr)
				failed = append(failed, fmt.Errorf("%s: %w", filepath.Base(path), ingestErr))
				target = cfg.FailedDir
			}

			moved, moveErr := moveFile(path, target)
			if moveErr != nil {
				// Leaving the file in place means it is retried on the next run.
				log.ErrorContext(ctx, "Failed to move inbox file", "file", path, "target_dir", target, "error", moveErr)
				failed = append(failed, moveErr)
				continue
			}
			log.InfoContext(ctx, "Inbox file handled", "file", path, "moved_to", moved)
		}

		if len(failed) > 0 {
			return fmt.Errorf("%d of %d inbox files failed: %w", len(failed), len(files), errors.Join(failed...))
		}
		return nil
	}
}

func ingestFile(ctx context.Context, ingester Ingester, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = ingester.IngestReader(ctx, f, path, nil)
	return err
}

// listExports returns the regular *.txt files of dir in name order.
func listExports(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.EqualFold(filepath.Ext(entry.Name()), ".txt") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// moveFile moves path into dir, prefixing the name with a timestamp when a file
// of the same name is already there.
func moveFile(path, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	target := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(target); err == nil {
		target = filepath.Join(dir, time.Now().UTC().Format("20060102T150405.000000000")+"_"+filepath.Base(path))
	}

	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("failed to move %s: %w", path, err)
	}
	return target, nil
}
