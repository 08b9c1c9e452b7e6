package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WaitForArtifact blocks until the worker's artifact for taskID passes
// verification, the timeout elapses, or the context is cancelled. It
// re-verifies on every filesystem event under the artifact root, so a
// worker still writing sections is picked up once the file settles.
func (v *Verifier) WaitForArtifact(ctx context.Context, taskID, worker string, timeout time.Duration) (Result, error) {
	// The artifact may already be there.
	if result := v.Verify(taskID, worker); result.Passed {
		return result, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return Result{Worker: worker}, fmt.Errorf("create artifact watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(v.root, 0755); err != nil {
		return Result{Worker: worker}, fmt.Errorf("create artifact root: %w", err)
	}
	if err := watchTree(watcher, v.root); err != nil {
		return Result{Worker: worker}, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return v.Verify(taskID, worker), ctx.Err()
		case <-deadline.C:
			result := v.Verify(taskID, worker)
			if result.Passed {
				return result, nil
			}
			return result, fmt.Errorf("timed out after %s waiting for %s artifact: %w", timeout, worker, ErrPhaseNotVerified)
		case event, ok := <-watcher.Events:
			if !ok {
				return v.Verify(taskID, worker), fmt.Errorf("artifact watcher closed")
			}
			// Workers may drop artifacts into fresh subdirectories.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
					continue
				}
			}
			if result := v.Verify(taskID, worker); result.Passed {
				return result, nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return v.Verify(taskID, worker), fmt.Errorf("artifact watcher closed")
			}
			v.logger.Warn("Artifact watcher error", "error", err)
		}
	}
}

// watchTree registers the root and every existing subdirectory.
func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
