package rbac

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/bastion/pkg/observability"
)

// DefaultSeedDebounce is how long WatchSeedFile waits after the last change
// before re-syncing
const DefaultSeedDebounce = 500 * time.Millisecond

// WatchSeedFile syncs the roles in path now and again whenever the file
// changes, until ctx is done. The parent directory is watched so that
// editors which replace the file on save are picked up. A file that fails
// to parse is logged and skipped; the previous definitions stay in place.
//
// onSync, when set, is called after every sync attempt.
func (s *Service) WatchSeedFile(ctx context.Context, path string, debounce time.Duration, onSync func(SyncResult, error)) error {
	if debounce <= 0 {
		debounce = DefaultSeedDebounce
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve seed file path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	logger := s.logger.WithField("seed_file", abs)
	resync := func() {
		defer observability.RecoverPanic(logger, "seed sync")

		result, err := s.syncSeedFile(ctx, abs)
		if err != nil {
			logger.WithError(err).Warn("Seed file sync failed")
		}
		if onSync != nil {
			onSync(result, err)
		}
	}

	resync()

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.WithField("op", event.Op.String()).Debug("Seed file changed")
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Seed watcher error")

		case <-timer.C:
			resync()
		}
	}
}

func (s *Service) syncSeedFile(ctx context.Context, path string) (SyncResult, error) {
	roles, err := LoadSeedFile(path)
	if err != nil {
		return SyncResult{}, err
	}
	return s.SyncRoles(ctx, roles)
}
