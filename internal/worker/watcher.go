package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// startStoreWatcher watches the database file for writes from external
// processes and schedules a debounced engine reload. The watch is on the
// containing directory because SQLite replaces and rotates files (WAL,
// checkpoints) rather than rewriting one inode.
func (s *Service) startStoreWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(s.config.DBPath)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	base := filepath.Base(s.config.DBPath)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer watcher.Close()

		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()

		for {
			select {
			case <-s.ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasPrefix(filepath.Base(event.Name), base) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(storeWatchDebounce, s.reloadAfterStoreChange)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Store watcher error")
			}
		}
	}()

	log.Info().Str("dir", dir).Msg("Store watcher started")
	return nil
}

// reloadAfterStoreChange is the debounce callback. It fires on its own timer
// goroutine, so it must not touch the store once shutdown has begun.
func (s *Service) reloadAfterStoreChange() {
	if s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, DefaultHTTPTimeout)
	defer cancel()
	if err := s.refreshShared(ctx); err != nil {
		log.Warn().Err(err).Msg("Reload after store change failed")
		return
	}
	log.Debug().Msg("Engine reloaded after store change")
	s.broadcastRanking(time.Now())
}
