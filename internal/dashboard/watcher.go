package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stakewatch/stakewatch/internal/logging"
	"github.com/stakewatch/stakewatch/internal/util"
)

// WatchKeystore watches the keystore directory; when account files are
// created, removed, or renamed it re-resolves the tracked account and
// requests a refresh. Events are
// debounced: keystore writes arrive as bursts (tmp file, rename,
// chmod) that should collapse into one refresh.
func (d *Dashboard) WatchKeystore(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create keystore watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch keystore directory %s: %w", dir, err)
	}

	util.SafeGoWithName("keystore-watcher", func() {
		defer watcher.Close()

		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !accountChange(event) {
					continue
				}
				logging.Debug("keystore change detected", "file", event.Name, "op", event.Op.String())
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, d.reloadAccount)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("keystore watcher error", logging.Err(err))
			}
		}
	})
	return nil
}

// accountChange reports whether a filesystem event affects an account
// file. Keystore files start with "UTC--"; editor swap files and lock
// files are ignored.
func accountChange(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	base := event.Name
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	return strings.HasPrefix(base, "UTC--")
}
