package access

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// DefaultReloadDebounce is how long the catalog file must stay quiet before
// it is reloaded
const DefaultReloadDebounce = 250 * time.Millisecond

// CatalogWatcher reloads a catalog file into an Evaluator whenever it changes.
// A burst of events, such as an editor writing the file in chunks, causes one
// reload once the file has been quiet for the debounce period. Invalid files
// are logged and the previous catalog stays in effect.
type CatalogWatcher struct {
	path      string
	evaluator *Evaluator
	logger    *observability.Logger
	watcher   *fsnotify.Watcher
	debounce  time.Duration

	// onReload is invoked after every reload attempt; tests hook it
	onReload func(error)
}

// NewCatalogWatcher starts watching the directory that holds path.
// The directory is watched rather than the file so that editors which
// replace the file on save are still observed.
func NewCatalogWatcher(path string, evaluator *Evaluator, logger *observability.Logger) (*CatalogWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	return &CatalogWatcher{
		path:      filepath.Clean(path),
		evaluator: evaluator,
		logger:    logger.WithField("catalog", path),
		watcher:   watcher,
		debounce:  DefaultReloadDebounce,
	}, nil
}

// Run processes file events until ctx is cancelled
func (w *CatalogWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pending:
			pending = nil
			w.reload()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			timer.Reset(w.debounce)
			pending = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Catalog watcher error")
		}
	}
}

func (w *CatalogWatcher) reload() {
	catalog, err := LoadCatalog(w.path)
	if err != nil {
		w.logger.WithError(err).Error("Catalog reload rejected, keeping previous catalog")
	} else {
		w.evaluator.SetCatalog(catalog)
		w.logger.WithFields(map[string]interface{}{
			"pages":    len(catalog.Pages),
			"features": len(catalog.Features),
		}).Info("Catalog reloaded")
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}
