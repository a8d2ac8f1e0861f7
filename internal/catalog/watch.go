package catalog

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/soyeahso/conductor/internal/logging"
)

// ReloadFunc is called after every reload attempt. On failure c is nil and
// the previous snapshot stays published.
type ReloadFunc func(c *Catalog, err error)

// Watcher rebuilds the catalog when its files change and publishes the new
// snapshot through a Holder.
type Watcher struct {
	source   *FileSource
	holder   *Holder
	opts     []Option
	log      *logging.Logger
	debounce time.Duration
	onReload ReloadFunc

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Source   *FileSource
	Holder   *Holder
	Options  []Option
	Logger   *logging.Logger
	Debounce time.Duration
	OnReload ReloadFunc
}

// NewWatcher starts watching the source's catalog file and agents directory.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch parent directories so editors that replace files by rename are seen.
	dirs := map[string]bool{}
	if cfg.Source.CatalogPath != "" {
		dirs[filepath.Dir(cfg.Source.CatalogPath)] = true
	}
	if cfg.Source.AgentsDir != "" {
		dirs[cfg.Source.AgentsDir] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	w := &Watcher{
		source:   cfg.Source,
		holder:   cfg.Holder,
		opts:     cfg.Options,
		log:      cfg.Logger,
		debounce: debounce,
		onReload: cfg.OnReload,
		watcher:  fw,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) relevant(name string) bool {
	clean := filepath.Clean(name)
	if w.source.CatalogPath != "" && clean == filepath.Clean(w.source.CatalogPath) {
		return true
	}
	if w.source.AgentsDir != "" && filepath.Dir(clean) == filepath.Clean(w.source.AgentsDir) {
		return strings.HasSuffix(clean, ".md")
	}
	return false
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !w.relevant(event.Name) {
				continue
			}
			w.log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("catalog file changed")
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("catalog watcher error")
		case <-fire:
			fire = nil
			w.Reload(context.Background())
		}
	}
}

// Reload rebuilds the catalog now. A failed rebuild keeps the current snapshot.
func (w *Watcher) Reload(ctx context.Context) (*Catalog, error) {
	defs, err := w.source.Load(ctx)
	var c *Catalog
	if err == nil {
		c, err = Build(defs, w.opts...)
	}
	if err != nil {
		w.log.Error().Err(err).Msg("catalog reload failed, keeping previous snapshot")
		if w.onReload != nil {
			w.onReload(nil, err)
		}
		return nil, err
	}

	w.holder.Swap(c)
	w.log.Info().Int("agents", len(c.agents)).Int("rules", len(c.rules)).Msg("catalog reloaded")
	if w.onReload != nil {
		w.onReload(c, nil)
	}
	return c, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
