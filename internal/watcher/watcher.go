// Package watcher triggers a maintenance cycle whenever a new commit lands
// in the watched repository.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/blackwell-systems/ciwarden/internal/gitrepo"
)

// DefaultDebounce is how long the watcher waits for git to finish writing
// before reading HEAD.
const DefaultDebounce = 2 * time.Second

// DefaultPollInterval re-reads HEAD even without file events, covering
// filesystems where notifications are unreliable.
const DefaultPollInterval = time.Minute

// Event describes a HEAD change.
type Event struct {
	Previous string
	Head     string
	Time     time.Time
}

// Handler is called for each new HEAD. It runs on the watch loop, so events
// arriving meanwhile are coalesced into the next check.
type Handler func(ctx context.Context, ev Event)

// Watcher monitors a repository's HEAD and calls its handler on change.
type Watcher struct {
	dir      string
	debounce time.Duration
	interval time.Duration
	handler  Handler
	log      *zap.Logger
	previous string
}

// New creates a Watcher for the repository containing dir. A non-positive
// debounce uses DefaultDebounce.
func New(dir string, debounce time.Duration, handler Handler, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		interval: DefaultPollInterval,
		handler:  handler,
		log:      logger.Named("watcher"),
	}
}

// SetPollInterval overrides DefaultPollInterval.
func (w *Watcher) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.interval = d
	}
}

// Run records the current HEAD, then watches the git directory until ctx is
// cancelled. It returns ctx.Err() on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	repo, err := gitrepo.Open(w.dir)
	if err != nil {
		return err
	}
	gitDir, err := repo.GitDir()
	if err != nil {
		return err
	}
	w.previous = repo.HeadHash()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	// HEAD is rewritten on checkout, the branch ref on every commit.
	for _, p := range []string{gitDir, filepath.Join(gitDir, "logs"), filepath.Join(gitDir, "refs", "heads")} {
		if err := fw.Add(p); err != nil {
			w.log.Debug("not watching", zap.String("path", p), zap.Error(err))
		}
	}
	w.log.Info("watching", zap.String("git_dir", gitDir), zap.String("head", w.previous))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Stopped until the first event arms it.
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if relevant(ev) {
				debounce.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("file watcher error", zap.Error(err))
		case <-debounce.C:
			w.Check(ctx)
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check re-reads HEAD and calls the handler if it moved. It reports whether
// the handler ran.
func (w *Watcher) Check(ctx context.Context) bool {
	commit, _ := gitrepo.Describe(w.dir)
	if commit == "" || commit == w.previous {
		return false
	}
	ev := Event{Previous: w.previous, Head: commit, Time: time.Now()}
	w.previous = commit
	w.log.Info("new commit", zap.String("head", commit), zap.String("previous", ev.Previous))
	if w.handler != nil {
		w.handler(ctx, ev)
	}
	return true
}

// relevant filters out lock files and index churn.
func relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(ev.Name)
	return !strings.HasSuffix(name, ".lock") && name != "index" && name != "FETCH_HEAD"
}
