package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ajranjith/source-shield/internal/config"
	"github.com/ajranjith/source-shield/internal/lexical"
	"github.com/ajranjith/source-shield/internal/pipeline"
)

// watchProject re-runs the pipeline after changes to the manifest or a source
// root settle for the configured debounce. Runs happen on this goroutine, one
// at a time.
func (c *cli) watchProject(ctx context.Context, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "watch init failed")
	}
	defer watcher.Close()

	w := &projectWatch{root: root, cfg: &c.cfg, watcher: watcher, log: c.log}
	if err := w.addAll(); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Watching %s (Ctrl+C to stop)\n", root)

	return w.loop(ctx, c.cfg.Watch.Debounce, func() {
		rep, err := pipeline.Run(ctx, c.pipelineOptions(root, "watch"))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.printError(err)
			return
		}
		pipeline.WriteSummary(c.stdout, rep)
	})
}

type projectWatch struct {
	root    string
	cfg     *config.Config
	watcher *fsnotify.Watcher
	log     *zap.Logger
}

// addAll watches the manifest directory and every existing source root.
func (w *projectWatch) addAll() error {
	if err := w.watcher.Add(filepath.Dir(w.cfg.ManifestPath(w.root))); err != nil {
		return errors.Wrap(err, "watch manifest")
	}
	for _, src := range w.cfg.SourceRootPaths(w.root) {
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := w.addRecursive(src); err != nil {
			return errors.Wrapf(err, "watch %s", src)
		}
	}
	return nil
}

func (w *projectWatch) addRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if path != dir && w.skipDir(info.Name()) {
				return filepath.SkipDir
			}
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *projectWatch) skipDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, s := range w.cfg.Scan.SkipDirs {
		if name == s {
			return true
		}
	}
	return false
}

// relevant reports whether an event can change the pipeline's outcome.
func (w *projectWatch) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	if filepath.Clean(ev.Name) == filepath.Clean(w.cfg.ManifestPath(w.root)) {
		return true
	}
	stateDir := w.cfg.StateDirPath(w.root) + string(filepath.Separator)
	if strings.HasPrefix(ev.Name, stateDir) {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	dialects, err := lexical.LookupAll(w.cfg.Scan.Dialects)
	if err != nil {
		return false
	}
	if lexical.ForPath(dialects, ev.Name) != nil {
		return true
	}
	// new directories and removals inside a source root
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

func (w *projectWatch) loop(ctx context.Context, debounce time.Duration, trigger func()) error {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !w.skipDir(info.Name()) {
					if err := w.addRecursive(ev.Name); err != nil {
						w.log.Warn("watch add failed", zap.String("path", ev.Name), zap.Error(err))
					}
				}
			}
			if !w.relevant(ev) {
				continue
			}
			w.log.Debug("change detected", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			fire = timer.C
		case <-fire:
			fire = nil
			trigger()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}
