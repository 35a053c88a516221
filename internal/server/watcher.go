package server

import (
	"os"
	"path/filepath"
	"time"

	"oversounds/internal/config"
	"oversounds/internal/store"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// reloadDelay lets editors finish writing before the file is parsed.
const reloadDelay = 250 * time.Millisecond

// startConfigWatcher watches the config file and swaps the storefront when
// its upstream settings change. The directory is watched rather than the
// file so editors that replace the file on save are still seen.
func (ss *StoreServer) startConfigWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	path, err := filepath.Abs(ss.configPath)
	if err != nil {
		watcher.Close()
		return err
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	ss.mu.Lock()
	if ss.stopped {
		ss.mu.Unlock()
		return watcher.Close()
	}
	ss.watcher = watcher
	ss.mu.Unlock()

	go ss.watchConfig(watcher, path)

	ss.logger.WithField("config_path", path).Info("Config watcher started")
	return nil
}

// watchConfig selects on watcher channels and dispatches events.
func (ss *StoreServer) watchConfig(watcher *fsnotify.Watcher, path string) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				time.Sleep(reloadDelay)
				ss.reloadConfig(path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			ss.logger.WithError(err).Error("Config watcher error")
		}
	}
}

// reloadConfig re-reads the file and replaces the storefront. A missing or
// invalid file keeps the current storefront in service.
func (ss *StoreServer) reloadConfig(path string) {
	// Editors may briefly remove the file while saving. LoadConfig would
	// write defaults in its place, so wait for the next event instead.
	if _, err := os.Stat(path); err != nil {
		ss.logger.WithError(err).WithField("config_path", path).Debug("Config file not readable, skipping reload")
		return
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		ss.logger.WithError(err).WithField("config_path", path).Error("Ignoring invalid config change")
		return
	}

	sf := store.FromConfig(cfg, ss.recorder(), ss.logger)
	ss.storefront.Store(sf)

	ss.logger.WithFields(logrus.Fields{
		"upstream":       sf.UpstreamURL(),
		"timeout":        sf.UpstreamTimeout(),
		"failure_policy": sf.Policy(),
	}).Info("Reloaded upstream settings")
}

// stopConfigWatcher closes the watcher and keeps a later Start from opening
// a new one (idempotent).
func (ss *StoreServer) stopConfigWatcher() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.stopped = true
	if ss.watcher != nil {
		ss.watcher.Close()
		ss.watcher = nil
	}
}
