package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/onlitec/remotebroker/internal/logger"
)

// Watcher reloads the transfer policy section of a config file on
// change and republishes it through a TransferSnapshot. Only the
// Transfer section is live-reloaded; every other section requires a
// process restart.
type Watcher struct {
	configPath string
	snapshot   *TransferSnapshot
	watcher    *fsnotify.Watcher
	stopCh     chan struct{}
}

// NewWatcher starts watching configPath's directory (matching the
// teacher's convention of watching the containing directory so
// editor atomic-rename saves are still observed).
func NewWatcher(configPath string, snapshot *TransferSnapshot) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(configPath)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		configPath: configPath,
		snapshot:   snapshot,
		watcher:    fw,
		stopCh:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", logger.Err(err))
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.configPath)
	if err != nil {
		logger.Warn("config reload failed, keeping previous snapshot", logger.Err(err))
		return
	}
	if err := w.snapshot.Update(cfg.Transfer); err != nil {
		logger.Warn("config reload produced invalid transfer policy, keeping previous snapshot", logger.Err(err))
		return
	}
	logger.Info("transfer policy reloaded", "max_concurrent", cfg.Transfer.MaxConcurrent, "max_file_size", cfg.Transfer.MaxFileSize)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stopCh)
	return w.watcher.Close()
}
