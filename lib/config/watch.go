// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// debounce collapses the burst of events an editor produces on save.
const debounce = 100 * time.Millisecond

// Watch calls fn with the reloaded configuration every time the file at
// path is written, until ctx is done. The directory is watched so that
// editors replacing the file are seen. A file that fails to load is logged
// and skipped.
func Watch(ctx context.Context, path string, log *zap.Logger, fn func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "config watcher")
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return errors.Wrapf(err, "watching %s", filepath.Dir(abs))
	}
	log.Info("watching config", zap.String("path", abs))

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", zap.Error(err))
		case <-timer.C:
			cfg, err := Load(abs)
			if err != nil {
				log.Warn("ignoring config change", zap.Error(err))
				continue
			}
			log.Info("config reloaded", zap.String("path", abs))
			fn(cfg)
		}
	}
}
