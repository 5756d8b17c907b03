// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// File is a Source fed by a state file. An external agent (a window
// manager hook, a screen-lock script) writes "foreground", "background" or
// "inactive" to the file; every change is parsed and delivered.
//
// The parent directory is watched rather than the file so editors and
// atomic renames are picked up.
type File struct {
	path string
	log  *zap.Logger
}

// NewFile creates a state-file source for path.
func NewFile(path string, log *zap.Logger) *File {
	if log == nil {
		log = zap.NewNop()
	}
	return &File{path: filepath.Clean(path), log: log.Named("lifecycle.file")}
}

// Path returns the watched file.
func (f *File) Path() string { return f.path }

// Subscribe implements Source.
func (f *File) Subscribe(fn func(Signal)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				f.log.Error("lifecycle watcher panicked", zap.Any("panic", r))
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
				if filepath.Clean(event.Name) != f.path {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					f.handleChange(fn)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.log.Warn("lifecycle watcher error", zap.Error(err))
			}
		}
	}()

	return func() {
		cancel()
		watcher.Close()
		<-done
	}, nil
}

func (f *File) handleChange(fn func(Signal)) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.log.Warn("read lifecycle file", zap.Error(err))
		}
		return
	}
	if len(data) == 0 {
		// Truncate half of a write; the content follows in a later event.
		return
	}
	sig, err := ParseSignal(string(data))
	if err != nil {
		f.log.Warn("ignoring lifecycle file content", zap.Error(err))
		return
	}
	fn(sig)
}

// WriteState writes sig to path in the format File reads.
func WriteState(path string, sig Signal) error {
	return os.WriteFile(path, []byte(sig.String()+"\n"), 0o600)
}
