// Package hostsync mirrors the regular files of a host directory into the
// kernel's disk, so programs can open files edited on the host.
package hostsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"taskos/kernel/klog"
)

// Store is where imported files land.
type Store interface {
	WriteFile(name string, data []byte) error
	Remove(name string) error
}

// Importer copies files from dir into a Store and follows later changes.
// Only the top level of dir is mirrored; file names are kept as they are.
type Importer struct {
	dir   string
	store Store
	log   *klog.Logger
	w     *fsnotify.Watcher
}

// New starts watching dir. Changes made after New returns are picked up by
// Run.
func New(dir string, store Store, log *klog.Logger) (*Importer, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("hostsync: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("hostsync: %s is not a directory", dir)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("hostsync: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("hostsync: watch %s: %w", dir, err)
	}
	return &Importer{dir: dir, store: store, log: log, w: w}, nil
}

// Sync copies every regular file of dir and returns how many were copied.
func (im *Importer) Sync() (int, error) {
	entries, err := os.ReadDir(im.dir)
	if err != nil {
		return 0, fmt.Errorf("hostsync: %w", err)
	}
	n := 0
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := im.copy(e.Name()); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func (im *Importer) copy(name string) error {
	data, err := os.ReadFile(filepath.Join(im.dir, name))
	if err != nil {
		return fmt.Errorf("hostsync: %w", err)
	}
	if err := im.store.WriteFile(name, data); err != nil {
		return err
	}
	im.log.Debugf("hostsync: imported %s (%d bytes)", name, len(data))
	return nil
}

// Close stops watching without running.
func (im *Importer) Close() error { return im.w.Close() }

// Run applies changes until ctx ends, then stops watching. Errors on single
// files are logged and do not stop it.
func (im *Importer) Run(ctx context.Context) error {
	defer im.w.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-im.w.Events:
			if !ok {
				return nil
			}
			im.apply(ev)
		case err, ok := <-im.w.Errors:
			if !ok {
				return nil
			}
			im.log.Warnf("hostsync: %v", err)
		}
	}
}

func (im *Importer) apply(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		st, err := os.Stat(ev.Name)
		if err != nil || !st.Mode().IsRegular() {
			return
		}
		if err := im.copy(name); err != nil {
			im.log.Warnf("%v", err)
		}
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if err := im.store.Remove(name); err != nil {
			im.log.Debugf("hostsync: remove %s: %v", name, err)
		}
	}
}
