package settings

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// reloadDelay coalesces the burst of events editors produce on save.
const reloadDelay = 150 * time.Millisecond

// FileStore is a MemoryStore persisted to a YAML file. Edits made to the
// file by other programs are picked up while Watch runs.
type FileStore struct {
	*MemoryStore
	path string

	writeMu     sync.Mutex
	lastWritten []byte
}

// OpenFileStore loads path if it exists. A missing file starts empty and
// is created on the first write.
func OpenFileStore(path string, logger *zap.SugaredLogger) (*FileStore, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving settings path %s", path)
	}
	fs := &FileStore{
		MemoryStore: NewMemoryStore(logger),
		path:        abs,
	}
	data, err := os.ReadFile(abs)
	switch {
	case errors.Is(err, os.ErrNotExist):
		fs.logger.Infof("no settings at %s, starting empty", abs)
		return fs, nil
	case err != nil:
		return nil, errors.Wrapf(err, "reading settings %s", abs)
	}
	values, err := decode(data)
	if err != nil {
		return nil, err
	}
	fs.MemoryStore.replace(values)
	fs.lastWritten = data
	return fs, nil
}

// Path is the absolute settings file path.
func (f *FileStore) Path() string {
	return f.path
}

// Set implements Store and writes the file.
func (f *FileStore) Set(key string, value any) error {
	if err := f.MemoryStore.Set(key, value); err != nil {
		return err
	}
	return f.save()
}

// SetValues implements Store with a single file write.
func (f *FileStore) SetValues(values map[string]any) error {
	if err := f.MemoryStore.SetValues(values); err != nil {
		return err
	}
	return f.save()
}

// SetPoints implements Store and writes the file.
func (f *FileStore) SetPoints(key string, pts []r2.Point) error {
	return f.Set(key, pts)
}

// save writes a temp file next to the target and renames it into place.
func (f *FileStore) save() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	data, err := yaml.Marshal(f.snapshot())
	if err != nil {
		return errors.Wrap(err, "encoding settings")
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating settings dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return errors.Wrap(err, "creating temp settings file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "writing temp settings file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "closing temp settings file")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "replacing %s", f.path)
	}
	f.lastWritten = data
	return nil
}

// Watch reloads the file whenever it changes on disk until ctx is done.
func (f *FileStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating settings watcher")
	}
	defer watcher.Close()

	// watch the directory, renames replace the file inode
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating settings dir %s", dir)
	}
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "watching %s", dir)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(reloadDelay)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warnw("settings watcher error", "error", err)
		case <-timer.C:
			if err := f.reload(); err != nil {
				f.logger.Warnw("settings reload failed", "path", f.path, "error", err)
			}
		}
	}
}

func (f *FileStore) reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return errors.Wrap(err, "reading settings")
	}
	f.writeMu.Lock()
	own := bytes.Equal(data, f.lastWritten)
	if !own {
		f.lastWritten = data
	}
	f.writeMu.Unlock()
	if own {
		return nil
	}

	values, err := decode(data)
	if err != nil {
		return err
	}
	f.logger.Infof("reloaded %d settings from %s", len(values), f.path)
	f.MemoryStore.replace(values)
	return nil
}

func decode(data []byte) (map[string]any, error) {
	values := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return values, nil
	}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, errors.Wrap(err, "decoding settings yaml")
	}
	return values, nil
}
