package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/thupa-pro/lipo-sub001/pkg/platform/sentinel"
)

const fileSuffix = ".json"

// FileSlot stores one JSON file per key inside a directory. Writes go through
// a temp file and rename so readers never observe a partial blob.
type FileSlot struct {
	dir    string
	logger *slog.Logger
}

// NewFileSlot creates dir if needed and returns a slot rooted there.
func NewFileSlot(dir string, logger *slog.Logger) (*FileSlot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create consent dir: %w", err)
	}
	return &FileSlot{dir: dir, logger: logger}, nil
}

// Dir returns the directory backing the slot.
func (s *FileSlot) Dir() string {
	return s.dir
}

func (s *FileSlot) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+fileSuffix)
}

func (s *FileSlot) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("read consent file: %w", err)
	}
	return data, nil
}

func (s *FileSlot) Set(_ context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".consent-*")
	if err != nil {
		return fmt.Errorf("create temp consent file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write consent file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close consent file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace consent file: %w", err)
	}
	return nil
}

func (s *FileSlot) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove consent file: %w", err)
	}
	return nil
}

// Watch calls fn with the slot key of every consent file created, modified or
// removed in the directory, including by other processes. It blocks until ctx
// is cancelled.
func (s *FileSlot) Watch(ctx context.Context, fn func(key string)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			key, ok := keyFromFile(ev.Name)
			if !ok {
				continue
			}
			s.logger.Debug("consent file changed", "key", key, "op", ev.Op.String())
			fn(key)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("consent watcher error", "error", err)
		}
	}
}

func keyFromFile(path string) (string, bool) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileSuffix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, fileSuffix))
	if err != nil {
		return "", false
	}
	return key, true
}
