// Package store provides crash-safe JSON persistence for the bot's process
// state: cumulative spend / managed tokens, the AI analysis cache and
// request counter, the mock exchange's balance and positions, and the
// append-only trade log.
//
// Every write goes to a temp file in the same directory, is fsynced, then
// is renamed over the target — so a crash mid-write never leaves a torn
// file behind. Each JSONFile serializes its own reads and writes behind a
// mutex; callers mutate the in-memory value and call Save.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONFile is a mutex-guarded, atomically-written JSON document of type T.
type JSONFile[T any] struct {
	path string
	mu   sync.Mutex
}

// Open returns a JSONFile bound to path. The containing directory is
// created if necessary; the file itself is created lazily on first Save.
func Open[T any](path string) (*JSONFile[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &JSONFile[T]{path: path}, nil
}

// Load reads and decodes the file. If the file is absent or corrupt, it
// returns the zero value of T and ok=false so the caller can reset to
// defaults — matching the spec's "corruption or missing file resets to
// zeroes" requirement.
func (f *JSONFile[T]) Load() (value T, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		return value, false
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return *new(T), false
	}
	return value, true
}

// Save atomically persists value: write-to-temp, fsync, rename.
func (f *JSONFile[T]) Save(value T) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeAtomic(f.path, value)
}

func writeAtomic(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	tmp := path + ".tmp"
	fh, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open temp file %s: %w", tmp, err)
	}
	if _, err := fh.Write(data); err != nil {
		fh.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := fh.Sync(); err != nil {
		fh.Close()
		return fmt.Errorf("fsync %s: %w", tmp, err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

var appendMu sync.Map // path (string) -> *sync.Mutex

func lockFor(path string) *sync.Mutex {
	mu, _ := appendMu.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// AppendJSONArray loads path as a JSON array of T (treating a missing or
// corrupt file as empty), appends entry, and atomically rewrites it. Used
// for the append-only trade log. Safe for concurrent callers on the same
// path.
func AppendJSONArray[T any](path string, entry T) error {
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	var entries []T
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &entries)
	}
	entries = append(entries, entry)
	return writeAtomic(path, entries)
}

// ReadJSONArray loads path as a JSON array of T, returning an empty slice
// if the file is missing or corrupt.
func ReadJSONArray[T any](path string) []T {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var entries []T
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}
	return entries
}
