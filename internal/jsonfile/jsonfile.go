// Package jsonfile loads and saves human-readable JSON documents on disk.
package jsonfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCorrupt marks a file whose content is not valid JSON for the requested
// shape. Callers treat such files as empty.
var ErrCorrupt = errors.New("corrupt json file")

// Load reads the JSON object stored at path. A missing or whitespace-only file
// yields an empty map and no error; malformed content yields an empty map and an
// error wrapping ErrCorrupt.
func Load(path string) (map[string]any, error) {
	data := map[string]any{}
	if _, err := LoadInto(path, &data); err != nil {
		return map[string]any{}, err
	}
	if data == nil {
		data = map[string]any{}
	}

	return data, nil
}

// LoadInto decodes the file at path into v. found is false when the file is
// missing or blank, in which case v is left untouched.
func LoadInto(path string, v any) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false, nil
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("%w %s: %v", ErrCorrupt, path, err)
	}

	return true, nil
}

// Save writes v to path with two-space indentation, keeping non-ASCII and HTML
// characters literal. Parent directories are created as needed and any
// existing file is overwritten.
func Save(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", path, err)
		}
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

// Remove deletes the file at path. removed is false when it did not exist.
func Remove(path string) (bool, error) {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("remove %s: %w", path, err)
	}

	return true, nil
}
