// Package blobstore persists small JSON blobs with atomic write-then-rename
// semantics: identity and wallet material for both the Agent and the
// Coordinator (spec §6 "Persistence layout"). There is no teacher
// equivalent — the billing service persists to Redis — so this is grounded
// directly in spec.md rather than adapted from an existing file.
package blobstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save atomically writes v as JSON to path: write to a temp file in the same
// directory, fsync, then rename over the destination. Rename is atomic on
// POSIX filesystems, so a crash mid-write never leaves a torn file.
func Save(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("blobstore: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("blobstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op once renamed

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("blobstore: encode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("blobstore: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("blobstore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("blobstore: rename: %w", err)
	}
	return nil
}

// Load reads and unmarshals the blob at path into v. It returns
// os.ErrNotExist (wrapped) if the file does not exist, so callers can
// distinguish "no identity yet" from a read/parse failure.
func Load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("blobstore: unmarshal %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a blob is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
