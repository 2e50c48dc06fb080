// Package fsops provides the filesystem primitives the ingest pipeline
// relies on: atomic writes and verified moves that never leave a partial
// file observable at its final path.
package fsops

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ez3davatars/A360-Aging-UI/internal/checksum"
)

// WriteAtomic writes content at path via tmp file → fsync → rename.
// Parent directories are created as needed.
func WriteAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsops: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".a360-tmp-*")
	if err != nil {
		return fmt.Errorf("fsops: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("fsops: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsops: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fsops: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("fsops: rename: %w", err)
	}
	success = true
	return nil
}

// MoveVerified moves src to dst by copying into a temp file next to dst,
// syncing, checking the byte count, then renaming into place and removing
// the source. Works across filesystems; dst never holds a partial copy.
func MoveVerified(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("fsops: open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("fsops: stat source: %w", err)
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsops: mkdir destination: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".a360-mv-*")
	if err != nil {
		return fmt.Errorf("fsops: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, in)
	if err != nil {
		return fmt.Errorf("fsops: copy: %w", err)
	}
	if n != info.Size() {
		return fmt.Errorf("fsops: short copy: wrote %d of %d bytes", n, info.Size())
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsops: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fsops: close temp: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("fsops: rename: %w", err)
	}
	success = true

	if err := os.Remove(src); err != nil {
		return fmt.Errorf("fsops: remove source: %w", err)
	}
	return nil
}

// Identical reports whether two files have the same size and SHA-256.
func Identical(a, b string) (bool, error) {
	ia, err := os.Stat(a)
	if err != nil {
		return false, fmt.Errorf("fsops: stat %s: %w", a, err)
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false, fmt.Errorf("fsops: stat %s: %w", b, err)
	}
	if ia.Size() != ib.Size() {
		return false, nil
	}
	ha, err := checksum.File(a)
	if err != nil {
		return false, err
	}
	hb, err := checksum.File(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}
