package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// PartSuffix marks in-progress outputs that are renamed into place on success.
const PartSuffix = ".part"

// PartPath returns the temporary sibling used while path is being written.
func PartPath(path string) string {
	return path + PartSuffix
}

// Commit syncs the temporary file and renames it over final.
func Commit(part, final string) error {
	f, err := os.OpenFile(part, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("commit %s: %w", part, err)
	}
	syncErr := f.Sync()
	if err := errors.Join(syncErr, f.Close()); err != nil {
		return fmt.Errorf("commit %s: %w", part, err)
	}
	if err := os.Rename(part, final); err != nil {
		return fmt.Errorf("commit %s: %w", final, err)
	}
	return nil
}

// WriteAtomic durably replaces path with data.
func WriteAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", path, err)
	}
	if err := renameio.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// NonEmpty reports the size of path when it is a regular file with content.
func NonEmpty(path string) (int64, bool) {
	if path == "" {
		return 0, false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return 0, false
	}
	return info.Size(), true
}

// RemoveIfExists deletes path, ignoring a missing file.
func RemoveIfExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// CopyFileVerified copies src to dst, syncs it, then re-reads dst and compares
// its SHA-256 and size with the source. dst is removed when they differ.
func CopyFileVerified(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	want := sha256.New()
	written, copyErr := io.Copy(io.MultiWriter(out, want), in)
	if copyErr == nil {
		copyErr = out.Sync()
	}
	if closeErr := out.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("copy to %s: %w", dst, copyErr)
	}

	got, size, err := digest(dst)
	if err != nil {
		return err
	}
	if size != written || !bytes.Equal(got, want.Sum(nil)) {
		_ = os.Remove(dst)
		return fmt.Errorf("verify %s: copied %d bytes, read back %d with different digest", dst, written, size)
	}
	return nil
}

func digest(path string) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, 0, fmt.Errorf("read back %s: %w", path, err)
	}
	return h.Sum(nil), n, nil
}
