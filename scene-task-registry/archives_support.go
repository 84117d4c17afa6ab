package scene_task_registry

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
)

// Extract7z unpacks a downloaded scene archive into dest. dest is created if
// absent; existing files are overwritten, so re-running a download stage over
// the same product dir stays idempotent.
func Extract7z(src, dest string) error {
	r, err := sevenzip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open 7z: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("couldn't create destination folder %q: %w", dest, err)
	}

	destAbs, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("abs dest: %w", err)
	}

	for _, f := range r.File {
		info := f.FileInfo()

		if info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("refusing to extract symlink entry: %s", f.Name)
		}

		target := filepath.Join(dest, filepath.FromSlash(f.Name))
		if !withinBase(destAbs, target) {
			return fmt.Errorf("entry escapes destination: %s", f.Name)
		}

		if info.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("mkdir: %w", err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("mkdir parent: %w", err)
		}

		if err := extractEntry(f, target, info.Mode().Perm()); err != nil {
			return err
		}
	}

	return nil
}

func extractEntry(f *sevenzip.File, target string, perm os.FileMode) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry: %w", err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("copy: %w", err)
	}
	return out.Close()
}

func withinBase(base, path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Is7z checks whether the file at path appears to be a 7z archive by reading its magic number (first 6 bytes).
func Is7z(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	magic := make([]byte, 6)
	n, err := f.Read(magic)
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read magic: %w", err)
	}
	if n < 6 {
		return false, nil // too short to be a valid 7z file
	}

	return hex.EncodeToString(magic) == "377abcaf271c", nil
}
