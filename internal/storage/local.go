// Package storage manages the on-disk copies of registered images.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/ironsheep/image-lifecycle/internal/errors"
)

// Local stores managed images on the local filesystem.
//
// Imported originals live under imagesDir, transformation output under
// processedDir. Local holds no locks: every path it hands out is unique, so
// concurrent callers never touch the same file.
type Local struct {
	imagesDir    string
	processedDir string
	permissions  os.FileMode
}

// NewLocal creates both storage directories if needed.
func NewLocal(imagesDir, processedDir string) (*Local, error) {
	for _, dir := range []string{imagesDir, processedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryIO, "storage.mkdir", fmt.Errorf("%s: %w", dir, err))
		}
	}
	return &Local{imagesDir: imagesDir, processedDir: processedDir, permissions: 0o644}, nil
}

// ImagesDir returns the directory holding imported originals.
func (l *Local) ImagesDir() string { return l.imagesDir }

// ProcessedDir returns the directory holding transformation output.
func (l *Local) ProcessedDir() string { return l.processedDir }

// Import copies src into managed storage as "<id>_<basename>" and returns the
// managed path together with its size in bytes.
func (l *Local) Import(id int, src string) (string, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, apperrors.Wrap(apperrors.CategoryIO, "storage.import.open", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", 0, apperrors.Wrap(apperrors.CategoryIO, "storage.import.stat", err)
	}
	if info.IsDir() {
		return "", 0, apperrors.Newf(apperrors.CategoryIO, "storage.import", "%s is a directory", src)
	}

	dst := filepath.Join(l.imagesDir, fmt.Sprintf("%d_%s", id, filepath.Base(src)))
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, l.permissions)
	if err != nil {
		return "", 0, apperrors.Wrap(apperrors.CategoryIO, "storage.import.create", err)
	}

	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return "", 0, apperrors.Wrap(apperrors.CategoryIO, "storage.import.copy", err)
	}

	return dst, n, nil
}

// ProcessedPath names the output file for a task. The source extension is
// kept so the encoder picks the same format; unknown extensions fall back to
// PNG.
func (l *Local) ProcessedPath(taskID int, kind, srcPath string) string {
	ext := strings.ToLower(filepath.Ext(srcPath))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff":
	default:
		ext = ".png"
	}
	return filepath.Join(l.processedDir, fmt.Sprintf("processed_%d_%s%s", taskID, kind, ext))
}

// Size returns the size of a stored file in bytes.
func (l *Local) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryIO, "storage.size", err)
	}
	return info.Size(), nil
}

// Remove deletes a stored file. A file that is already gone is not an error.
func (l *Local) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Wrap(apperrors.CategoryIO, "storage.remove", err)
	}
	return nil
}
