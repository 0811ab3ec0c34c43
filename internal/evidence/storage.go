package evidence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"custody_tracker/internal/apperr"
)

// Storage is the evidence storage collaborator: it keeps the raw bytes and
// hands back a stable reference. The core only persists that reference.
type Storage interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Delete removes a stored reference. A missing reference is not an error.
	Delete(ctx context.Context, ref string) error
}

// Discard deletes ref from s after the write that produced it was rolled
// back. Failures are logged; the rolled back write already failed.
func Discard(ctx context.Context, s Storage, ref string) {
	if s == nil || ref == "" {
		return
	}
	if err := s.Delete(context.WithoutCancel(ctx), ref); err != nil {
		logrus.WithError(err).WithField("evidence_ref", ref).Warn("Failed to remove orphaned evidence.")
	}
}

// DiskStorage writes evidence under a root directory.
type DiskStorage struct {
	root string
}

func NewDiskStorage(root string) (*DiskStorage, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("evidence directory required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create evidence directory: %w", err)
	}
	return &DiskStorage{root: root}, nil
}

// Put stores data at key (relative, slash separated) and returns key as the
// reference. Existing files are never overwritten.
func (s *DiskStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.root, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", apperr.Wrap(apperr.CodeDependency, err, "create evidence directory")
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeDependency, err, "open evidence file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", apperr.Wrap(apperr.CodeDependency, err, "write evidence file")
	}
	if err := f.Close(); err != nil {
		return "", apperr.Wrap(apperr.CodeDependency, err, "close evidence file")
	}
	return filepath.ToSlash(clean), nil
}

func (s *DiskStorage) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := cleanKey(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.root, clean)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperr.Wrap(apperr.CodeDependency, err, "remove evidence file")
	}
	return nil
}

func cleanKey(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", apperr.Validation("invalid evidence key %q", key)
	}
	return clean, nil
}
