// Package upload stores uploaded workbooks under server-generated names
// until they are imported or discarded.
package upload

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Extension is the only accepted workbook format.
const Extension = ".xlsx"

var (
	// ErrInvalidName is returned for names the store did not generate.
	ErrInvalidName = errors.New("invalid upload name")

	// ErrNotFound is returned when a stored upload no longer exists.
	ErrNotFound = errors.New("upload not found")

	// ErrExtension is returned when the client file is not an .xlsx workbook.
	ErrExtension = errors.New("invalid file type: only .xlsx files are accepted")

	// ErrTooLarge is returned when the upload exceeds the size limit.
	ErrTooLarge = errors.New("file too large")

	// ErrNoFile is returned when the upload body is empty.
	ErrNoFile = errors.New("no file provided")
)

var namePattern = regexp.MustCompile(`^upload_[a-f0-9]{32}\.xlsx$`)

// ValidName reports whether name has the shape of a generated upload name.
// Only names that pass are ever joined onto the upload directory.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// NewName generates a unique upload name.
func NewName() string {
	return "upload_" + strings.ReplaceAll(uuid.NewString(), "-", "") + Extension
}

// Store keeps uploads in a single directory.
type Store struct {
	dir     string
	maxSize int64
}

// NewStore creates the upload directory if needed.
func NewStore(dir string, maxSize int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir, maxSize: maxSize}, nil
}

// Dir returns the upload directory.
func (s *Store) Dir() string { return s.dir }

// MaxSize returns the upload size limit in bytes.
func (s *Store) MaxSize() int64 { return s.maxSize }

// Save copies r into a new upload and returns its generated name. The client
// file name is only consulted for its extension.
func (s *Store) Save(clientName string, r io.Reader) (string, error) {
	if !strings.EqualFold(filepath.Ext(clientName), Extension) {
		return "", ErrExtension
	}

	tmp, err := os.CreateTemp(s.dir, ".incoming-*")
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	tmpPath := tmp.Name()

	n, copyErr := io.Copy(tmp, io.LimitReader(r, s.maxSize+1))
	closeErr := tmp.Close()

	switch {
	case copyErr != nil:
		os.Remove(tmpPath)
		return "", fmt.Errorf("write upload: %w", copyErr)
	case closeErr != nil:
		os.Remove(tmpPath)
		return "", fmt.Errorf("write upload: %w", closeErr)
	case n == 0:
		os.Remove(tmpPath)
		return "", ErrNoFile
	case n > s.maxSize:
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: exceeds %s limit", ErrTooLarge, humanize.Bytes(uint64(s.maxSize)))
	}

	name := NewName()
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("store upload: %w", err)
	}
	return name, nil
}

// Path returns the location of an existing upload.
func (s *Store) Path(name string) (string, error) {
	if !ValidName(name) {
		return "", ErrInvalidName
	}

	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat upload: %w", err)
	}
	return path, nil
}

// Remove deletes an upload. Removing an upload that is already gone is not
// an error.
func (s *Store) Remove(name string) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

// Sweep deletes uploads last modified before cutoff and returns how many
// were removed. Files that do not look like uploads are left alone.
func (s *Store) Sweep(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read upload dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !ValidName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := s.Remove(entry.Name()); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
