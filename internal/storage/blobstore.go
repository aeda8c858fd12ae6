package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	// ErrFileNotFound indicates the requested blob was not found
	ErrFileNotFound = errors.New("file not found")
	// ErrFileWriteFailed indicates blob write operation failed
	ErrFileWriteFailed = errors.New("failed to write file")
	// ErrFileReadFailed indicates blob read operation failed
	ErrFileReadFailed = errors.New("failed to read file")
	// ErrInvalidName indicates a blob name that would escape the store root
	ErrInvalidName = errors.New("invalid blob name")
)

// BlobStore keeps attachment bytes addressed by stored name.
type BlobStore interface {
	// Write stores content under name atomically. A failed write leaves no blob behind.
	Write(name string, content []byte) error
	Open(name string) (io.ReadCloser, error)
	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(name string) error
	Exists(name string) bool
	// Path returns the absolute location of the blob on disk
	Path(name string) string
}

// DirStore is a BlobStore rooted at a single directory
type DirStore struct {
	root string
}

var _ BlobStore = (*DirStore)(nil)

// NewDirStore creates the root directory if needed
func NewDirStore(root string) (*DirStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileWriteFailed, err.Error())
	}
	return &DirStore{root: abs}, nil
}

// Root returns the store directory
func (s *DirStore) Root() string {
	return s.root
}

// Write writes to a temp file, fsyncs it and renames it into place.
func (s *DirStore) Write(name string, content []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	fullPath := filepath.Join(s.root, name)
	tmpPath := fullPath + "." + uuid.NewString() + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrFileWriteFailed, err.Error())
	}

	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %s", ErrFileWriteFailed, err.Error())
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: fsync: %s", ErrFileWriteFailed, err.Error())
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %s", ErrFileWriteFailed, err.Error())
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename: %s", ErrFileWriteFailed, err.Error())
	}
	return nil
}

// Open opens a blob for reading. The caller must close it.
func (s *DirStore) Open(name string) (io.ReadCloser, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.root, name))
	if os.IsNotExist(err) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileReadFailed, err.Error())
	}
	return f, nil
}

// Delete deletes a blob file
func (s *DirStore) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.root, name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exists reports whether a regular file is stored under name
func (s *DirStore) Exists(name string) bool {
	if validateName(name) != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(s.root, name))
	return err == nil && info.Mode().IsRegular()
}

func (s *DirStore) Path(name string) string {
	return filepath.Join(s.root, filepath.Base(name))
}

// List returns the names of stored blobs, skipping in-flight temp files
func (s *DirStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileReadFailed, err.Error())
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

const (
	// MaxFilenameBytes bounds a sanitized name, leaving room for the stored-name
	// prefix and the temp-file suffix within the 255-byte NAME_MAX.
	MaxFilenameBytes = 150
	// maxExtensionBytes is the longest extension kept when a name is shortened
	maxExtensionBytes = 16
)

// SanitizeFilename replaces characters that are unsafe in a file name and
// strips any directory component. An empty result becomes "unknown"; a long
// one is cut to MaxFilenameBytes, keeping its extension.
func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", "\x00", "_",
	)
	result := strings.TrimSpace(replacer.Replace(name))
	result = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return '_'
		}
		return r
	}, result)

	if result == "" || result == "." || result == ".." {
		return "unknown"
	}
	return truncateFilename(result, MaxFilenameBytes)
}

func truncateFilename(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) > maxExtensionBytes || ext == name {
		ext = ""
	}
	return truncateUTF8(name[:len(name)-len(ext)], limit-len(ext)) + ext
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
