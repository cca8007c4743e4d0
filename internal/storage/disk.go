// Package storage abstracts the object store holding uploaded avatars and
// article images. Objects are addressed by relative path and served back over
// a public URL prefix.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidObjectPath indicates a path that is empty, absolute, or escapes the root.
	ErrInvalidObjectPath = errors.New("storage: invalid object path")
)

// ObjectStore stores and serves uploaded binary files by path.
type ObjectStore interface {
	Save(name string, r io.Reader) error
	Remove(name string) error
	PublicURL(name string) string
}

// URLResolver is the read-only slice of ObjectStore used by components that
// only render avatar URLs.
type URLResolver interface {
	PublicURL(name string) string
}

// DiskStore implements ObjectStore on the local filesystem.
type DiskStore struct {
	root    string
	baseURL string
}

// NewDiskStore roots an object store at dir, serving objects under baseURL.
func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("storage: root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskStore{
		root:    dir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Root returns the directory objects are written to.
func (s *DiskStore) Root() string {
	return s.root
}

// Save writes the object, creating parent directories as needed.
func (s *DiskStore) Save(name string, r io.Reader) error {
	target, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	file, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		_ = os.Remove(target)
		return err
	}
	return file.Close()
}

// Remove deletes the object. Removing a missing object is not an error.
func (s *DiskStore) Remove(name string) error {
	target, err := s.resolve(name)
	if err != nil {
		return err
	}
	err = os.Remove(target)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// PublicURL returns the URL the object is served under.
func (s *DiskStore) PublicURL(name string) string {
	if name == "" {
		return ""
	}
	return s.baseURL + "/" + path.Clean(strings.TrimLeft(name, "/"))
}

func (s *DiskStore) resolve(name string) (string, error) {
	cleaned := path.Clean(strings.TrimSpace(name))
	if cleaned == "" || cleaned == "." || strings.HasPrefix(cleaned, "/") || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidObjectPath, name)
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}
