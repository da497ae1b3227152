package receipt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrInvalidFileName is returned for names that would escape the storage directory
var ErrInvalidFileName = errors.New("invalid file name")

// Storage defines the interface for capture file storage
type Storage interface {
	// Save writes a capture and returns the stored name
	Save(name string, data []byte) (string, error)

	// Get reads a stored capture
	Get(name string) ([]byte, error)

	// Path returns the on-disk location of a stored capture
	Path(name string) (string, error)

	// Delete removes a stored capture
	Delete(name string) error
}

// LocalStorage keeps receipt captures in a directory on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the storage directory if needed
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Path resolves a stored name inside the storage directory
func (l *LocalStorage) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return filepath.Join(l.basePath, name), nil
}

// Save writes a capture to local storage
func (l *LocalStorage) Save(name string, data []byte) (string, error) {
	path, err := l.Path(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return name, nil
}

// Get reads a capture from local storage
func (l *LocalStorage) Get(name string) ([]byte, error) {
	path, err := l.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a capture from local storage
func (l *LocalStorage) Delete(name string) error {
	path, err := l.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
