// Package objectstore holds photo bytes outside the relational store. Photos
// are addressed by a reference string; the engine never keeps raw bytes
// beyond the current operation.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a reference does not resolve to stored bytes.
var ErrNotFound = errors.New("object not found")

// Store reads and writes photo bytes by reference.
type Store interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte) (ref string, err error)
}

// Local keeps objects as files under a root directory.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("storage directory is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("could not create storage directory: %w", err)
	}
	return &Local{root: root}, nil
}

// resolve maps a reference to a path and rejects references escaping root.
func (l *Local) resolve(ref string) (string, error) {
	clean := filepath.Clean("/" + strings.TrimPrefix(ref, "/"))
	if clean == "/" {
		return "", fmt.Errorf("invalid reference %q", ref)
	}
	return filepath.Join(l.root, clean), nil
}

func (l *Local) Fetch(_ context.Context, ref string) ([]byte, error) {
	path, err := l.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is confined to root by resolve
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", ref, err)
	}
	return data, nil
}

func (l *Local) Put(_ context.Context, name string, data []byte) (string, error) {
	path, err := l.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("could not create directory for %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("could not write %s: %w", name, err)
	}
	rel, err := filepath.Rel(l.root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
