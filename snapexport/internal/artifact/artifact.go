// CLAUDE:SUMMARY Output file guard: validates artifact base names, keeps paths under the output directory, writes atomically.
// Package artifact writes export results to the output directory.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidName is returned for base names that are empty, too long or
// contain characters outside [A-Za-z0-9_.-].
var ErrInvalidName = errors.New("artifact: invalid base name")

// ErrPathTraversal is returned when a name would escape the output directory.
var ErrPathTraversal = errors.New("artifact: path traversal detected")

const maxNameLen = 200

// ValidateName checks a user-supplied base name.
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLen {
		return fmt.Errorf("%w: length %d", ErrInvalidName, len(name))
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") {
		return ErrPathTraversal
	}
	for _, r := range name {
		if !isNameChar(r) {
			return fmt.Errorf("%w: character %q", ErrInvalidName, r)
		}
	}
	return nil
}

func isNameChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

// Dir is an output directory.
type Dir struct {
	root string
}

// NewDir returns the output directory at root, creating it if needed.
func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("artifact: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: mkdir: %w", err)
	}
	return &Dir{root: abs}, nil
}

// Root is the absolute directory path.
func (d *Dir) Root() string { return d.root }

// Sub returns the child directory name, creating it if needed. name
// follows the base name rules.
func (d *Dir) Sub(name string) (*Dir, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	root := filepath.Join(d.root, name)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: mkdir: %w", err)
	}
	return &Dir{root: root}, nil
}

// Path returns the file path for name + ext after validation.
func (d *Dir) Path(name, ext string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	p := filepath.Join(d.root, name+ext)
	if filepath.Dir(p) != d.root {
		return "", ErrPathTraversal
	}
	return p, nil
}

// Write stores the output of fill as name + ext. The file appears only
// once fill succeeded; a failed write leaves no partial file behind.
func (d *Dir) Write(name, ext string, fill func(io.Writer) error) (string, error) {
	path, err := d.Path(name, ext)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(d.root, "."+name+"-*"+ext+".tmp")
	if err != nil {
		return "", fmt.Errorf("artifact: create temp: %w", err)
	}
	done := false
	defer func() {
		if !done {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := fill(tmp); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("artifact: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("artifact: close: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("artifact: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		done = true
		return "", fmt.Errorf("artifact: rename: %w", err)
	}
	done = true
	return path, nil
}
