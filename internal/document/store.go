// Package document is the vault: markdown files with YAML frontmatter and
// fenced snippet blocks.
package document

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"livenote/internal/logging"
)

// ErrNotFound is returned when a document does not exist in the vault.
var ErrNotFound = errors.New("document not found")

// Store is the host document collaborator. Paths are vault-relative and use
// forward slashes.
type Store interface {
	Root() string
	Exists(path string) bool
	Read(path string) (string, error)
	Write(path, content string) error
	Frontmatter(path string) (map[string]interface{}, error)
	SetFrontmatter(path string, keyPath []string, value interface{}) error
	Blocks(path, lang string) ([]Block, error)
	List() ([]string, error)
}

// FSStore is a Store over a directory of markdown files.
type FSStore struct {
	root  string
	locks sync.Map // path -> *sync.Mutex
}

// NewFSStore opens a vault rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve vault: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault %s is not a directory", abs)
	}
	return &FSStore{root: abs}, nil
}

// Root returns the absolute vault directory.
func (s *FSStore) Root() string { return s.root }

// Clean normalises a vault-relative path.
func Clean(path string) string {
	p := filepath.ToSlash(filepath.Clean("/" + path))
	return strings.TrimPrefix(p, "/")
}

func (s *FSStore) abs(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(Clean(path)))
}

func (s *FSStore) lock(path string) func() {
	m, _ := s.locks.LoadOrStore(Clean(path), &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Exists reports whether a regular file exists at path.
func (s *FSStore) Exists(path string) bool {
	info, err := os.Stat(s.abs(path))
	return err == nil && !info.IsDir()
}

// Read returns the full text of a document.
func (s *FSStore) Read(path string) (string, error) {
	data, err := os.ReadFile(s.abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// Write replaces the full text of a document.
func (s *FSStore) Write(path, content string) error {
	unlock := s.lock(path)
	defer unlock()
	return s.write(path, content)
}

func (s *FSStore) write(path, content string) error {
	full := s.abs(path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Frontmatter returns the decoded metadata block, empty when absent.
func (s *FSStore) Frontmatter(path string) (map[string]interface{}, error) {
	content, err := s.Read(path)
	if err != nil {
		return nil, err
	}
	fm, _, err := ParseFrontmatter(content)
	return fm, err
}

// SetFrontmatter sets the value at keyPath, creating intermediate mappings.
// Every other key in the block is preserved byte-for-byte where yaml allows.
func (s *FSStore) SetFrontmatter(path string, keyPath []string, value interface{}) error {
	if len(keyPath) == 0 {
		return fmt.Errorf("empty key path")
	}
	unlock := s.lock(path)
	defer unlock()

	content, err := s.Read(path)
	if err != nil {
		return err
	}
	updated, err := SetFrontmatterValue(content, keyPath, value)
	if err != nil {
		return fmt.Errorf("update frontmatter of %s: %w", path, err)
	}
	if err := s.write(path, updated); err != nil {
		return err
	}
	logging.Document("frontmatter %s <- %s", path, strings.Join(keyPath, "."))
	return nil
}

// Blocks returns the fenced blocks of the given language in document order.
func (s *FSStore) Blocks(path, lang string) ([]Block, error) {
	content, err := s.Read(path)
	if err != nil {
		return nil, err
	}
	return ExtractBlocks(content, lang), nil
}

// List returns every markdown document in the vault, skipping dot directories.
func (s *FSStore) List() ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != s.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(p), ".md") {
			rel, relErr := filepath.Rel(s.root, p)
			if relErr != nil {
				return relErr
			}
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list vault: %w", err)
	}
	return out, nil
}

// Basename returns the file name without extension.
func Basename(path string) string {
	base := filepath.Base(filepath.FromSlash(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Dir returns the vault-relative parent folder ("" for the root).
func Dir(path string) string {
	d := filepath.ToSlash(filepath.Dir(filepath.FromSlash(Clean(path))))
	if d == "." {
		return ""
	}
	return d
}
