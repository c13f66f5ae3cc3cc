// Package store keeps the most recently seen document of every source on
// disk, one file per source under a common root directory.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schaermu/datapages/internal/document"
)

// tempPrefix marks in-flight writes; such files are never listed or published.
const tempPrefix = ".datapages-tmp-"

// Status describes what Load found at a source's path.
type Status int

const (
	// StatusMissing means no file exists yet.
	StatusMissing Status = iota
	// StatusCorrupt means a file exists but could not be read or parsed.
	StatusCorrupt
	// StatusPresent means a previous document was loaded.
	StatusPresent
)

func (s Status) String() string {
	switch s {
	case StatusMissing:
		return "missing"
	case StatusCorrupt:
		return "corrupt"
	case StatusPresent:
		return "present"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Snapshot is the result of loading a stored document.
type Snapshot struct {
	Doc    document.Document
	Status Status
	// Err holds the read or parse failure for StatusCorrupt.
	Err error
}

// Exists reports whether the snapshot holds a usable previous document.
func (s Snapshot) Exists() bool {
	return s.Status == StatusPresent
}

// WriteError is returned when a document cannot be persisted.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store: write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Store is a directory holding one JSON file per source.
type Store struct {
	root string
}

// New returns a store rooted at dir. The directory is created lazily on the
// first Save.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Path resolves a source's relative path inside the store.
func (s *Store) Path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Load reads the document stored under name. It never fails: a missing file
// or unparseable content is reported through the snapshot's status.
func (s *Store) Load(name string) Snapshot {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{Status: StatusMissing}
		}
		return Snapshot{Status: StatusCorrupt, Err: err}
	}

	doc, err := document.Parse(data)
	if err != nil {
		return Snapshot{Status: StatusCorrupt, Err: err}
	}

	return Snapshot{Doc: doc, Status: StatusPresent}
}

// Save replaces the document stored under name. The content is written to a
// temporary file next to the target and renamed into place, so readers see
// either the old or the new file, never a partial one.
func (s *Store) Save(name string, doc document.Document) error {
	dst := s.Path(name)

	data, err := document.Encode(doc)
	if err != nil {
		return &WriteError{Path: dst, Err: err}
	}

	if err := writeFileAtomic(dst, data, 0644); err != nil {
		return &WriteError{Path: dst, Err: err}
	}
	return nil
}

// Files lists all files in the store as slash-separated paths relative to the
// root, sorted. Hidden files and directories and in-flight temp files are
// skipped. A store whose root does not exist yet has no files.
func (s *Store) Files() ([]string, error) {
	var files []string

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}

		// Skip hidden entries (including temp files from interrupted writes)
		if path != s.root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list store files: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

// writeFileAtomic writes data to dst via a synced temp file and rename.
func writeFileAtomic(dst string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Chmod(perm); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dst)
}
