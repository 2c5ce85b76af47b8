// Package objectstore provides per-repository content-addressed blob storage.
//
// Each repository gets a directory tree under the store's base path:
//
//	<base>/<repo_hash>/objects/<id[:2]>/<id[2:]>   zlib-compressed blobs
//	<base>/<repo_hash>/refs/...                    plain-text pointers
//
// Object ids are 40-character lowercase hex strings supplied by the caller;
// the store does not recompute hashes from content.
package objectstore

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// Store manages blob storage for all repositories under a single base
// directory. It performs no locking of its own: concurrent writers to the
// same object id race with last-write-wins, writers to different ids never
// conflict.
type Store struct {
	baseDir string
}

// New creates a store rooted at baseDir, creating it if needed.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// BaseDir returns the storage root path.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) repoPath(repoHash string) string {
	return filepath.Join(s.baseDir, repoHash)
}

func (s *Store) objectsPath(repoHash string) string {
	return filepath.Join(s.repoPath(repoHash), "objects")
}

func (s *Store) objectPath(repoHash, objectID string) string {
	return filepath.Join(s.objectsPath(repoHash), objectID[:2], objectID[2:])
}

// Init creates the storage tree for a repository. Failure here is surfaced
// synchronously so repository creation fails outright.
func (s *Store) Init(repoHash string) error {
	for _, dir := range []string{s.objectsPath(repoHash), filepath.Join(s.repoPath(repoHash), "refs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("init repository storage %s: %w", repoHash, err)
		}
	}
	return nil
}

// WriteObject stores a blob under its fan-out path, compressing the payload.
// Re-storing the same id overwrites: last write wins. The write is atomic
// via a unique temp file so a concurrent reader never observes a torn blob.
func (s *Store) WriteObject(repoHash, objectID string, data []byte) error {
	if len(objectID) < 3 {
		return fmt.Errorf("object id too short: %q", objectID)
	}

	compressed, err := compress(data)
	if err != nil {
		return fmt.Errorf("compress object %s: %w", objectID, err)
	}
	return s.writeCompressed(repoHash, objectID, compressed)
}

// ReadObject returns the decompressed payload for an object id.
// Returns ErrObjectNotFound if the object is absent.
func (s *Store) ReadObject(repoHash, objectID string) ([]byte, error) {
	if len(objectID) < 3 {
		return nil, fmt.Errorf("object id too short: %q", objectID)
	}

	compressed, err := os.ReadFile(s.objectPath(repoHash, objectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, objectID)
		}
		return nil, fmt.Errorf("read object %s: %w", objectID, err)
	}

	data, err := decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress object %s: %w", objectID, err)
	}
	return data, nil
}

// ListObjects enumerates every stored object id by walking the fan-out
// directories. Order is unspecified; the listing is recomputed on each call.
func (s *Store) ListObjects(repoHash string) ([]string, error) {
	objectsDir := s.objectsPath(repoHash)

	entries, err := os.ReadDir(objectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list objects: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub, err := os.ReadDir(filepath.Join(objectsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range sub {
			// Skip directories and in-flight temp files.
			if obj.IsDir() || strings.HasPrefix(obj.Name(), ".") {
				continue
			}
			ids = append(ids, entry.Name()+obj.Name())
		}
	}
	return ids, nil
}

// UpdateRef writes a named pointer file, creating parent directories for
// hierarchical ref names like "refs/heads/main".
func (s *Store) UpdateRef(repoHash, refName, objectID string) error {
	refPath := filepath.Join(s.repoPath(repoHash), refName)
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return fmt.Errorf("create ref dir: %w", err)
	}
	if err := os.WriteFile(refPath, []byte(objectID+"\n"), 0o644); err != nil {
		return fmt.Errorf("update ref %s: %w", refName, err)
	}
	return nil
}

// ReadRef returns the object id a ref points at.
// Returns ErrRefNotFound if the ref is absent.
func (s *Store) ReadRef(repoHash, refName string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.repoPath(repoHash), refName))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrRefNotFound, refName)
		}
		return "", fmt.Errorf("read ref %s: %w", refName, err)
	}
	return string(bytes.TrimSpace(data)), nil
}

// RepoSize returns the recursive on-disk size of a repository's tree in
// bytes. A missing repository has size zero.
func (s *Store) RepoSize(repoHash string) (int64, error) {
	var total int64
	err := filepath.WalkDir(s.repoPath(repoHash), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("measure repository %s: %w", repoHash, err)
	}
	return total, nil
}

// DeleteRepo removes a repository's entire storage tree.
// A missing tree is not an error.
func (s *Store) DeleteRepo(repoHash string) error {
	if err := os.RemoveAll(s.repoPath(repoHash)); err != nil {
		return fmt.Errorf("delete repository %s: %w", repoHash, err)
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}
