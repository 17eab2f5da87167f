package storage

import (
	"context"
	"os"
	"path"
	"strings"

	"github.com/go-faster/errors"
	"github.com/spf13/afero"
)

var (
	// ErrKeyExists is returned by Save when the suggested key is taken.
	ErrKeyExists = errors.New("storage key already exists")
	// ErrInvalidKey is returned for keys that would escape the store root.
	ErrInvalidKey = errors.New("invalid storage key")
	// ErrNotExist is returned by Read for missing keys.
	ErrNotExist = errors.New("storage key does not exist")
)

// BlobStore is the narrow contract the catalog needs from file storage.
type BlobStore interface {
	// Save writes data under suggestedName and returns the stored key. It
	// never overwrites an existing key.
	Save(ctx context.Context, data []byte, suggestedName string) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// FSStore is a BlobStore on top of an afero filesystem. Production uses a
// base-path OS filesystem rooted at the upload directory; tests use an
// in-memory one.
type FSStore struct {
	fs afero.Fs
}

var _ BlobStore = (*FSStore)(nil)

// NewFSStore returns a store that keeps every blob at the root of fs.
func NewFSStore(fs afero.Fs) *FSStore {
	return &FSStore{fs: fs}
}

// NewDiskStore returns a store rooted at dir, creating it when missing.
func NewDiskStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create upload dir %q", dir)
	}
	return NewFSStore(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

func (s *FSStore) Save(ctx context.Context, data []byte, suggestedName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := cleanKey(suggestedName)
	if err != nil {
		return "", err
	}

	exists, err := afero.Exists(s.fs, name)
	if err != nil {
		return "", errors.Wrap(err, "stat")
	}
	if exists {
		return "", ErrKeyExists
	}

	f, err := s.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return "", ErrKeyExists
		}
		return "", errors.Wrap(err, "create")
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(name)
		return "", errors.Wrap(err, "write")
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(name)
		return "", errors.Wrap(err, "close")
	}
	return strings.TrimPrefix(name, "/"), nil
}

func (s *FSStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, errors.Wrap(err, "read")
	}
	return data, nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(name); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove")
	}
	return nil
}

func (s *FSStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	name, err := cleanKey(key)
	if err != nil {
		return false, err
	}
	return afero.Exists(s.fs, name)
}

// cleanKey accepts flat names only and returns the path at the store root.
func cleanKey(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key != path.Clean(key) || strings.HasPrefix(key, ".") {
		return "", errors.Wrapf(ErrInvalidKey, "%q", key)
	}
	return "/" + key, nil
}
