// Package assets stores, deletes and addresses product images.
//
// Images are kept in a BlobStore under generated keys. Clients only ever see
// URLs of the form {baseURL}/uploads/{key}; URLFor and KeyFor convert
// between the two and are exact inverses for everything this package
// produces.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"katalog/internal/models"
	"katalog/internal/storage"
)

var (
	ErrInvalidMediaType = errors.New("only image files are allowed")
	ErrFileTooLarge     = errors.New("file too large")
	ErrTooManyFiles     = errors.New("too many files")
	// ErrUnknownImage is returned when an identifier is neither a key this
	// package could have produced nor a URL under the configured base.
	ErrUnknownImage = errors.New("unknown image")
)

const (
	// DefaultMaxFileSize is 5 MiB.
	DefaultMaxFileSize int64 = 5 << 20
	// MaxMainImages is the per-request cap on primary images.
	MaxMainImages = 1

	uploadsPath    = "/uploads/"
	maxKeyAttempts = 5
)

var (
	keyPattern = regexp.MustCompile(`^[0-9]+-[0-9]+(\.[a-z0-9]{1,10})?$`)
	extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)
)

// Upload is an image received with a request and not stored yet.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// BytesUpload wraps in-memory content as an Upload.
func BytesUpload(filename, contentType string, data []byte) Upload {
	return Upload{
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// StoredImage is the result of a successful store.
type StoredImage struct {
	Key string
	URL string
}

// Options configures a Manager.
type Options struct {
	// BaseURL is the externally reachable origin, e.g. https://shop.example.com.
	BaseURL     string
	MaxFileSize int64
	// VerifyContent sniffs the stored bytes and rejects anything that is not
	// an image, regardless of the declared Content-Type.
	VerifyContent bool
}

// Manager is the image asset manager. It is safe for concurrent use.
type Manager struct {
	store         storage.BlobStore
	prefix        string
	maxFileSize   int64
	verifyContent bool
	logger        *zap.Logger
}

// NewManager creates a Manager writing to store.
func NewManager(store storage.BlobStore, opts Options, logger *zap.Logger) *Manager {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:         store,
		prefix:        strings.TrimRight(opts.BaseURL, "/") + uploadsPath,
		maxFileSize:   opts.MaxFileSize,
		verifyContent: opts.VerifyContent,
		logger:        logger.Named("assets"),
	}
}

// Validate checks a single upload's declared type and size.
func (m *Manager) Validate(u Upload) error {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(u.ContentType)), "image/") {
		return errors.Wrapf(ErrInvalidMediaType, "%q", u.Filename)
	}
	if u.Size > m.maxFileSize {
		return errors.Wrapf(ErrFileTooLarge, "%q is larger than %d bytes", u.Filename, m.maxFileSize)
	}
	return nil
}

// ValidateBatch enforces the per-request caps (one main image, and no more
// than MaxAdditionalImages secondary images once added to the ones the
// product already has) and validates every file.
func (m *Manager) ValidateBatch(main, additional []Upload, existingAdditional int) error {
	if len(main) > MaxMainImages {
		return errors.Wrapf(ErrTooManyFiles, "at most %d main image", MaxMainImages)
	}
	if len(additional)+existingAdditional > models.MaxAdditionalImages {
		return errors.Wrapf(ErrTooManyFiles, "at most %d additional images", models.MaxAdditionalImages)
	}
	for _, u := range main {
		if err := m.Validate(u); err != nil {
			return err
		}
	}
	for _, u := range additional {
		if err := m.Validate(u); err != nil {
			return err
		}
	}
	return nil
}

// Store writes one upload under a fresh key.
func (m *Manager) Store(ctx context.Context, u Upload) (StoredImage, error) {
	if err := m.Validate(u); err != nil {
		return StoredImage{}, err
	}
	data, err := m.read(u)
	if err != nil {
		return StoredImage{}, err
	}
	if m.verifyContent {
		if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "image/") {
			return StoredImage{}, errors.Wrapf(ErrInvalidMediaType, "%q looks like %s", u.Filename, mt.String())
		}
	}

	ext := extension(u.Filename)
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := m.store.Save(ctx, data, newKey(time.Now(), ext))
		if errors.Is(err, storage.ErrKeyExists) {
			continue
		}
		if err != nil {
			return StoredImage{}, errors.Wrap(err, "store image")
		}
		return StoredImage{Key: key, URL: m.URLFor(key)}, nil
	}
	return StoredImage{}, errors.Errorf("store image: no free key after %d attempts", maxKeyAttempts)
}

// StoreMany stores uploads one after another. If any of them fails, the ones
// already written by this call are deleted before the error is returned.
func (m *Manager) StoreMany(ctx context.Context, uploads []Upload) ([]StoredImage, error) {
	stored := make([]StoredImage, 0, len(uploads))
	for _, u := range uploads {
		img, err := m.Store(ctx, u)
		if err != nil {
			m.DeleteMany(ctx, Keys(stored))
			return nil, err
		}
		stored = append(stored, img)
	}
	return stored, nil
}

// Delete removes key. Deleting a key that is already gone succeeds.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.store.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "delete image %q", key)
	}
	return nil
}

// DeleteMany deletes every key independently. Failures are logged and do
// not stop the remaining deletions; a leftover file is an orphan, not a
// failed request. Deletion continues even if ctx was cancelled, since it
// usually runs as cleanup for that very request.
func (m *Manager) DeleteMany(ctx context.Context, keys []string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := m.Delete(ctx, key); err != nil {
			m.logger.Warn("Failed to delete image, file is orphaned",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
}

// Open returns the stored bytes of key and their detected content type.
func (m *Manager) Open(ctx context.Context, key string) ([]byte, string, error) {
	if !IsKey(key) {
		return nil, "", errors.Wrapf(ErrUnknownImage, "%q", key)
	}
	data, err := m.store.Read(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return data, mimetype.Detect(data).String(), nil
}

// URLFor returns the external URL of key.
func (m *Manager) URLFor(key string) string {
	return m.prefix + key
}

// KeyFor is the inverse of URLFor. It reports false for URLs that were not
// produced by this manager.
func (m *Manager) KeyFor(url string) (string, bool) {
	if !strings.HasPrefix(url, m.prefix) {
		return "", false
	}
	key := url[len(m.prefix):]
	if !IsKey(key) {
		return "", false
	}
	return key, true
}

// ExternalURL renders a stored reference for clients: values that already
// carry a scheme pass through unchanged, bare keys are turned into URLs.
func (m *Manager) ExternalURL(ref string) string {
	if hasScheme(ref) {
		return ref
	}
	return m.URLFor(ref)
}

// Normalize turns a client supplied image identifier, either a key or a URL,
// into a key. A bare key is never treated as a URL: only values with an
// http or https scheme are decoded.
func (m *Manager) Normalize(identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if hasScheme(identifier) {
		key, ok := m.KeyFor(identifier)
		if !ok {
			return "", errors.Wrapf(ErrUnknownImage, "%q", identifier)
		}
		return key, nil
	}
	if !IsKey(identifier) {
		return "", errors.Wrapf(ErrUnknownImage, "%q", identifier)
	}
	return identifier, nil
}

// Resolve fills the URL fields of p from its stored references.
func (m *Manager) Resolve(p *models.Product) {
	p.MainImageURL = nil
	if p.MainImageKey != nil && *p.MainImageKey != "" {
		u := m.ExternalURL(*p.MainImageKey)
		p.MainImageURL = &u
	}
	p.AdditionalImageURLs = make([]string, 0, len(p.AdditionalImageKeys))
	for _, ref := range p.AdditionalImageKeys {
		p.AdditionalImageURLs = append(p.AdditionalImageURLs, m.ExternalURL(ref))
	}
}

// IsKey reports whether s has the shape of a generated key.
func IsKey(s string) bool {
	return keyPattern.MatchString(s)
}

// Keys extracts the keys of stored images.
func Keys(images []StoredImage) []string {
	keys := make([]string, len(images))
	for i, img := range images {
		keys[i] = img.Key
	}
	return keys
}

func (m *Manager) read(u Upload) ([]byte, error) {
	if u.Open == nil {
		return nil, errors.Errorf("upload %q has no content", u.Filename)
	}
	rc, err := u.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "open upload %q", u.Filename)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, m.maxFileSize+1))
	if err != nil {
		return nil, errors.Wrapf(err, "read upload %q", u.Filename)
	}
	if int64(len(data)) > m.maxFileSize {
		return nil, errors.Wrapf(ErrFileTooLarge, "%q is larger than %d bytes", u.Filename, m.maxFileSize)
	}
	return data, nil
}

// newKey follows {unixMillis}-{randomInt}{ext}.
func newKey(now time.Time, ext string) string {
	return fmt.Sprintf("%d-%d%s", now.UnixMilli(), rand.Int63n(1_000_000_000), ext)
}

func extension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if !extPattern.MatchString(ext) {
		return ""
	}
	return ext
}

func hasScheme(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
