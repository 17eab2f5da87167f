package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"katalog/internal/assets"
	"katalog/internal/models"
	"katalog/internal/query"
	"katalog/internal/repositories"
)

// EventsExchange is the topic exchange product events are published to.
const EventsExchange = "catalog"

// Routing keys of product lifecycle events.
const (
	EventProductCreated = "product.created"
	EventProductUpdated = "product.updated"
	EventProductDeleted = "product.deleted"
)

// maxSKUAttempts bounds regeneration of auto-assigned SKUs that collide.
const maxSKUAttempts = 3

// EventPublisher publishes product lifecycle events.
type EventPublisher interface {
	Publish(exchange, routingKey string, body []byte) error
}

// ProductCache caches stored products by id. Get returns nil, nil on a miss.
// Set must not replace an entry, and must not take effect for an id that
// Delete evicted recently: a read racing a write may try to store the
// record it loaded before the write committed.
type ProductCache interface {
	Get(ctx context.Context, id string) (*models.Product, error)
	Set(ctx context.Context, product *models.Product) error
	Delete(ctx context.Context, id string) error
}

// ImageUploads are the files sent with a write request.
type ImageUploads struct {
	Main       []assets.Upload
	Additional []assets.Upload
}

func (u ImageUploads) empty() bool {
	return len(u.Main) == 0 && len(u.Additional) == 0
}

// ProductEvent is the body of a published product event.
type ProductEvent struct {
	Event      string          `json:"event"`
	ProductID  string          `json:"productId"`
	UserID     string          `json:"userId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Product    *models.Product `json:"product,omitempty"`
}

// ProductService coordinates product records and their image files. Every
// write follows the same order: validate, stage files, persist, and only
// then delete files the write made obsolete. A failed persist deletes the
// files staged for it.
type ProductService struct {
	repo   repositories.ProductRepository
	assets *assets.Manager
	cache  ProductCache
	events EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

// Option configures optional ProductService collaborators.
type Option func(*ProductService)

// WithCache enables read caching of products by id.
func WithCache(c ProductCache) Option {
	return func(s *ProductService) { s.cache = c }
}

// WithEvents enables publishing of product lifecycle events.
func WithEvents(p EventPublisher) Option {
	return func(s *ProductService) { s.events = p }
}

// NewProductService creates a new ProductService.
func NewProductService(repo repositories.ProductRepository, manager *assets.Manager, logger *zap.Logger, opts ...Option) *ProductService {
	s := &ProductService{
		repo:   repo,
		assets: manager,
		logger: logger.Named("products"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateProduct creates a product owned by userID.
func (s *ProductService) CreateProduct(ctx context.Context, userID string, in ProductInput, files ImageUploads) (*models.Product, error) {
	p := &models.Product{
		UserID:    userID,
		Condition: models.ConditionNew,
		Active:    true,
	}
	in.Apply(p)
	p.Tags = models.NormalizeTags(p.Tags)

	generatedSKU := p.SKU == ""
	if generatedSKU {
		p.SKU = models.GenerateSKU(p.Category, p.Brand, s.now())
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.assets.ValidateBatch(files.Main, files.Additional, 0); err != nil {
		return nil, err
	}

	main, additional, err := s.stage(ctx, files)
	if err != nil {
		return nil, err
	}
	staged := stagedKeys(main, additional)
	if main != nil {
		p.MainImageKey = &main.Key
	}
	p.AdditionalImageKeys = assets.Keys(additional)

	for attempt := 1; ; attempt++ {
		err = s.repo.Create(ctx, p)
		if err == nil || !generatedSKU || attempt == maxSKUAttempts || !errors.Is(err, models.ErrDuplicateSKU) {
			break
		}
		p.ID = ""
		p.SKU = models.GenerateSKU(p.Category, p.Brand, s.now())
	}
	if err != nil {
		s.compensate(ctx, p.ID, staged)
		return nil, err
	}

	s.logger.Info("Product created", zap.String("product_id", p.ID), zap.String("user_id", userID))
	s.afterCommit(ctx, EventProductCreated, p)
	return s.present(p), nil
}

// UpdateProduct applies in to the product id owned by userID. New additional
// images are appended; a new main image replaces the old one, whose file is
// deleted once the update is committed.
func (s *ProductService) UpdateProduct(ctx context.Context, userID, id string, in ProductInput, files ImageUploads) (*models.Product, error) {
	existing, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	next := existing.Clone()
	in.Apply(next)
	next.Tags = models.NormalizeTags(next.Tags)

	superseded, err := s.detach(next, in.RemoveImages)
	if err != nil {
		return nil, err
	}
	if err := s.assets.ValidateBatch(files.Main, files.Additional, len(next.AdditionalImageKeys)); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	main, additional, err := s.stage(ctx, files)
	if err != nil {
		return nil, err
	}
	if main != nil {
		if next.MainImageKey != nil {
			superseded = append(superseded, *next.MainImageKey)
		}
		next.MainImageKey = &main.Key
	}
	next.AdditionalImageKeys = append(next.AdditionalImageKeys, assets.Keys(additional)...)

	if err := s.repo.Update(ctx, next); err != nil {
		s.compensate(ctx, id, stagedKeys(main, additional))
		return nil, err
	}

	s.assets.DeleteMany(ctx, superseded)
	s.logger.Info("Product updated", zap.String("product_id", id), zap.Int("files_removed", len(superseded)))
	s.afterCommit(ctx, EventProductUpdated, next)
	return s.present(next), nil
}

// AttachImages adds images to an existing product without changing any
// other field.
func (s *ProductService) AttachImages(ctx context.Context, userID, id string, files ImageUploads) (*models.Product, error) {
	if files.empty() {
		return nil, models.NewValidationError("images", "at least one image is required")
	}
	return s.UpdateProduct(ctx, userID, id, ProductInput{}, files)
}

// RemoveImage detaches one image, given by key or URL, and deletes its file.
func (s *ProductService) RemoveImage(ctx context.Context, userID, id, image string) (*models.Product, error) {
	return s.UpdateProduct(ctx, userID, id, ProductInput{RemoveImages: []string{image}}, ImageUploads{})
}

// DeleteProduct deletes the product and then every file it referenced.
// Deleting a product that is already gone succeeds.
func (s *ProductService) DeleteProduct(ctx context.Context, userID, id string) error {
	existing, err := s.owned(ctx, userID, id)
	if errors.Is(err, models.ErrNotFound) {
		s.logger.Debug("Product already deleted", zap.String("product_id", id))
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id, userID); err != nil {
		return err
	}

	keys := existing.ImageKeys()
	s.assets.DeleteMany(ctx, keys)
	s.logger.Info("Product deleted", zap.String("product_id", id), zap.Int("files_removed", len(keys)))
	s.afterCommit(ctx, EventProductDeleted, existing)
	return nil
}

// GetProductByID retrieves a single product by its ID.
func (s *ProductService) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, id)
		if err != nil {
			s.logger.Warn("Product cache read failed", zap.String("product_id", id), zap.Error(err))
		}
		if cached != nil {
			return s.present(cached), nil
		}
	}

	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, p); err != nil {
			s.logger.Warn("Product cache write failed", zap.String("product_id", id), zap.Error(err))
		}
	}
	return s.present(p), nil
}

// ListProducts returns one page of products matching q. Owners are not
// part of listing output.
func (s *ProductService) ListProducts(ctx context.Context, q query.ProductQuery) ([]models.Product, query.Pagination, error) {
	items, total, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, query.Pagination{}, err
	}
	for i := range items {
		s.present(&items[i])
		items[i].UserID = ""
	}
	return items, query.NewPagination(q.Page, q.Limit, total), nil
}

// Categories lists the categories of active products.
func (s *ProductService) Categories(ctx context.Context) ([]string, error) {
	return s.repo.Categories(ctx)
}

// owned loads the product and checks that userID may modify it. The record
// is always read from the store, never from the cache.
func (s *ProductService) owned(ctx context.Context, userID, id string) (*models.Product, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, errors.Wrapf(models.ErrForbidden, "product %s", id)
	}
	return p, nil
}

// detach removes the given images from p and returns their keys.
func (s *ProductService) detach(p *models.Product, identifiers []string) ([]string, error) {
	removed := make([]string, 0, len(identifiers))
	for _, ident := range identifiers {
		key, err := s.assets.Normalize(ident)
		if err != nil {
			return nil, models.NewValidationError("removeImages", "unknown image "+ident)
		}

		switch {
		case p.MainImageKey != nil && *p.MainImageKey == key:
			p.MainImageKey = nil
		case removeKey(&p.AdditionalImageKeys, key):
		default:
			return nil, errors.Wrapf(models.ErrNotFound, "image %s on product %s", key, p.ID)
		}
		removed = append(removed, key)
	}
	return removed, nil
}

func removeKey(keys *[]string, key string) bool {
	for i, k := range *keys {
		if k == key {
			*keys = append((*keys)[:i:i], (*keys)[i+1:]...)
			return true
		}
	}
	return false
}

// stage stores the uploads, main image first. On failure nothing staged by
// this call is left behind.
func (s *ProductService) stage(ctx context.Context, files ImageUploads) (*assets.StoredImage, []assets.StoredImage, error) {
	if files.empty() {
		return nil, nil, nil
	}
	uploads := make([]assets.Upload, 0, len(files.Main)+len(files.Additional))
	uploads = append(uploads, files.Main...)
	uploads = append(uploads, files.Additional...)

	stored, err := s.assets.StoreMany(ctx, uploads)
	if err != nil {
		return nil, nil, err
	}
	if len(files.Main) == 0 {
		return nil, stored, nil
	}
	return &stored[0], stored[1:], nil
}

func stagedKeys(main *assets.StoredImage, additional []assets.StoredImage) []string {
	keys := assets.Keys(additional)
	if main != nil {
		keys = append(keys, main.Key)
	}
	return keys
}

func (s *ProductService) compensate(ctx context.Context, id string, keys []string) {
	if len(keys) == 0 {
		return
	}
	s.logger.Info("Rolling back staged images", zap.String("product_id", id), zap.Strings("keys", keys))
	s.assets.DeleteMany(ctx, keys)
}

// afterCommit drops the cached copy and publishes the event. Both are best
// effort: the write already succeeded.
func (s *ProductService) afterCommit(ctx context.Context, event string, p *models.Product) {
	ctx = context.WithoutCancel(ctx)
	if s.cache != nil {
		if err := s.cache.Delete(ctx, p.ID); err != nil {
			s.logger.Warn("Product cache invalidation failed", zap.String("product_id", p.ID), zap.Error(err))
		}
	}
	if s.events == nil {
		return
	}

	msg := ProductEvent{Event: event, ProductID: p.ID, UserID: p.UserID, OccurredAt: s.now().UTC()}
	if event != EventProductDeleted {
		msg.Product = s.present(p.Clone())
	}
	body, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("Failed to encode product event", zap.String("event", event), zap.Error(err))
		return
	}
	if err := s.events.Publish(EventsExchange, event, body); err != nil {
		s.logger.Warn("Failed to publish product event",
			zap.String("event", event),
			zap.String("product_id", p.ID),
			zap.Error(err),
		)
	}
}

// present fills the read-side fields of p.
func (s *ProductService) present(p *models.Product) *models.Product {
	p.RefreshDerived()
	s.assets.Resolve(p)
	return p
}
