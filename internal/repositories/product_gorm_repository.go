package repositories

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"katalog/internal/models"
	"katalog/internal/query"
)

// GORMProductRepository is a GORM implementation of ProductRepository.
type GORMProductRepository struct {
	db *gorm.DB
}

// NewGORMProductRepository creates a new instance of GORMProductRepository.
func NewGORMProductRepository(db *gorm.DB) *GORMProductRepository {
	return &GORMProductRepository{
		db: db,
	}
}

// GetByID retrieves a single product by its ID.
func (r *GORMProductRepository) GetByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, clause.Eq{Column: models.ColumnID, Value: id}).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(models.ErrNotFound, "product %s", id)
		}
		return nil, errors.Wrapf(err, "get product %s", id)
	}
	return &product, nil
}

// Create inserts a new product, assigning an ID when none is set.
func (r *GORMProductRepository) Create(ctx context.Context, product *models.Product) error {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(product).Error; err != nil {
		if isDuplicateKey(err) {
			return errors.Wrapf(models.ErrDuplicateSKU, "sku %s", product.SKU)
		}
		return errors.Wrap(err, "create product")
	}
	return nil
}

// Update writes all columns except the immutable ones, zero values included.
func (r *GORMProductRepository) Update(ctx context.Context, product *models.Product) error {
	res := r.db.WithContext(ctx).
		Model(product).
		Where(clause.Eq{Column: models.ColumnUserID, Value: product.UserID}).
		Select("*").
		Omit(models.ColumnID, models.ColumnUserID, models.ColumnCreatedAt).
		Updates(product)
	if res.Error != nil {
		if isDuplicateKey(res.Error) {
			return errors.Wrapf(models.ErrDuplicateSKU, "sku %s", product.SKU)
		}
		return errors.Wrapf(res.Error, "update product %s", product.ID)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(models.ErrNotFound, "product %s", product.ID)
	}
	return nil
}

// Delete removes a product owned by ownerID.
func (r *GORMProductRepository) Delete(ctx context.Context, id, ownerID string) error {
	res := r.db.WithContext(ctx).
		Where(clause.Eq{Column: models.ColumnID, Value: id}).
		Where(clause.Eq{Column: models.ColumnUserID, Value: ownerID}).
		Delete(&models.Product{})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "delete product %s", id)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(models.ErrNotFound, "product %s", id)
	}
	return nil
}

// List returns one page of products matching q together with the number
// of matches across all pages.
func (r *GORMProductRepository) List(ctx context.Context, q query.ProductQuery) ([]models.Product, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Scopes(q.Filter).
		Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count products")
	}

	products := make([]models.Product, 0, q.Limit)
	if total == 0 {
		return products, 0, nil
	}
	if err := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Scopes(q.Filter, q.Sort, q.Paginate).
		Find(&products).Error; err != nil {
		return nil, 0, errors.Wrap(err, "list products")
	}
	return products, total, nil
}

// Categories returns the distinct categories of active products, sorted.
func (r *GORMProductRepository) Categories(ctx context.Context) ([]string, error) {
	categories := []string{}
	if err := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where(clause.Eq{Column: models.ColumnActive, Value: true}).
		Distinct(models.ColumnCategory).
		Order(models.ColumnCategory).
		Pluck(models.ColumnCategory, &categories).Error; err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	return categories, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
