package repositories

import (
	"context"

	"katalog/internal/models"
	"katalog/internal/query"
)

// ProductRepository defines the interface for product data access.
type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*models.Product, error)
	Create(ctx context.Context, product *models.Product) error
	// Update writes every mutable field of product. The row is matched on
	// both id and owner, so a foreign owner sees models.ErrNotFound.
	Update(ctx context.Context, product *models.Product) error
	Delete(ctx context.Context, id, ownerID string) error
	List(ctx context.Context, q query.ProductQuery) ([]models.Product, int64, error)
	Categories(ctx context.Context) ([]string, error)
}
