package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Prices and weights are rendered as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Condition describes the physical state of a product.
type Condition string

const (
	ConditionNew         Condition = "new"
	ConditionUsed        Condition = "used"
	ConditionRefurbished Condition = "refurbished"
)

// ParseCondition reports whether s names one of the known conditions.
func ParseCondition(s string) (Condition, bool) {
	switch c := Condition(s); c {
	case ConditionNew, ConditionUsed, ConditionRefurbished:
		return c, true
	}
	return "", false
}

// StockStatus is a coarse, read-time view of the stock level.
type StockStatus string

const (
	StockOut    StockStatus = "out"
	StockLow    StockStatus = "low"
	StockMedium StockStatus = "medium"
	StockHigh   StockStatus = "high"
)

// StockStatusFor buckets a stock count: 0 is out, up to 5 is low, up to 20
// is medium, anything above is high.
func StockStatusFor(stock int) StockStatus {
	switch {
	case stock <= 0:
		return StockOut
	case stock <= 5:
		return StockLow
	case stock <= 20:
		return StockMedium
	default:
		return StockHigh
	}
}

const (
	// MaxAdditionalImages is the per-product cap on secondary images.
	MaxAdditionalImages = 10
	// MaxTags is the per-product cap on tags.
	MaxTags = 20
	// MoneyScale is the number of decimal places price and weight columns keep.
	MoneyScale = 2
)

// Product represents a product in the catalog.
//
// Image state is kept twice: the storage keys are persisted and never leave
// the service, the URLs are derived from the keys at read time by the asset
// manager and are what clients see.
type Product struct {
	ID          string              `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID      string              `json:"userId,omitempty" gorm:"type:varchar(64);index;not null" validate:"required"`
	Name        string              `json:"name" gorm:"type:varchar(255);index;not null" validate:"required,min=2,max=255"`
	Description string              `json:"description,omitempty" gorm:"type:text"`
	Category    string              `json:"category" gorm:"type:varchar(100);index;not null" validate:"required,max=100"`
	Brand       string              `json:"brand,omitempty" gorm:"type:varchar(100)" validate:"max=100"`
	Weight      decimal.NullDecimal `json:"weight" gorm:"type:decimal(8,2)" validate:"omitempty,gte=0,lte=999999.99"`
	Dimensions  string              `json:"dimensions,omitempty" gorm:"type:varchar(100)" validate:"max=100"`
	Tags        []string            `json:"tags" gorm:"type:text;serializer:json" validate:"max=20,dive,required,max=50"`
	Condition   Condition           `json:"condition" gorm:"type:varchar(20);not null" validate:"oneof=new used refurbished"`
	Price       decimal.Decimal     `json:"price" gorm:"type:decimal(10,2);index;not null" validate:"gt=0,lte=99999999.99"`
	Stock       int                 `json:"stock" gorm:"not null" validate:"gte=0"`
	Active      bool                `json:"active" gorm:"index;not null"`
	SKU         string              `json:"sku" gorm:"type:varchar(100);uniqueIndex;not null" validate:"required,max=100"`

	MainImageKey        *string  `json:"-" gorm:"type:varchar(255)"`
	AdditionalImageKeys []string `json:"-" gorm:"type:text;serializer:json" validate:"max=10"`

	MainImageURL        *string     `json:"mainImageUrl" gorm:"-"`
	AdditionalImageURLs []string    `json:"additionalImageUrls" gorm:"-"`
	StockStatus         StockStatus `json:"stockStatus" gorm:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName pins the table name regardless of naming strategy.
func (Product) TableName() string {
	return "products"
}

// ImageKeys returns every storage key referenced by the product, main image
// first.
func (p *Product) ImageKeys() []string {
	keys := make([]string, 0, len(p.AdditionalImageKeys)+1)
	if p.MainImageKey != nil && *p.MainImageKey != "" {
		keys = append(keys, *p.MainImageKey)
	}
	for _, k := range p.AdditionalImageKeys {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// RefreshDerived recomputes the read-only fields that do not depend on
// image storage.
func (p *Product) RefreshDerived() {
	p.StockStatus = StockStatusFor(p.Stock)
	if p.Tags == nil {
		p.Tags = []string{}
	}
}

// Clone returns a deep copy so that a pending update never aliases the
// stored record's slices.
func (p *Product) Clone() *Product {
	c := *p
	c.Tags = append([]string(nil), p.Tags...)
	c.AdditionalImageKeys = append([]string(nil), p.AdditionalImageKeys...)
	c.AdditionalImageURLs = append([]string(nil), p.AdditionalImageURLs...)
	if p.MainImageKey != nil {
		k := *p.MainImageKey
		c.MainImageKey = &k
	}
	if p.MainImageURL != nil {
		u := *p.MainImageURL
		c.MainImageURL = &u
	}
	return &c
}
