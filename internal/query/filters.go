// Package query turns untrusted listing parameters into a validated product
// query and applies it to a gorm statement.
package query

import (
	"math"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"katalog/internal/models"
)

// ErrInvalidFilter is returned for filter values that cannot be applied.
var ErrInvalidFilter = errors.New("invalid filter")

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 50

	defaultSort = "createdAt"
	// ActiveAll disables the default active=true filter.
	ActiveAll = "all"
)

// ProductQuery is a validated listing request. Build it with Parse; the
// zero value is not a usable query.
type ProductQuery struct {
	Category  string
	Brand     string
	SKU       string
	Search    string
	Condition models.Condition
	PriceMin  *decimal.Decimal
	PriceMax  *decimal.Decimal
	StockMin  *int
	StockMax  *int
	Tags      []string
	// Active is nil when both active and inactive products are wanted.
	Active  *bool
	OwnerID string

	OrderBy   string
	SortDesc  bool
	Page      int
	Limit     int
	sortField string
}

// Parse validates raw listing parameters. Unknown keys are ignored.
func Parse(params map[string]string) (ProductQuery, error) {
	get := func(key string) string { return strings.TrimSpace(params[key]) }

	q := ProductQuery{
		Category: get("category"),
		Brand:    get("brand"),
		SKU:      get("sku"),
		Search:   get("search"),
		OwnerID:  get("ownerId"),
		Page:     positiveOr(get("page"), DefaultPage),
		Limit:    positiveOr(get("limit"), DefaultLimit),
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	// Pages past this point are all empty; the cap keeps Offset from
	// overflowing.
	if maxPage := math.MaxInt / q.Limit; q.Page > maxPage {
		q.Page = maxPage
	}

	if c, ok := models.ParseCondition(get("condition")); ok {
		q.Condition = c
	}
	if tags := get("tags"); tags != "" {
		q.Tags = models.SplitTags(tags)
	}

	var err error
	if q.PriceMin, err = parseDecimal("priceMin", get("priceMin")); err != nil {
		return ProductQuery{}, err
	}
	if q.PriceMax, err = parseDecimal("priceMax", get("priceMax")); err != nil {
		return ProductQuery{}, err
	}
	if q.PriceMin != nil && q.PriceMax != nil && q.PriceMin.GreaterThan(*q.PriceMax) {
		return ProductQuery{}, errors.Wrap(ErrInvalidFilter, "priceMin is greater than priceMax")
	}

	if q.StockMin, err = parseCount("stockMin", get("stockMin")); err != nil {
		return ProductQuery{}, err
	}
	if q.StockMax, err = parseCount("stockMax", get("stockMax")); err != nil {
		return ProductQuery{}, err
	}
	if q.StockMin != nil && q.StockMax != nil && *q.StockMin > *q.StockMax {
		return ProductQuery{}, errors.Wrap(ErrInvalidFilter, "stockMin is greater than stockMax")
	}

	if q.Active, err = parseActive(get("active")); err != nil {
		return ProductQuery{}, err
	}

	q.setSort(get("orderBy"), get("orderDirection"))
	return q, nil
}

// Offset is the number of rows skipped before the current page.
func (q ProductQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// SortColumn is the column the primary ordering uses.
func (q ProductQuery) SortColumn() string {
	return q.sortField
}

func (q *ProductQuery) setSort(orderBy, direction string) {
	col, ok := models.SortColumn(orderBy)
	if !ok {
		// Unknown sort fields never reach the database.
		q.OrderBy = defaultSort
		q.sortField, _ = models.SortColumn(defaultSort)
		q.SortDesc = true
		return
	}
	q.OrderBy = orderBy
	q.sortField = col
	q.SortDesc = !strings.EqualFold(direction, "asc")
}

func positiveOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func parseDecimal(name, s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidFilter, "%s must be a number", name)
	}
	if d.IsNegative() {
		return nil, errors.Wrapf(ErrInvalidFilter, "%s must not be negative", name)
	}
	return &d, nil
}

func parseCount(name, s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidFilter, "%s must be an integer", name)
	}
	if n < 0 {
		return nil, errors.Wrapf(ErrInvalidFilter, "%s must not be negative", name)
	}
	return &n, nil
}

func parseActive(s string) (*bool, error) {
	switch {
	case s == "":
		active := true
		return &active, nil
	case strings.EqualFold(s, ActiveAll):
		return nil, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidFilter, "active must be true, false or %s", ActiveAll)
	}
	return &b, nil
}
