package models

import "strings"

// Column names used by the query engine. Anything that ends up in an ORDER
// BY or a raw WHERE fragment must come from here, never from the request.
const (
	ColumnID          = "id"
	ColumnUserID      = "user_id"
	ColumnName        = "name"
	ColumnDescription = "description"
	ColumnCategory    = "category"
	ColumnBrand       = "brand"
	ColumnSKU         = "sku"
	ColumnCondition   = "condition"
	ColumnPrice       = "price"
	ColumnStock       = "stock"
	ColumnActive      = "active"
	ColumnTags        = "tags"
	ColumnCreatedAt   = "created_at"
	ColumnUpdatedAt   = "updated_at"
)

var sortableColumns = map[string]string{
	"name":      ColumnName,
	"price":     ColumnPrice,
	"stock":     ColumnStock,
	"createdAt": ColumnCreatedAt,
	"updatedAt": ColumnUpdatedAt,
	"brand":     ColumnBrand,
}

// SortColumn maps a public sort name to its column.
func SortColumn(name string) (string, bool) {
	col, ok := sortableColumns[name]
	return col, ok
}

// SearchColumns returns the columns matched by free-text search.
func SearchColumns() []string {
	return []string{ColumnName, ColumnDescription, ColumnBrand, ColumnSKU, ColumnCategory}
}

// NormalizeTags trims every tag, drops empty entries and duplicates, and
// keeps first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// SplitTags splits a comma separated tag string and normalizes the result.
func SplitTags(s string) []string {
	return NormalizeTags(strings.Split(s, ","))
}
