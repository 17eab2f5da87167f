package query

import (
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"katalog/internal/models"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func column(name string) clause.Column {
	return clause.Column{Table: clause.CurrentTable, Name: name}
}

// containsExpr is a case-insensitive substring match that treats LIKE
// wildcards in the input literally.
func containsExpr(col, term string) clause.Expression {
	return clause.Expr{
		SQL:  `LOWER(?) LIKE ? ESCAPE '\'`,
		Vars: []any{column(col), "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"},
	}
}

// tagsOverlapExpr matches rows sharing at least one tag with tags. Tags are
// stored as a JSON array of strings.
func tagsOverlapExpr(dialect string, tags []string) clause.Expression {
	sql := `EXISTS (SELECT 1 FROM json_each(?) WHERE json_each.value IN ?)`
	if dialect == "postgres" {
		sql = `EXISTS (SELECT 1 FROM jsonb_array_elements_text(COALESCE(?, '[]')::jsonb) AS t(tag) WHERE t.tag IN ?)`
	}
	return clause.Expr{SQL: sql, Vars: []any{column(models.ColumnTags), tags}}
}

// Filter applies every filter of q. All values travel as bind variables;
// column names come from the models field catalog only.
func (q ProductQuery) Filter(db *gorm.DB) *gorm.DB {
	eq := func(col string, v any) {
		db = db.Where(clause.Eq{Column: column(col), Value: v})
	}

	if q.Active != nil {
		eq(models.ColumnActive, *q.Active)
	}
	if q.OwnerID != "" {
		eq(models.ColumnUserID, q.OwnerID)
	}
	if q.Category != "" {
		eq(models.ColumnCategory, q.Category)
	}
	if q.Brand != "" {
		eq(models.ColumnBrand, q.Brand)
	}
	if q.Condition != "" {
		eq(models.ColumnCondition, string(q.Condition))
	}
	if q.SKU != "" {
		db = db.Where(containsExpr(models.ColumnSKU, q.SKU))
	}
	if q.PriceMin != nil {
		db = db.Where(clause.Gte{Column: column(models.ColumnPrice), Value: *q.PriceMin})
	}
	if q.PriceMax != nil {
		db = db.Where(clause.Lte{Column: column(models.ColumnPrice), Value: *q.PriceMax})
	}
	if q.StockMin != nil {
		db = db.Where(clause.Gte{Column: column(models.ColumnStock), Value: *q.StockMin})
	}
	if q.StockMax != nil {
		db = db.Where(clause.Lte{Column: column(models.ColumnStock), Value: *q.StockMax})
	}
	if len(q.Tags) > 0 {
		db = db.Where(tagsOverlapExpr(db.Dialector.Name(), q.Tags))
	}
	if q.Search != "" {
		cols := models.SearchColumns()
		exprs := make([]clause.Expression, len(cols))
		for i, col := range cols {
			exprs[i] = containsExpr(col, q.Search)
		}
		db = db.Where(clause.Or(exprs...))
	}
	return db
}

// Sort orders by the requested column and then by id, so rows that tie on
// the primary key keep the same order from one page request to the next.
func (q ProductQuery) Sort(db *gorm.DB) *gorm.DB {
	col := q.sortField
	if col == "" {
		col = models.ColumnCreatedAt
	}
	return db.
		Order(clause.OrderByColumn{Column: column(col), Desc: q.SortDesc}).
		Order(clause.OrderByColumn{Column: column(models.ColumnID)})
}

// Paginate limits the statement to the requested page.
func (q ProductQuery) Paginate(db *gorm.DB) *gorm.DB {
	return db.Offset(q.Offset()).Limit(q.Limit)
}
