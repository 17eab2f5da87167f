package services

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"katalog/internal/models"
)

// ProductInput holds the client-writable product fields. A nil field was not
// supplied and leaves the stored value alone on update.
type ProductInput struct {
	Name        *string
	Description *string
	Category    *string
	Brand       *string
	Dimensions  *string
	SKU         *string
	Condition   *string
	Weight      *decimal.NullDecimal
	Price       *decimal.Decimal
	Stock       *int
	Active      *bool
	Tags        *[]string

	// RemoveImages lists image keys or URLs to detach on update.
	RemoveImages []string
}

// ParseProductInput coerces loosely typed request values, as produced by a
// multipart form or a decoded JSON object, into a ProductInput. Numbers and
// booleans may arrive as text. Server-owned fields such as id and userId are
// ignored.
func ParseProductInput(raw map[string]any) (ProductInput, error) {
	var (
		in   ProductInput
		errs = map[string]string{}
	)

	str := func(key string) *string {
		v, ok := raw[key]
		if !ok || v == nil {
			return nil
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			errs[key] = "must be a string"
			return nil
		}
		s = strings.TrimSpace(s)
		return &s
	}

	in.Name = str("name")
	in.Description = str("description")
	in.Category = str("category")
	in.Brand = str("brand")
	in.Dimensions = str("dimensions")
	in.Condition = str("condition")
	if sku := str("sku"); sku != nil && *sku != "" {
		in.SKU = sku
	}

	if v, ok := raw["price"]; ok && !blank(v) {
		d, err := toDecimal(v)
		if err != nil {
			errs["price"] = "must be a number"
		} else {
			in.Price = &d
		}
	}

	if v, ok := raw["weight"]; ok {
		if v == nil {
			in.Weight = &decimal.NullDecimal{}
		} else if !blank(v) {
			d, err := toDecimal(v)
			if err != nil {
				errs["weight"] = "must be a number"
			} else {
				w := decimal.NewNullDecimal(d)
				in.Weight = &w
			}
		}
	}

	if v, ok := raw["stock"]; ok && !blank(v) {
		n, err := toInt(v)
		if err != nil {
			errs["stock"] = "must be an integer"
		} else {
			in.Stock = &n
		}
	}

	if v, ok := raw["active"]; ok && !blank(v) {
		b, err := cast.ToBoolE(v)
		if err != nil {
			errs["active"] = "must be true or false"
		} else {
			in.Active = &b
		}
	}

	if v, ok := raw["tags"]; ok && v != nil {
		tags, err := toList(v)
		if err != nil {
			errs["tags"] = "must be a list or a comma separated string"
		} else {
			in.Tags = &tags
		}
	}

	if v, ok := raw["removeImages"]; ok && v != nil {
		keys, err := toList(v)
		if err != nil {
			errs["removeImages"] = "must be a list or a comma separated string"
		} else {
			in.RemoveImages = keys
		}
	}

	if len(errs) > 0 {
		return ProductInput{}, &models.ValidationError{Fields: errs}
	}
	return in, nil
}

// Apply copies every supplied field onto p.
func (in ProductInput) Apply(p *models.Product) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&p.Name, in.Name)
	setString(&p.Description, in.Description)
	setString(&p.Category, in.Category)
	setString(&p.Brand, in.Brand)
	setString(&p.Dimensions, in.Dimensions)
	setString(&p.SKU, in.SKU)
	if in.Condition != nil {
		p.Condition = models.Condition(strings.ToLower(*in.Condition))
	}
	if in.Weight != nil {
		p.Weight = *in.Weight
	}
	if in.Price != nil {
		p.Price = *in.Price
	}
	if in.Stock != nil {
		p.Stock = *in.Stock
	}
	if in.Active != nil {
		p.Active = *in.Active
	}
	if in.Tags != nil {
		p.Tags = append([]string(nil), (*in.Tags)...)
	}
}

func blank(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func toDecimal(v any) (decimal.Decimal, error) {
	if d, ok := v.(decimal.Decimal); ok {
		return d, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(strings.TrimSpace(s))
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case string:
		// Parsed in base 10 only; "08" is eight, not an octal error.
		return strconv.Atoi(strings.TrimSpace(t))
	case float64:
		if t != math.Trunc(t) {
			return 0, strconv.ErrSyntax
		}
	}
	return cast.ToIntE(v)
}

func toList(v any) ([]string, error) {
	if s, ok := v.(string); ok {
		return models.SplitTags(s), nil
	}
	items, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil, err
	}
	return models.NormalizeTags(items), nil
}
