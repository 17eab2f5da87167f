package models

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func productValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		// Report JSON names so messages match what the client sent.
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{}, decimal.NullDecimal{})
		validate = v
	})
	return validate
}

func decimalValue(v reflect.Value) any {
	switch d := v.Interface().(type) {
	case decimal.Decimal:
		return d.InexactFloat64()
	case decimal.NullDecimal:
		if !d.Valid {
			return nil
		}
		return d.Decimal.InexactFloat64()
	}
	return nil
}

// Validate checks the entity invariants. It returns a *ValidationError
// listing every offending field.
func (p *Product) Validate() error {
	verr := &ValidationError{Fields: map[string]string{}}
	if err := productValidator().Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			verr.Fields[fieldName(fe)] = describe(fe)
		}
	}

	// The columns would round these silently.
	scaleMsg := fmt.Sprintf("must have at most %d decimal places", MoneyScale)
	if _, bad := verr.Fields["price"]; !bad && !fitsScale(p.Price) {
		verr.Fields["price"] = scaleMsg
	}
	if _, bad := verr.Fields["weight"]; !bad && p.Weight.Valid && !fitsScale(p.Weight.Decimal) {
		verr.Fields["weight"] = scaleMsg
	}

	if len(verr.Fields) == 0 {
		return nil
	}
	return verr
}

func fitsScale(d decimal.Decimal) bool {
	return d.Truncate(MoneyScale).Equal(d)
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at most %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("failed on the '%s' rule", fe.Tag())
	}
}
