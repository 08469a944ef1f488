// Package validation wraps go-playground/validator with the custom
// tags tradecore's request DTOs use (positive fixed-point price and
// quantity). Validation failures surface as ErrValidation with a
// message naming the offending fields, never implementation details.
package validation

import (
	"strings"

	validator "github.com/go-playground/validator/v10"

	trerr "github.com/shrivenq/tradecore/pkg/errors"
	"github.com/shrivenq/tradecore/pkg/num"
)

// Validator validates request structs by their `validate` tags.
type Validator struct {
	validate *validator.Validate
}

// New registers tradecore's custom tags on a fresh validator.
func New() *Validator {
	v := validator.New()

	// qty: a positive fixed-point quantity.
	_ = v.RegisterValidation("qty", func(fl validator.FieldLevel) bool {
		q, ok := fl.Field().Interface().(num.Qty)
		return ok && q.Sign() > 0
	})
	// price: a positive fixed-point price (applied to dereferenced
	// optional prices via the omitempty chain).
	_ = v.RegisterValidation("price", func(fl validator.FieldLevel) bool {
		p, ok := fl.Field().Interface().(num.Price)
		return ok && p.Sign() > 0
	})

	return &Validator{validate: v}
}

// Struct validates s, converting any tag failures into a single
// ErrValidation whose message lists field and rule.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return trerr.Wrap(err, trerr.ErrValidation, "request validation failed")
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return trerr.New(trerr.ErrValidation, "invalid request: "+strings.Join(parts, "; "))
}
