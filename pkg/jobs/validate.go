package jobs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tuskdata/tusk/pkg/types"
)

// newValidator builds the validator used for query descriptors
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("nonblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// validateQuery checks a query descriptor and reports the first offending field
func validateQuery(v *validator.Validate, q types.QuerySpec) error {
	err := v.Struct(q)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required", "nonblank":
			return fmt.Errorf("query %s must not be empty: %w", strings.ToLower(fe.Field()), types.ErrValidation)
		case "max":
			return fmt.Errorf("query %s exceeds limit %s: %w", strings.ToLower(fe.Field()), fe.Param(), types.ErrValidation)
		default:
			return fmt.Errorf("query %s failed %q check: %w", strings.ToLower(fe.Field()), fe.Tag(), types.ErrValidation)
		}
	}
	return fmt.Errorf("%v: %w", err, types.ErrValidation)
}
