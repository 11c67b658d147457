package domain

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrNoLinkedPaths is returned when a network has nothing to serve.
var ErrNoLinkedPaths = errors.New("no linked paths given")

var validate = validator.New()

// ValidateLinkedPath checks a single linked path.
func ValidateLinkedPath(lp LinkedPath) error {
	return formatValidationError(validate.Struct(lp))
}

// ValidateNetwork checks a network before it is stored or served. Duplicate
// linked path names are rejected since each name becomes a route prefix.
func ValidateNetwork(n Network) error {
	if len(n.LinkedPaths) == 0 {
		return ErrNoLinkedPaths
	}
	return formatValidationError(validate.Struct(n))
}

func formatValidationError(err error) error {
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		if e.Tag() == "unique" {
			return fmt.Errorf("%s: linked path names must be unique", e.Namespace())
		}
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
