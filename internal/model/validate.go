package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the integration-independent invariants of a destination.
// Adapter-specific checks live with the adapters.
func (d *Destination) Validate() error {
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	for _, pattern := range d.EventTypes {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("%w: event_types must not contain empty entries", ErrConfiguration)
		}
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
