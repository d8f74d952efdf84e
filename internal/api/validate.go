package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidPayload is returned when a request body fails validation.
var ErrInvalidPayload = errors.New("invalid payload")

var validate = validator.New(validator.WithRequiredStructEnabled())

// validatePayload checks v's struct tags and reports every failing field.
func validatePayload(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			fields = append(fields, fmt.Sprintf("%s (%s=%s)", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(fields, ", "))
}
