package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their YAML key.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return err
	}

	if c.Realtime.ReconnectionDelayMax < c.Realtime.ReconnectionDelay {
		return fmt.Errorf("realtime.reconnection_delay_max (%s) cannot be less than reconnection_delay (%s)",
			c.Realtime.ReconnectionDelayMax, c.Realtime.ReconnectionDelay)
	}
	if c.API.RateLimit > 0 && c.API.RateBurst < 1 {
		return errors.New("api.rate_burst must be >= 1 when api.rate_limit is set")
	}
	if c.Watch.ConnectTimeout > c.Watch.SweepInterval {
		return fmt.Errorf("watch.connect_timeout (%s) cannot exceed sweep_interval (%s)",
			c.Watch.ConnectTimeout, c.Watch.SweepInterval)
	}

	return nil
}

// fieldError renders a validator failure as "<yaml.path> <problem>".
func fieldError(fe validator.FieldError) error {
	path := fe.Namespace()
	if i := strings.IndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}

	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", path)
	case "url":
		return fmt.Errorf("%s must be a valid URL", path)
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %q", path, fe.Param(), fmt.Sprint(fe.Value()))
	case "gte", "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Errorf("%s must have at least %s entries", path, fe.Param())
		}
		return fmt.Errorf("%s must be >= %s", path, fe.Param())
	case "max":
		return fmt.Errorf("%s must be <= %s", path, fe.Param())
	case "gt":
		return fmt.Errorf("%s must be > %s", path, fe.Param())
	case "startswith":
		return fmt.Errorf("%s must start with %q", path, fe.Param())
	default:
		return fmt.Errorf("%s failed %s validation", path, fe.Tag())
	}
}
