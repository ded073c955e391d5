package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/edupoll/edupoll/internal/scheduler"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			return strings.SplitN(f.Tag.Get("koanf"), ",", 2)[0]
		})
	})
	return validate
}

// ValidationError lists every invalid field.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "config: invalid " + strings.Join(e.Fields, "; ")
}

// Validate checks field constraints and the cron expression.
func (c *Config) Validate() error {
	var fields []string
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config: validate: %w", err)
		}
		for _, fe := range verrs {
			fields = append(fields, describe(fe))
		}
	}
	if c.Sync.Cron != "" {
		if err := scheduler.ValidateCron(c.Sync.Cron, time.Now()); err != nil {
			fields = append(fields, "sync.cron: "+err.Error())
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// describe renders a field error with its dotted koanf path.
func describe(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s: must be one of %s", ns, fe.Param())
	case "gte", "min":
		return fmt.Sprintf("%s: must be at least %s", ns, fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s: must be at most %s", ns, fe.Param())
	case "required":
		return fmt.Sprintf("%s: is required", ns)
	}
	return fmt.Sprintf("%s: failed %s", ns, fe.Tag())
}
