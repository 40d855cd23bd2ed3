package httpx

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var snakeCase = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// NewValidator returns a validator reporting JSON field names and supporting the
// snake_case tag.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("snake_case", func(fl validator.FieldLevel) bool {
		return snakeCase.MatchString(fl.Field().String())
	})
	return v
}
