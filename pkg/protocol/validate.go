package protocol

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
	// report wire names ("roomId") rather than Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationError lists the offending fields of an inbound payload.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "protocol: invalid fields: " + strings.Join(e.Fields, ", ")
}

// Validate checks struct tags on an inbound payload.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("protocol: validate: %w", err)
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
	}
	return out
}
