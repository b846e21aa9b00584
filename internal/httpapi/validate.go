package httpapi

import (
	"errors"
	"strings"

	"carecue/internal/reminder"

	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return reminder.TimeOfDay(fl.Field().String()).Valid()
	})
	return v
}

// validationMessage flattens validator errors into one line using JSON-ish
// field names.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, toSnake(fe.Field())+" ["+fe.Tag()+"]")
	}
	return "invalid fields: " + strings.Join(parts, ", ")
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
