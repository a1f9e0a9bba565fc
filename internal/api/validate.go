package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New()
	// Digits only after an optional leading +, between 7 and 15 digits.
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		value := strings.TrimPrefix(fl.Field().String(), "+")
		if len(value) < 7 || len(value) > 15 {
			return false
		}
		for _, char := range value {
			if char < '0' || char > '9' {
				return false
			}
		}
		return true
	})
	return v
}

func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return errors.New("validation failed: " + strings.Join(parts, "; "))
}
