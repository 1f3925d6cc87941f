package service

import (
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

var nameCharset = regexp.MustCompile(`^[\p{L}\s\-']+$`)

type registerFields struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func validateRegister(f registerFields) error {
	err := validation.ValidateStruct(&f,
		validation.Field(&f.Name,
			validation.Required.Error("name is required"),
			validation.RuneLength(2, 50).Error("name must be between 2 and 50 characters"),
			validation.Match(nameCharset).Error("name can only contain letters, spaces, hyphens, and apostrophes"),
		),
		validation.Field(&f.Email,
			validation.Required.Error("email is required"),
			is.Email.Error("please enter a valid email"),
		),
		validation.Field(&f.Password,
			validation.Required.Error("password is required"),
			validation.RuneLength(6, 128).Error("password must be between 6 and 128 characters"),
		),
	)
	return toValidationError(err)
}

// toValidationError traduce validation.Errors al ValidationError del servicio.
func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for field, fieldErr := range verrs {
			fields[field] = fieldErr.Error()
		}
		return &ValidationError{Fields: fields}
	}
	return err
}
