package registration

import (
	"fmt"
	"regexp"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const minPasswordLen = 8

// Local-format mobile numbers: leading 0, then 9 digits (e.g. 0912345678).
var phonePattern = regexp.MustCompile(`^0\d{9}$`)

// ValidatePassword enforces length and composition: at least 8 characters with
// an upper-case letter, a lower-case letter, and a digit.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLen)
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return fmt.Errorf("%w: password must contain upper-case, lower-case and digit characters", ErrValidation)
	}
	return nil
}

// ValidatePhone checks the phone format.
func ValidatePhone(phone string) error {
	if !phonePattern.MatchString(phone) {
		return fmt.Errorf("%w: phone must be 10 digits starting with 0", ErrValidation)
	}
	return nil
}

// RegisterValidations registers the registration-specific rules on a
// validator.Validate so request DTOs can use them as tags.
func RegisterValidations(v *validator.Validate) {
	_ = v.RegisterValidation("strongpassword", func(fl validator.FieldLevel) bool {
		return ValidatePassword(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("localphone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
}
