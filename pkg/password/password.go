package password

import (
	passwordvalidator "github.com/wagslane/go-password-validator"
)

// minEntropy matches the strength the signup form's indicator treats as acceptable.
const minEntropy = 60

// Validate reports whether the password is strong enough to submit at signup.
// The returned error carries the validator's suggestion and is suitable for
// showing to the user as-is.
func Validate(password string) error {
	return passwordvalidator.Validate(password, minEntropy)
}
