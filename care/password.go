package care

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/medguardian/adherence-engine/adherence"
)

const (
	minPasswordLen = 6
	maxPasswordLen = 72 // bcrypt ignores anything longer
)

// ErrInvalidCredentials is returned by Login for an unknown user or a wrong
// password alike.
var ErrInvalidCredentials = errors.New("invalid username or password")

// HashPassword returns the bcrypt hash of plain at the given cost.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// VerifyPassword reports whether plain matches hash.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

func validatePassword(plain string) error {
	switch {
	case plain == "":
		return &adherence.ValidationError{Field: "password", Message: "is required"}
	case len(plain) < minPasswordLen:
		return &adherence.ValidationError{Field: "password", Message: fmt.Sprintf("must be at least %d characters", minPasswordLen)}
	case len(plain) > maxPasswordLen:
		return &adherence.ValidationError{Field: "password", Message: fmt.Sprintf("must be at most %d bytes", maxPasswordLen)}
	}
	return nil
}
