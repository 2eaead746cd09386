package user

import (
	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", NewError(KindEncodeError, "HashPassword", err)
	}
	return string(hash), nil
}

// CheckPassword verifies password against a bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Migrate hashes a legacy plaintext Password into PasswordHash and blanks
// Password, leaving an already-migrated record (PasswordHash already set,
// or Password already empty) untouched. Callers persist the record after
// a successful migration.
func (u *UserDo) Migrate() error {
	if u.PasswordHash != nil || u.Password == "" {
		return nil
	}
	hash, err := HashPassword(u.Password)
	if err != nil {
		return err
	}
	u.PasswordHash = &hash
	u.Password = ""
	return nil
}
