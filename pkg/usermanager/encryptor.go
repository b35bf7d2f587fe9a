package usermanager

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordEncryptor turns plain passwords into their stored form and checks
// login attempts against it.
type PasswordEncryptor interface {
	Encrypt(password string) (string, error)
	Matches(password, stored string) bool
}

// ClearTextEncryptor stores passwords as-is. Only suitable for tests and
// throwaway setups.
type ClearTextEncryptor struct{}

// Encrypt implements PasswordEncryptor.
func (ClearTextEncryptor) Encrypt(password string) (string, error) {
	return password, nil
}

// Matches implements PasswordEncryptor.
func (ClearTextEncryptor) Matches(password, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
}

// BcryptEncryptor stores bcrypt hashes.
type BcryptEncryptor struct {
	// Cost defaults to bcrypt.DefaultCost.
	Cost int
}

// Encrypt implements PasswordEncryptor.
func (b BcryptEncryptor) Encrypt(password string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Matches implements PasswordEncryptor.
func (BcryptEncryptor) Matches(password, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// NewEncryptor returns the encryptor for a configuration name: "clear" or
// "bcrypt".
func NewEncryptor(name string) (PasswordEncryptor, error) {
	switch name {
	case "", "bcrypt":
		return BcryptEncryptor{}, nil
	case "clear":
		return ClearTextEncryptor{}, nil
	default:
		return nil, fmt.Errorf("unknown password encryption %q", name)
	}
}
