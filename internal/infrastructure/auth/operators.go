package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Operators holds the bcrypt password hashes of the people allowed to call
// the operator API
type Operators struct {
	hashes map[string][]byte
}

// ParseOperators reads name:hash entries
func ParseOperators(entries []string) (*Operators, error) {
	ops := &Operators{hashes: make(map[string][]byte, len(entries))}
	for _, entry := range entries {
		name, hash, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("auth: malformed operator entry %q", name)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("auth: operator %s: %w", name, err)
		}
		ops.hashes[name] = []byte(hash)
	}
	return ops, nil
}

// Verify checks password against the stored hash for name
func (o *Operators) Verify(name, password string) error {
	hash, ok := o.hashes[name]
	if !ok {
		// equal cost whether or not the operator exists
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Len returns the number of configured operators
func (o *Operators) Len() int {
	return len(o.hashes)
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("opscore-missing-operator"), bcrypt.DefaultCost)

// HashPassword returns the bcrypt hash stored in auth.operators
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
