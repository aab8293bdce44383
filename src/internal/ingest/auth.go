package ingest

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized is returned when an ingest API key is missing or wrong.
var ErrUnauthorized = errors.New("invalid or missing API key")

// keyChecker verifies ingest API keys against a bcrypt hash. The last key
// that matched is remembered so steady traffic skips the bcrypt cost.
type keyChecker struct {
	hash     []byte
	verified atomic.Value // string
}

func newKeyChecker(hash string) (*keyChecker, error) {
	if hash == "" {
		return nil, nil
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid API key hash: %w", err)
	}
	return &keyChecker{hash: []byte(hash)}, nil
}

// check is a no-op on a nil checker.
func (k *keyChecker) check(key string) error {
	if k == nil {
		return nil
	}
	if key == "" {
		return ErrUnauthorized
	}

	if cached, _ := k.verified.Load().(string); cached != "" &&
		subtle.ConstantTimeCompare([]byte(cached), []byte(key)) == 1 {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword(k.hash, []byte(key)); err != nil {
		return ErrUnauthorized
	}
	k.verified.Store(key)
	return nil
}
