package cache

import (
	"errors"
	"fmt"
	"strings"
)

// MaxKeyLength is the maximum allowed length of a normalized cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrNilStore           = errors.New("cache: store is nil")
	ErrInvalidKey         = errors.New("cache: key is invalid")
	ErrKeyTooLong         = errors.New("cache: key exceeds max length")
	ErrUnserializableKey  = errors.New("cache: key is not serializable")
	ErrEntryNotFound      = errors.New("cache: entry not found")
	ErrHasSubscribers     = errors.New("cache: entry has subscribers")
)

// StaleKeyError reports a key that cannot be normalized. It is returned
// synchronously by NewKey and by every subscribe path that accepts raw keys.
type StaleKeyError struct {
	Key any
	Err error
}

func (e *StaleKeyError) Error() string {
	return fmt.Sprintf("cache: bad key %v: %v", e.Key, e.Err)
}

func (e *StaleKeyError) Unwrap() error {
	return e.Err
}

// ValidateKey checks a string key part.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
