package datastore

import (
	"fmt"
	"strings"
)

// Cache backends accepted by Open.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// DefaultMemoryCapacity bounds the in-memory cache.
const DefaultMemoryCapacity = 10000

// Open builds the configured cache. BackendNone returns (nil, nil) and callers
// treat a nil cache as "caching disabled".
func Open(backend, path string) (TranslationCache, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendNone, "":
		return nil, nil
	case BackendMemory:
		return NewMemory(DefaultMemoryCapacity), nil
	case BackendSQLite:
		c, err := NewSQLCache(path)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w %q (valid: %s, %s, %s)", ErrUnknownBackend, backend, BackendNone, BackendMemory, BackendSQLite)
	}
}
