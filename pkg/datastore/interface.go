// Package datastore persists successful translations so repeated phrases
// ("hello", "how are you?") skip the remote gateway. Rooms and messages are
// never stored.
package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/NicolasHaas/parley/pkg/model"
)

var (
	ErrEmptyKey         = errors.New("datastore: translation key must not be empty")
	ErrEmptyTranslation = errors.New("datastore: translated text must not be empty")
	ErrUnknownBackend   = errors.New("datastore: unknown cache backend")
)

// TranslationCache defines the storage interface for cached translations.
// Implementations include the SQLite cache and an in-memory LRU for tests
// and single-process deployments.
type TranslationCache interface {
	// Get returns the cached translation for key and records a hit.
	// Returns (nil, nil) if not found.
	Get(ctx context.Context, key string) (*model.Translation, error)

	// Put inserts or refreshes a translation.
	Put(ctx context.Context, t *model.Translation) error

	// Prune deletes entries not used since the cutoff and reports how many.
	Prune(ctx context.Context, unusedSince time.Time) (int64, error)

	// Count returns the number of cached entries.
	Count(ctx context.Context) (int64, error)

	Close() error
}

func validateEntry(t *model.Translation) error {
	if t.Key == "" {
		return ErrEmptyKey
	}
	if t.TranslatedText == "" {
		return ErrEmptyTranslation
	}
	return nil
}
