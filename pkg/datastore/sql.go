package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/parley/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// SQLCache stores translations in a SQLite database.
type SQLCache struct {
	DB  *sql.DB
	now func() time.Time
}

// Compile-time check: *SQLCache implements TranslationCache.
var _ TranslationCache = (*SQLCache)(nil)

// NewSQLCache opens (or creates) a SQLite database and runs migrations.
func NewSQLCache(dbPath string) (*SQLCache, error) {
	if dbPath == "" {
		return nil, errors.New("datastore: sqlite cache needs a database path")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	c := &SQLCache{DB: db, now: func() time.Time { return time.Now().UTC() }}
	if err := c.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return c, nil
}

// Close closes the database connection.
func (c *SQLCache) Close() error {
	return c.DB.Close()
}

func (c *SQLCache) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS translations (
		key             TEXT    PRIMARY KEY,
		from_language   TEXT    NOT NULL,
		to_language     TEXT    NOT NULL,
		source_text     TEXT    NOT NULL,
		translated_text TEXT    NOT NULL CHECK(length(translated_text) > 0),
		hits            INTEGER NOT NULL DEFAULT 0,
		created_at      TEXT    NOT NULL DEFAULT (datetime('now')),
		last_used_at    TEXT    NOT NULL DEFAULT (datetime('now'))
	);
	`
	if err := c.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := c.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_translations_last_used ON translations(last_used_at)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("datastore: migrate v%d: %w", m.version, err)
			}
		}
		if err := c.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (c *SQLCache) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := c.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := c.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (c *SQLCache) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := c.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (c *SQLCache) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := c.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version.
func (c *SQLCache) SchemaVersion(ctx context.Context) (int, error) {
	return c.getSchemaVersion(ctx)
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// Get returns the cached translation for key, or (nil, nil) if absent.
func (c *SQLCache) Get(ctx context.Context, key string) (*model.Translation, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	var (
		t                  model.Translation
		createdAt, lastUse string
	)
	err := c.DB.QueryRowContext(ctx,
		`SELECT key, from_language, to_language, source_text, translated_text, hits, created_at, last_used_at
		 FROM translations WHERE key = ?`, key,
	).Scan(&t.Key, &t.FromLanguage, &t.ToLanguage, &t.SourceText, &t.TranslatedText, &t.Hits, &createdAt, &lastUse)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get translation: %w", err)
	}
	if t.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, fmt.Errorf("datastore: parse created_at: %w", err)
	}

	now := c.now()
	if _, err := c.DB.ExecContext(ctx,
		"UPDATE translations SET hits = hits + 1, last_used_at = ? WHERE key = ?",
		formatDBTime(now), key,
	); err != nil {
		return nil, fmt.Errorf("datastore: record hit: %w", err)
	}
	t.Hits++
	t.LastUsedAt = now.Truncate(time.Second)
	return &t, nil
}

// Put inserts a translation or refreshes an existing one.
func (c *SQLCache) Put(ctx context.Context, t *model.Translation) error {
	if err := validateEntry(t); err != nil {
		return err
	}
	now := formatDBTime(c.now())
	_, err := c.DB.ExecContext(ctx,
		`INSERT INTO translations (key, from_language, to_language, source_text, translated_text, created_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET translated_text = excluded.translated_text, last_used_at = excluded.last_used_at`,
		t.Key, t.FromLanguage, t.ToLanguage, t.SourceText, t.TranslatedText, now, now,
	)
	if err != nil {
		return fmt.Errorf("datastore: put translation: %w", err)
	}
	return nil
}

// Prune deletes entries whose last use is before unusedSince.
func (c *SQLCache) Prune(ctx context.Context, unusedSince time.Time) (int64, error) {
	res, err := c.DB.ExecContext(ctx, "DELETE FROM translations WHERE last_used_at < ?", formatDBTime(unusedSince))
	if err != nil {
		return 0, fmt.Errorf("datastore: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Count returns the number of cached translations.
func (c *SQLCache) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := c.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM translations").Scan(&n); err != nil {
		return 0, fmt.Errorf("datastore: count: %w", err)
	}
	return n, nil
}

// WithClock replaces the cache's clock. Intended for tests.
func (c *SQLCache) WithClock(now func() time.Time) *SQLCache {
	if now != nil {
		c.now = now
	}
	return c
}
