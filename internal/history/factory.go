package history

import (
	"context"
	"strings"
)

const sqliteScheme = "sqlite://"

// NewStore picks a backend from databaseURL: empty is in-memory,
// sqlite://path is a local file, anything else is PostgreSQL.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	switch {
	case databaseURL == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(databaseURL, sqliteScheme):
		return NewSQLiteStore(ctx, strings.TrimPrefix(databaseURL, sqliteScheme))
	default:
		return NewPostgresStore(ctx, databaseURL)
	}
}
