package analytics

import (
	"context"
	"io"
	"strings"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open picks a source from databaseURL. postgres:// and postgresql:// URLs use
// pgx, an empty URL serves the default snapshot, and anything else is a SQLite
// path with an optional sqlite: prefix.
func Open(ctx context.Context, databaseURL string) (Source, io.Closer, error) {
	url := strings.TrimSpace(databaseURL)
	switch {
	case url == "":
		return NewStaticSource(Snapshot{}), nopCloser{}, nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		src, err := NewPostgresSource(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		return src, src, nil
	default:
		src, err := OpenSQLite(ctx, strings.TrimPrefix(url, "sqlite:"))
		if err != nil {
			return nil, nil, err
		}
		return src, src, nil
	}
}
