// Package storage resolves storage URLs to concrete study.Storage
// backends. An empty URL selects the ephemeral in-memory backend; a URL
// with a recognized scheme selects the matching durable backend. The
// mapping is the single source of truth for backend-kind selection, used
// both by direct callers and by the cluster-shared registry, so the two
// paths can never pick different kinds for the same URL.
package storage

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/marmos91/gridstore/pkg/storage/memory"
	"github.com/marmos91/gridstore/pkg/storage/sqlstore"
	"github.com/marmos91/gridstore/pkg/study"
)

// Kind identifies a backend family.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
)

// ErrUnsupportedScheme is returned for URLs whose scheme maps to no known
// backend kind. It is a usage error, reported at selection time, never
// deferred to the first storage operation.
var ErrUnsupportedScheme = errors.New("unsupported storage URL scheme")

// KindOf resolves a storage URL to its backend kind without constructing
// anything. An empty URL is the in-memory kind.
func KindOf(rawURL string) (Kind, error) {
	if rawURL == "" {
		return KindMemory, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse storage URL: %w", err)
	}
	switch u.Scheme {
	case "sqlite":
		return KindSQLite, nil
	case "postgres", "postgresql":
		return KindPostgres, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// FromURL constructs the backend a URL denotes.
//
//	""                          in-memory, ephemeral
//	sqlite:///path/to/file.db   SQLite file
//	postgres://user@host/db     PostgreSQL (postgresql:// also accepted)
func FromURL(rawURL string) (study.Storage, error) {
	kind, err := KindOf(rawURL)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindMemory:
		return memory.New(), nil
	case KindSQLite:
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse storage URL: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" {
			return nil, fmt.Errorf("sqlite URL %q has no database path", rawURL)
		}
		return sqlstore.NewSQLite(path)
	case KindPostgres:
		// pgx accepts the URL form directly.
		return sqlstore.NewPostgres(rawURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, rawURL)
	}
}
