// Package store is the system of record for templates, contacts, batches,
// messages and delivery status reports.
//
// It is a small document store: every record lives in one table, addressed by
// type plus id. Writers only ever insert new documents, never update or delete
// existing ones, so concurrent writers need no locking discipline beyond the
// database's own.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "github.com/teamdigitale/italia-messages-web/pkg/logx"
)

var (
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate is returned when an insert names an id that already exists.
	// Ids are never reused; callers decide whether a duplicate is fatal.
	ErrDuplicate = errors.New("document id already exists")
)

// Config configures the document store.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store; nothing survives a restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Sort selects the deterministic order of FindAll results.
type Sort int

const (
	SortByID Sort = iota
	SortByCreatedAt
)

// Query is an exact-equality predicate over document fields.
// Zero-valued fields are not matched on.
type Query struct {
	Type    string
	BatchID string
	Sort    Sort
}

// Document is one persisted record. Type plus id is the sole addressing
// scheme; BatchID is the only indexed secondary field. Body carries the
// type-specific payload as JSON (see records.go).
type Document struct {
	ID        string
	Type      string
	BatchID   string
	CreatedAt time.Time
	Body      []byte
}

// Store is the persistence API used by the delivery pipeline.
type Store interface {
	// Insert persists a new document and returns its id. When doc.ID is
	// empty a fresh unique id is assigned; an explicit id that already
	// exists yields ErrDuplicate.
	Insert(ctx context.Context, doc Document) (string, error)
	GetByID(ctx context.Context, id string) (Document, error)
	FindAll(ctx context.Context, q Query) ([]Document, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return newMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
