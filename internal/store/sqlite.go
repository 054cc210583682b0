package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "github.com/teamdigitale/italia-messages-web/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./messages.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Insert(ctx context.Context, doc Document) (string, error) {
	if strings.TrimSpace(doc.Type) == "" {
		return "", errors.New("document type is required")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents(id, type, batch_id, created_at, body) VALUES(?,?,?,?,?)`,
		doc.ID, doc.Type, doc.BatchID, doc.CreatedAt.UTC().Format(time.RFC3339Nano), string(doc.Body),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return "", fmt.Errorf("%w: %s", ErrDuplicate, doc.ID)
		}
		return "", err
	}
	return doc.ID, nil
}

func (s *sqliteStore) GetByID(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, batch_id, created_at, body FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc, err
}

func (s *sqliteStore) FindAll(ctx context.Context, q Query) ([]Document, error) {
	var (
		where []string
		args  []any
	)
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, q.Type)
	}
	if q.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, q.BatchID)
	}

	query := `SELECT id, type, batch_id, created_at, body FROM documents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	switch q.Sort {
	case SortByCreatedAt:
		query += " ORDER BY created_at, id"
	default:
		query += " ORDER BY id"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func scanDocument(scan func(dest ...any) error) (Document, error) {
	var (
		doc  Document
		at   string
		body string
	)
	if err := scan(&doc.ID, &doc.Type, &doc.BatchID, &at, &body); err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return Document{}, fmt.Errorf("corrupt created_at %q: %w", at, err)
	}
	doc.CreatedAt = t
	doc.Body = []byte(body)
	return doc, nil
}
