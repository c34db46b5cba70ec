package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// SQLiteStore persists documents in a single SQLite database. Documents are
// stored as JSON bodies and queried with json_extract, so no per-collection
// schema is needed.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open(sqliteDriver, dbPath+"?_journal_mode=WAL&_foreign_keys=off")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(collection, created_at)`,
	}
	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// Put saves a document, assigning a UUID when id is empty.
func (s *SQLiteStore) Put(ctx context.Context, collection, id string, doc Doc) (string, error) {
	if collection == "" {
		return "", fmt.Errorf("collection is required")
	}
	if id == "" {
		id = uuid.New().String()
	}

	body := make(Doc, len(doc)+1)
	for k, v := range doc {
		body[k] = v
	}
	body["id"] = id

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}

	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		collection, id, string(data), now, now)
	if err != nil {
		return "", fmt.Errorf("failed to save document: %w", err)
	}
	return id, nil
}

// Get fetches a document by id.
func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (Doc, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`,
		collection, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	var doc Doc
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return doc, nil
}

// Query runs a field query against a collection using json_extract.
func (s *SQLiteStore) Query(ctx context.Context, collection string, q Query) (*Page, error) {
	if q.Field != "" && !validOp(q.Op) {
		return nil, fmt.Errorf("unsupported query operator: %q", q.Op)
	}

	where := "collection = ?"
	args := []interface{}{collection}

	if q.Field != "" {
		// Op is validated against a fixed set above, never interpolated
		// from caller data beyond that.
		where += fmt.Sprintf(" AND json_extract(body, '$.%s') %s ?", q.Field, sqlOp(q.Op))
		args = append(args, q.Value)
	}

	orderExpr := "created_at"
	if q.OrderBy != "" {
		orderExpr = fmt.Sprintf("json_extract(body, '$.%s')", q.OrderBy)
	}
	direction := "ASC"
	cursorCmp := ">"
	if q.Descending {
		direction = "DESC"
		cursorCmp = "<"
	}

	if q.StartAfter != "" {
		afterVal, err := s.orderValue(ctx, collection, q.StartAfter, q.OrderBy)
		if err != nil {
			return nil, err
		}
		where += fmt.Sprintf(" AND (%s %s ? OR (%s = ? AND id %s ?))",
			orderExpr, cursorCmp, orderExpr, cursorCmp)
		args = append(args, afterVal, afterVal, q.StartAfter)
	}

	query := fmt.Sprintf(
		"SELECT body FROM documents WHERE %s ORDER BY %s %s, id %s",
		where, orderExpr, direction, direction)
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	page := &Page{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		var doc Doc
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document: %w", err)
		}
		page.Docs = append(page.Docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}

	page.Count = len(page.Docs)
	if page.Count > 0 {
		if id, ok := page.Docs[page.Count-1]["id"].(string); ok {
			page.LastID = id
		}
	}
	page.HasMore = q.Limit > 0 && page.Count == q.Limit
	return page, nil
}

// orderValue fetches the cursor document's ordering value so pagination can
// resume after it.
func (s *SQLiteStore) orderValue(ctx context.Context, collection, id, orderBy string) (interface{}, error) {
	if orderBy == "" {
		var createdAt int64
		err := s.db.QueryRowContext(ctx,
			`SELECT created_at FROM documents WHERE collection = ? AND id = ?`,
			collection, id).Scan(&createdAt)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("pagination cursor %q not found", id)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve pagination cursor: %w", err)
		}
		return createdAt, nil
	}

	var value interface{}
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT json_extract(body, '$.%s') FROM documents WHERE collection = ? AND id = ?`, orderBy),
		collection, id).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pagination cursor %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pagination cursor: %w", err)
	}
	return value, nil
}

func sqlOp(op Op) string {
	if op == OpEqual {
		return "="
	}
	return string(op)
}
