package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLIndex keeps annotation records in the annotation_index table and
// searches them when Meilisearch is not available. Postgres uses full-text
// search; SQLite falls back to case-insensitive substring matching.
type SQLIndex struct {
	db     *sql.DB
	driver string
}

func NewSQLIndex(db *sql.DB, driver string) *SQLIndex {
	return &SQLIndex{db: db, driver: driver}
}

// Healthy always returns true: if the database is down, the whole app is down.
func (x *SQLIndex) Healthy() bool {
	return true
}

// Keys returns the record keys currently stored for a document.
func (x *SQLIndex) Keys(ctx context.Context, documentID string) ([]string, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT field_path, record_id FROM annotation_index WHERE document_id=$1
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list index keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var path, recordID string
		if err := rows.Scan(&path, &recordID); err != nil {
			return nil, fmt.Errorf("scan index key: %w", err)
		}
		keys = append(keys, RecordKey(documentID, path, recordID))
	}
	return keys, rows.Err()
}

// Replace swaps the stored records of a document for records.
func (x *SQLIndex) Replace(ctx context.Context, documentID string, records []Record) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM annotation_index WHERE document_id=$1`, documentID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear index: %w", err)
	}
	for _, r := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO annotation_index (document_id, field_path, record_id, kind, title, body, author, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, documentID, r.FieldPath, r.RecordID, string(r.Kind), r.Title, r.Body, r.Author, r.Status, r.CreatedAt)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert index record %s: %w", r.RecordID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index tx: %w", err)
	}
	return nil
}

func (x *SQLIndex) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}

	var (
		where []string
		args  []any
		order string
	)
	if x.driver == "pgx" {
		where = append(where, "to_tsvector('simple', title || ' ' || body) @@ plainto_tsquery('simple', $1)")
		args = append(args, text)
		order = "ts_rank(to_tsvector('simple', title || ' ' || body), plainto_tsquery('simple', $1)) DESC, created_at"
	} else {
		pattern := "%" + strings.ToLower(text) + "%"
		where = append(where, "(LOWER(title) LIKE $1 OR LOWER(body) LIKE $2)")
		args = append(args, pattern, pattern)
		order = "created_at"
	}
	if q.Kind != "" {
		args = append(args, string(q.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if q.DocumentID != "" {
		args = append(args, q.DocumentID)
		where = append(where, fmt.Sprintf("document_id = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM annotation_index WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sql index count: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT kind, record_id, document_id, field_path, title, body, status
		FROM annotation_index
		WHERE %s
		ORDER BY %s
		LIMIT %d OFFSET %d`, clause, order, q.limit(), q.offset())
	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("sql index query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var kind, body string
		if err := rows.Scan(&kind, &r.ID, &r.DocumentID, &r.FieldPath, &r.Title, &body, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("sql index scan: %w", err)
		}
		r.Kind = Kind(kind)
		r.Snippet = snippet(body, text)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAll returns every stored record for a full reindex.
func (x *SQLIndex) LoadAll(ctx context.Context) ([]Record, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT document_id, field_path, record_id, kind, title, body, author, status, created_at
		FROM annotation_index
		ORDER BY document_id, field_path, record_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load index records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		var kind string
		if err := rows.Scan(&r.DocumentID, &r.FieldPath, &r.RecordID, &kind, &r.Title, &r.Body, &r.Author, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan index record: %w", err)
		}
		r.Kind = Kind(kind)
		r.Key = RecordKey(r.DocumentID, r.FieldPath, r.RecordID)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index records: %w", err)
	}
	return records, nil
}

// snippet returns up to 30 words of body around the first match of text.
func snippet(body, text string) string {
	words := strings.Fields(body)
	if len(words) <= 30 {
		return strings.Join(words, " ")
	}
	needle := strings.ToLower(text)
	start := 0
	for i, word := range words {
		if strings.Contains(strings.ToLower(word), needle) {
			start = max(0, i-10)
			break
		}
	}
	end := min(len(words), start+30)
	return strings.Join(words[start:end], " ")
}
