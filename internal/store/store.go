package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chronicle/annotations/internal/persist"
	"chronicle/annotations/internal/util"
)

var ErrNotFound = errors.New("not found")

// Store keeps host documents, their field contents and the persisted
// annotations field of each document.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) CreateDocument(ctx context.Context, title, createdBy string) (Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	now := s.now().UTC()
	item := Document{
		ID:        util.NewID("doc"),
		Title:     title,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedBy: createdBy,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, created_by, created_at, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.Title, item.CreatedBy, formatTime(now), item.UpdatedBy, formatTime(now))
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return item, nil
}

func (s *Store) GetDocument(ctx context.Context, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_by, created_at, updated_by, updated_at
		FROM documents
		WHERE id=$1
	`, documentID)
	item, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return item, nil
}

func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_by, created_at, updated_by, updated_at
		FROM documents
		ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// TouchDocument records who last changed the document.
func (s *Store) TouchDocument(ctx context.Context, documentID, updatedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET updated_by=$1, updated_at=$2 WHERE id=$3
	`, updatedBy, formatTime(s.now()), documentID)
	if err != nil {
		return fmt.Errorf("touch document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	return nil
}

func (s *Store) SaveFieldContent(ctx context.Context, documentID, path string, content json.RawMessage) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("save field content: empty path")
	}
	if !json.Valid(content) {
		return fmt.Errorf("save field content %s: invalid json", path)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO field_contents (document_id, path, content, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id, path) DO UPDATE SET content=excluded.content, updated_at=excluded.updated_at
	`, documentID, path, string(content), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("save field content %s: %w", path, err)
	}
	return nil
}

// LoadFieldContents returns the stored fields of a document ordered by path.
func (s *Store) LoadFieldContents(ctx context.Context, documentID string) ([]FieldContent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, content, updated_at
		FROM field_contents
		WHERE document_id=$1
		ORDER BY path
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("load field contents: %w", err)
	}
	defer rows.Close()

	items := make([]FieldContent, 0)
	for rows.Next() {
		var item FieldContent
		var content, updatedAt string
		if err := rows.Scan(&item.Path, &content, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan field content: %w", err)
		}
		item.Content = json.RawMessage(content)
		if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parse field content time: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field contents: %w", err)
	}
	return items, nil
}

// LoadAnnotationField returns the document's annotations field. A document
// that never stored one yields an empty value.
func (s *Store) LoadAnnotationField(ctx context.Context, documentID string) (persist.FieldValue, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM annotation_fields WHERE document_id=$1`, documentID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return persist.FieldValue{}, nil
	}
	if err != nil {
		return persist.FieldValue{}, fmt.Errorf("load annotations field: %w", err)
	}
	return persist.Decode([]byte(raw))
}

func (s *Store) SaveAnnotationField(ctx context.Context, documentID string, value persist.FieldValue) error {
	if value.Entries == nil {
		value.Entries = []persist.Entry{}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode annotations field: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO annotation_fields (document_id, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (document_id) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
	`, documentID, string(raw), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("save annotations field: %w", err)
	}
	return nil
}

// HostField binds the annotations field of one document to the store.
func (s *Store) HostField(documentID string) *HostField {
	return &HostField{store: s, documentID: documentID}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var item Document
	var createdAt, updatedAt string
	if err := row.Scan(&item.ID, &item.Title, &item.CreatedBy, &createdAt, &item.UpdatedBy, &updatedAt); err != nil {
		return Document{}, err
	}
	var err error
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return Document{}, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Document{}, err
	}
	return item, nil
}
