package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// kind names a per-user document collection inside documents_store.
type kind string

const (
	kindProduct    kind = "product"
	kindTechStack  kind = "techstack"
	kindNote       kind = "note"
	kindQuestion   kind = "question"
	kindAgent      kind = "agent"
	kindToolConfig kind = "toolconfig"
	kindCollection kind = "collection"
	kindDocument   kind = "document"
	kindEndpoint   kind = "endpoint"
)

// docMeta carries the indexed columns stored alongside a JSON document.
type docMeta struct {
	UserID    string
	ID        string
	ProductID string
	ParentID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListFilter narrows a list query. Empty fields match everything.
type ListFilter struct {
	ProductID string
	ParentID  string
}

func (s *Store) insertDoc(ctx context.Context, k kind, m docMeta, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", k, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents_store (kind, user_id, id, product_id, parent_id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(k), m.UserID, m.ID, m.ProductID, m.ParentID, string(data), formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting %s %s: %w", k, m.ID, err)
	}
	return nil
}

func (s *Store) updateDoc(ctx context.Context, k kind, m docMeta, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", k, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents_store SET product_id = ?, parent_id = ?, data = ?, updated_at = ?
		WHERE kind = ? AND user_id = ? AND id = ?`,
		m.ProductID, m.ParentID, string(data), formatTime(m.UpdatedAt), string(k), m.UserID, m.ID,
	)
	if err != nil {
		return fmt.Errorf("updating %s %s: %w", k, m.ID, err)
	}
	return expectOneRow(res)
}

func (s *Store) upsertDoc(ctx context.Context, k kind, m docMeta, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", k, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents_store (kind, user_id, id, product_id, parent_id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, user_id, id) DO UPDATE SET
			product_id = excluded.product_id,
			parent_id = excluded.parent_id,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		string(k), m.UserID, m.ID, m.ProductID, m.ParentID, string(data), formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting %s %s: %w", k, m.ID, err)
	}
	return nil
}

func (s *Store) deleteDoc(ctx context.Context, k kind, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents_store WHERE kind = ? AND user_id = ? AND id = ?`, string(k), userID, id)
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", k, id, err)
	}
	return expectOneRow(res)
}

func getDoc[T any](ctx context.Context, s *Store, k kind, userID, id string) (T, error) {
	var v T
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM documents_store WHERE kind = ? AND user_id = ? AND id = ?`,
		string(k), userID, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return v, ErrNotFound
	}
	if err != nil {
		return v, fmt.Errorf("reading %s %s: %w", k, id, err)
	}
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return v, fmt.Errorf("decoding %s %s: %w", k, id, err)
	}
	return v, nil
}

// findDoc looks a document up by id across every user.
func findDoc[T any](ctx context.Context, s *Store, k kind, id string) (T, error) {
	var v T
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM documents_store WHERE kind = ? AND id = ? LIMIT 1`,
		string(k), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return v, ErrNotFound
	}
	if err != nil {
		return v, fmt.Errorf("reading %s %s: %w", k, id, err)
	}
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return v, fmt.Errorf("decoding %s %s: %w", k, id, err)
	}
	return v, nil
}

func listDocs[T any](ctx context.Context, s *Store, k kind, userID string, f ListFilter) ([]T, error) {
	query := `SELECT data FROM documents_store WHERE kind = ? AND user_id = ?`
	args := []any{string(k), userID}
	if f.ProductID != "" {
		query += ` AND product_id = ?`
		args = append(args, f.ProductID)
	}
	if f.ParentID != "" {
		query += ` AND parent_id = ?`
		args = append(args, f.ParentID)
	}
	query += ` ORDER BY updated_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", k, err)
	}
	defer rows.Close()
	return scanDocs[T](rows, k)
}

func scanDocs[T any](rows *sql.Rows, k kind) ([]T, error) {
	out := []T{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", k, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
