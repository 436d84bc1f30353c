package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// ReplaceChunks swaps the chunk set of a document in one transaction.
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning chunk transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("clearing chunks of %s: %w", documentID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, user_id, collection_id, document_id, chunk_index, total_chunks, content, keywords, embedding, document_title, filename, file_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		keywords, err := json.Marshal(nonNil(c.Keywords))
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.UserID, c.CollectionID, documentID, c.ChunkIndex, c.TotalChunks,
			c.Content, string(keywords), encodeFloat32s(c.Embedding), c.DocumentTitle, c.Filename, c.FileURL); err != nil {
			return fmt.Errorf("inserting chunk %d of %s: %w", c.ChunkIndex, documentID, err)
		}
	}
	return tx.Commit()
}

// CollectionChunks returns every chunk of a user's collection in document order.
func (s *Store) CollectionChunks(ctx context.Context, userID, collectionID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, collection_id, document_id, chunk_index, total_chunks, content, keywords, embedding, document_title, filename, file_url
		FROM chunks WHERE user_id = ? AND collection_id = ?
		ORDER BY document_id, chunk_index`, userID, collectionID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var keywords string
		var blob []byte
		if err := rows.Scan(&c.ID, &c.UserID, &c.CollectionID, &c.DocumentID, &c.ChunkIndex, &c.TotalChunks,
			&c.Content, &keywords, &blob, &c.DocumentTitle, &c.Filename, &c.FileURL); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(keywords), &c.Keywords); err != nil {
			return nil, fmt.Errorf("decoding keywords of chunk %s: %w", c.ID, err)
		}
		if c.Embedding, err = decodeFloat32s(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding of chunk %s: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDocumentChunks(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("deleting chunks of %s: %w", documentID, err)
	}
	return nil
}

// CountChunks returns the number of chunks stored for a document.
func (s *Store) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE document_id = ?`, documentID).Scan(&n)
	return n, err
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes. A length that is not a
// multiple of 4 means the blob is corrupt.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
