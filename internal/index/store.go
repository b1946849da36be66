package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Compile-time check that SQLiteChunkStore implements ChunkStore.
var _ ChunkStore = (*SQLiteChunkStore)(nil)

// SQLiteChunkStore persists embedded chunks in the paper_chunks table.
// Embeddings are stored as little-endian float32 blobs.
type SQLiteChunkStore struct {
	db *sql.DB
}

// NewSQLiteChunkStore wraps an existing *sql.DB. The paper_chunks table must
// already exist (created via migrations).
func NewSQLiteChunkStore(db *sql.DB) *SQLiteChunkStore {
	return &SQLiteChunkStore{db: db}
}

func (s *SQLiteChunkStore) Load(ctx context.Context, fingerprint string) (string, []Chunk, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT paper_id, ordinal, start_off, end_off, text_chunk, embedding
		FROM paper_chunks WHERE fingerprint = ? ORDER BY ordinal ASC`, fingerprint)
	if err != nil {
		return "", nil, false, fmt.Errorf("querying chunks for %s: %w", fingerprint, err)
	}
	defer rows.Close()

	var paperID string
	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&paperID, &c.Ordinal, &c.Start, &c.End, &c.Text, &blob); err != nil {
			return "", nil, false, fmt.Errorf("scanning chunk row: %w", err)
		}
		c.Embedding, err = decodeFloat32s(blob)
		if err != nil {
			return "", nil, false, fmt.Errorf("decoding embedding for %s/%d: %w", fingerprint, c.Ordinal, err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return "", nil, false, fmt.Errorf("iterating chunk rows: %w", err)
	}
	if len(chunks) == 0 {
		return "", nil, false, nil
	}
	return paperID, chunks, true, nil
}

func (s *SQLiteChunkStore) Save(ctx context.Context, paperID, fingerprint string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning chunk save transaction: %w", err)
	}

	// Replace wholesale: a fingerprint's chunk set is immutable, so any
	// existing rows are leftovers from an interrupted save.
	if _, err := tx.Exec(`DELETE FROM paper_chunks WHERE fingerprint = ?`, fingerprint); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing chunks for %s: %w", fingerprint, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO paper_chunks (fingerprint, ordinal, paper_id, start_off, end_off, text_chunk, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, c := range chunks {
		blob := encodeFloat32s(c.Embedding)
		if _, err := stmt.Exec(fingerprint, c.Ordinal, paperID, c.Start, c.End, c.Text, blob, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting chunk %s/%d: %w", fingerprint, c.Ordinal, err)
		}
	}

	return tx.Commit()
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
