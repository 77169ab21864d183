package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// sqliteMaxVars bounds the IN (...) list per query below SQLite's host parameter limit.
const sqliteMaxVars = 500

var _ EmbeddingStore = (*SQLiteEmbeddingStore)(nil)

// SQLiteEmbeddingStore implements EmbeddingStore using SQLite.
type SQLiteEmbeddingStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteEmbeddingStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteEmbeddingStore(dbPath string) (*SQLiteEmbeddingStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteEmbeddingStore{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS embeddings (
		model TEXT NOT NULL,
		text_hash TEXT NOT NULL,
		dims INTEGER NOT NULL,
		vector BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (model, text_hash)
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model);
	`
	_, err := db.Exec(schema)
	return err
}

// Files returns the database file and its WAL companions.
func (s *SQLiteEmbeddingStore) Files() []string {
	return []string{s.path, s.path + "-wal", s.path + "-shm"}
}

// GetEmbeddings returns stored vectors for hashes under model.
func (s *SQLiteEmbeddingStore) GetEmbeddings(ctx context.Context, model string, hashes []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(hashes))
	for start := 0; start < len(hashes); start += sqliteMaxVars {
		end := start + sqliteMaxVars
		if end > len(hashes) {
			end = len(hashes)
		}
		batch := hashes[start:end]
		args := make([]interface{}, 0, len(batch)+1)
		args = append(args, model)
		for _, h := range batch {
			args = append(args, h)
		}
		query := `SELECT text_hash, dims, vector FROM embeddings WHERE model = ? AND text_hash IN (?` +
			strings.Repeat(",?", len(batch)-1) + `)`
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query embeddings: %w", err)
		}
		for rows.Next() {
			var hash string
			var dims int
			var blob []byte
			if err := rows.Scan(&hash, &dims, &blob); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan embedding: %w", err)
			}
			vec, err := decodeVector(blob, dims)
			if err != nil {
				// A corrupt row is treated as a miss and overwritten on the next put.
				continue
			}
			out[hash] = vec
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}
	return out, nil
}

// PutEmbeddings upserts vectors in a single transaction.
func (s *SQLiteEmbeddingStore) PutEmbeddings(ctx context.Context, model string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO embeddings (model, text_hash, dims, vector, created_at)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for hash, vec := range vectors {
		if _, err := stmt.ExecContext(ctx, model, hash, len(vec), encodeVector(vec), now); err != nil {
			return fmt.Errorf("store embedding %s: %w", hash, err)
		}
	}
	return tx.Commit()
}

// PruneModels deletes embeddings produced by any model other than keep.
func (s *SQLiteEmbeddingStore) PruneModels(ctx context.Context, keep string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE model != ?`, keep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountEmbeddings returns the number of stored vectors for model.
func (s *SQLiteEmbeddingStore) CountEmbeddings(ctx context.Context, model string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE model = ?`, model).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteEmbeddingStore) Close() error {
	return s.db.Close()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte, dims int) ([]float32, error) {
	if len(blob) != 4*dims {
		return nil, fmt.Errorf("vector blob has %d bytes, want %d", len(blob), 4*dims)
	}
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return vec, nil
}
