package resource

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNotFound is returned when no record exists for a (collection, id)
// pair.
var ErrNotFound = errors.New("resource: record not found")

// ErrInvalidData is returned when a payload is not valid JSON.
var ErrInvalidData = errors.New("resource: data is not valid JSON")

const storeSchema = `
CREATE TABLE IF NOT EXISTS resources (
    collection  TEXT    NOT NULL,
    id          TEXT    NOT NULL,
    data        TEXT    NOT NULL,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL,
    PRIMARY KEY (collection, id)
);
`

// Record is a single stored document and its bookkeeping metadata.
type Record struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// SetupSchema creates the resources table if it does not exist. It must be
// called once before a Store is created over the database.
func SetupSchema(db *sql.DB) error {
	_, err := db.Exec(storeSchema)
	return err
}

// Store is a concurrent-safe document store over a SQL database. All
// methods are safe for concurrent use; the underlying *sql.DB provides the
// connection pooling.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	stmtGet         *sql.Stmt
	stmtPut         *sql.Stmt
	stmtDelete      *sql.Stmt
	stmtList        *sql.Stmt
	stmtCollections *sql.Stmt
}

// NewStore prepares the store's statements against db and returns it. The
// caller keeps ownership of db; Close releases only the statements.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	s := &Store{db: db, logger: logger}

	var err error
	prepare := func(dst **sql.Stmt, query string) {
		if err != nil {
			return
		}
		*dst, err = db.Prepare(query)
	}

	prepare(&s.stmtGet, `SELECT data, created_at, updated_at FROM resources WHERE collection = ? AND id = ?`)
	prepare(&s.stmtPut, `
		INSERT INTO resources (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`)
	prepare(&s.stmtDelete, `DELETE FROM resources WHERE collection = ? AND id = ?`)
	prepare(&s.stmtList, `SELECT id, data, created_at, updated_at FROM resources WHERE collection = ? ORDER BY id`)
	prepare(&s.stmtCollections, `SELECT DISTINCT collection FROM resources ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare store statements: %w", err)
	}

	return s, nil
}

// Close releases the store's prepared statements.
func (s *Store) Close() {
	for _, stmt := range []*sql.Stmt{s.stmtGet, s.stmtPut, s.stmtDelete, s.stmtList, s.stmtCollections} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

// Put creates or replaces the record at (collection, id). The payload must
// be valid JSON; on replace the original creation timestamp is kept.
func (s *Store) Put(ctx context.Context, collection, id string, data json.RawMessage) error {
	if !json.Valid(data) {
		return ErrInvalidData
	}

	now := time.Now().UTC().Unix()
	_, err := s.stmtPut.ExecContext(ctx, collection, id, string(data), now, now)
	if err != nil {
		return fmt.Errorf("failed to store record %s/%s: %w", collection, id, err)
	}

	s.logger.DebugContext(ctx, "Record stored", "collection", collection, "id", id)
	return nil
}

// Get retrieves a single record, or ErrNotFound.
func (s *Store) Get(ctx context.Context, collection, id string) (Record, error) {
	var data string
	var created, updated int64
	err := s.stmtGet.QueryRowContext(ctx, collection, id).Scan(&data, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("failed to load record %s/%s: %w", collection, id, err)
	}

	return Record{
		Collection: collection,
		ID:         id,
		Data:       json.RawMessage(data),
		CreatedAt:  time.Unix(created, 0).UTC(),
		UpdatedAt:  time.Unix(updated, 0).UTC(),
	}, nil
}

// List returns all records in a collection ordered by ID. An unknown
// collection yields an empty slice, not an error.
func (s *Store) List(ctx context.Context, collection string) ([]Record, error) {
	rows, err := s.stmtList.QueryContext(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection %s: %w", collection, err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var records []Record
	for rows.Next() {
		var rec Record
		var data string
		var created, updated int64
		if err = rows.Scan(&rec.ID, &data, &created, &updated); err != nil {
			return nil, err
		}
		rec.Collection = collection
		rec.Data = json.RawMessage(data)
		rec.CreatedAt = time.Unix(created, 0).UTC()
		rec.UpdatedAt = time.Unix(updated, 0).UTC()
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Delete removes a record, or returns ErrNotFound if it does not exist.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res, err := s.stmtDelete.ExecContext(ctx, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", collection, id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}

	s.logger.DebugContext(ctx, "Record deleted", "collection", collection, "id", id)
	return nil
}

// Collections returns the distinct collection names currently stored.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.stmtCollections.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var names []string
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Decode unmarshals a record's document into a map, the shape the
// templating engine expects as a render context.
func (r Record) Decode() (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(r.Data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode record %s/%s: %w", r.Collection, r.ID, err)
	}
	return doc, nil
}
