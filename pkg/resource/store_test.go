package resource

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	_ "modernc.org/sqlite"
)

func setupTestStore(tb testing.TB) *Store {
	tb.Helper()

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", tb.Name()))
	if err != nil {
		tb.Fatalf("failed to open in-memory db: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })

	if err = SetupSchema(db); err != nil {
		tb.Fatalf("failed to setup schema: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewStore(db, logger)
	if err != nil {
		tb.Fatalf("NewStore failed: %v", err)
	}
	tb.Cleanup(store.Close)
	return store
}

func TestStore_PutAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	doc := json.RawMessage(`{"title":"Home","views":3}`)
	if err := store.Put(ctx, "pages", "home", doc); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rec, err := store.Get(ctx, "pages", "home")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Collection != "pages" || rec.ID != "home" {
		t.Errorf("unexpected record identity: %+v", rec)
	}

	decoded, err := rec.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded["title"] != "Home" {
		t.Errorf("decoded document lost data: %v", decoded)
	}
}

func TestStore_PutRejectsInvalidJSON(t *testing.T) {
	store := setupTestStore(t)
	err := store.Put(context.Background(), "pages", "bad", json.RawMessage(`{"broken":`))
	if !errors.Is(err, ErrInvalidData) {
		t.Fatalf("expected ErrInvalidData, got %v", err)
	}
}

func TestStore_PutReplacesAndKeepsCreatedAt(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "pages", "home", json.RawMessage(`{"v":1}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	first, err := store.Get(ctx, "pages", "home")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if err = store.Put(ctx, "pages", "home", json.RawMessage(`{"v":2}`)); err != nil {
		t.Fatalf("replacing Put failed: %v", err)
	}
	second, err := store.Get(ctx, "pages", "home")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if string(second.Data) != `{"v":2}` {
		t.Errorf("replace did not update the document: %s", second.Data)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("replace changed CreatedAt: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.Get(context.Background(), "pages", "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ListAndCollections(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("p%d", i)
		if err := store.Put(ctx, "pages", id, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if err := store.Put(ctx, "authors", "amy", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	records, err := store.List(ctx, "pages")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].ID != "p0" || records[2].ID != "p2" {
		t.Errorf("records not ordered by id: %+v", records)
	}

	empty, err := store.List(ctx, "unknown")
	if err != nil {
		t.Fatalf("List of unknown collection failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty slice for unknown collection, got %d records", len(empty))
	}

	names, err := store.Collections(ctx)
	if err != nil {
		t.Fatalf("Collections failed: %v", err)
	}
	if len(names) != 2 || names[0] != "authors" || names[1] != "pages" {
		t.Errorf("unexpected collection names: %v", names)
	}
}

func TestStore_Delete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "pages", "home", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete(ctx, "pages", "home"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "pages", "home"); !errors.Is(err, ErrNotFound) {
		t.Errorf("record still present after delete")
	}
	if err := store.Delete(ctx, "pages", "home"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for double delete, got %v", err)
	}
}
