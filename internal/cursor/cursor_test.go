package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// storeContract runs the behavior every backend must share.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "dbid:u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "dbid:u1", "c1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "dbid:u1", "c2"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "dbid:u2", "other"); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := s.Get(ctx, "dbid:u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "c2" {
		t.Errorf("expected last write c2, got %q", got)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	storeContract(t, s)
	if s.Len() != 2 {
		t.Errorf("expected 2 accounts, got %d", s.Len())
	}
}

func TestMemoryStoreConcurrentWriters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Set(ctx, "dbid:u1", fmt.Sprintf("c%d", i))
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, "dbid:u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == "" {
		t.Error("expected one of the written cursors")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	key := "kissr-test-cursors"
	client.Del(ctx, key)
	t.Cleanup(func() {
		client.Del(ctx, key)
		client.Close()
	})

	storeContract(t, NewRedisStoreFromClient(client, key))
}

func TestPostgresStore(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Skipf("cannot open test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Ping(); err != nil {
		t.Skipf("test DB not reachable: %v", err)
	}

	db.Exec("DROP TABLE IF EXISTS sync_cursors")
	migration, err := os.ReadFile("../../migrations/002_sync_cursors.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if _, err := db.Exec(string(migration)); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	storeContract(t, NewPostgresStore(db))
}
