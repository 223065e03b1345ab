package db

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// setupTestDB connects to the database named by TEST_DATABASE_URL, applies
// the schema, and truncates both tables. Tests are skipped when the
// variable is unset so the suite stays runnable without Postgres.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../migrations/0001_init.up.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	for _, stmt := range strings.Split(string(schema), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}

	if _, err := pool.Exec(ctx, `TRUNCATE pending_messages, sent_history RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	return &DB{pool: pool, logger: zap.NewNop()}
}

func TestQueueStore_EnqueueEvictsOldestBeyondCap(t *testing.T) {
	database := setupTestDB(t)
	store := NewQueueStore(database, 100, zap.NewNop())
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	totalEvicted := 0
	for i := 1; i <= 105; i++ {
		_, evicted, err := store.Enqueue(ctx, "+15550001111", "msg", base.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		totalEvicted += evicted
	}

	size, err := store.Size(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if size != 100 {
		t.Fatalf("size = %d, want 100", size)
	}
	if totalEvicted != 5 {
		t.Errorf("evicted = %d, want 5", totalEvicted)
	}

	// The five oldest are gone: the surviving window is inserts 6..105.
	msgs, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := msgs[0].ReceivedAt.UTC(); !got.Equal(base.Add(6 * time.Second)) {
		t.Errorf("oldest survivor received at %s, want %s", got, base.Add(6*time.Second))
	}
	if got := msgs[len(msgs)-1].ReceivedAt.UTC(); !got.Equal(base.Add(105 * time.Second)) {
		t.Errorf("newest survivor received at %s, want %s", got, base.Add(105*time.Second))
	}
}

func TestQueueStore_ConcurrentEnqueueHoldsCap(t *testing.T) {
	database := setupTestDB(t)
	store := NewQueueStore(database, 10, zap.NewNop())
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		if _, _, err := store.Enqueue(ctx, "+15550001111", "fill", base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				at := base.Add(time.Duration(100+g*10+i) * time.Second)
				if _, _, err := store.Enqueue(ctx, "+15550002222", "burst", at); err != nil {
					errs <- err
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent enqueue: %v", err)
	}

	size, err := store.Size(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if size != 10 {
		t.Fatalf("size = %d after concurrent enqueues, want 10", size)
	}
}

func TestQueueStore_LeaseOldestClaimsInOrder(t *testing.T) {
	database := setupTestDB(t)
	store := NewQueueStore(database, 100, zap.NewNop())
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	if _, _, err := store.Enqueue(ctx, "second", "b", base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.Enqueue(ctx, "first", "a", base); err != nil {
		t.Fatal(err)
	}

	m1, err := store.LeaseOldest(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if m1 == nil || m1.Sender != "first" {
		t.Fatalf("first lease = %+v, want sender first", m1)
	}

	// The leased row is invisible; the next lease claims the other one.
	m2, err := store.LeaseOldest(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if m2 == nil || m2.Sender != "second" {
		t.Fatalf("second lease = %+v, want sender second", m2)
	}

	m3, err := store.LeaseOldest(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if m3 != nil {
		t.Fatalf("third lease = %+v, want nil", m3)
	}
}

func TestQueueStore_IncrementRetryReleasesLease(t *testing.T) {
	database := setupTestDB(t)
	store := NewQueueStore(database, 100, zap.NewNop())
	ctx := context.Background()

	id, _, err := store.Enqueue(ctx, "+15550001111", "msg", time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}

	if m, err := store.LeaseOldest(ctx, time.Minute); err != nil || m == nil {
		t.Fatalf("lease: %+v, %v", m, err)
	}
	if err := store.IncrementRetry(ctx, id); err != nil {
		t.Fatal(err)
	}

	m, err := store.LeaseOldest(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.ID != id {
		t.Fatalf("released row not leasable again: %+v", m)
	}
	if m.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", m.RetryCount)
	}
}

func TestQueueStore_ExpiredLeaseIsReclaimed(t *testing.T) {
	database := setupTestDB(t)
	store := NewQueueStore(database, 100, zap.NewNop())
	ctx := context.Background()

	id, _, err := store.Enqueue(ctx, "+15550001111", "msg", time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}

	if m, err := store.LeaseOldest(ctx, 50*time.Millisecond); err != nil || m == nil {
		t.Fatalf("lease: %+v, %v", m, err)
	}

	time.Sleep(150 * time.Millisecond)

	m, err := store.LeaseOldest(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.ID != id {
		t.Fatalf("expired lease not reclaimed: %+v", m)
	}
}

func TestQueueStore_DeleteAndClear(t *testing.T) {
	database := setupTestDB(t)
	store := NewQueueStore(database, 100, zap.NewNop())
	ctx := context.Background()

	id, _, err := store.Enqueue(ctx, "+15550001111", "msg", time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, id); err == nil {
		t.Error("deleting a missing row should error")
	}

	if _, _, err := store.Enqueue(ctx, "+15550001111", "msg", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	size, err := store.Size(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if size != 0 {
		t.Errorf("size = %d after clear, want 0", size)
	}
}
