package artifact

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// Interface compliance (compile-time assertions)
var _ Store = (*InMemoryStore)(nil)

func TestInMemoryStore_SaveGetIsolation(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryStore()
	data := []byte("hello")
	if err := svc.Save(ctx, "t1", "a1", data); err != nil {
		t.Fatalf("save: %v", err)
	}
	// mutate original slice
	data[0] = 'H'
	out, err := svc.Get(ctx, "t1", "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("expected 'hello', got %q", string(out))
	}
	// mutate returned slice
	out[0] = 'x'
	out2, _ := svc.Get(ctx, "t1", "a1")
	if string(out2) != "hello" {
		t.Fatalf("expected isolation, got %q", string(out2))
	}
}

func TestInMemoryStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryStore()
	if err := svc.Save(ctx, "t1", "a1", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := svc.Save(ctx, "t1", "a2", []byte("2")); err != nil {
		t.Fatal(err)
	}
	ids, err := svc.List(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
	if err := svc.Delete(ctx, "t1", "a1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, "t1", "a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Delete(ctx, "t1", "a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := svc.Get(ctx, "other", "a2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("threads must be isolated, got %v", err)
	}
}

func TestInMemoryStore_EvictsOldestByEntries(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryStore(func(o *InMemoryOptions) { o.MaxEntries = 2 })
	for i := 0; i < 3; i++ {
		if err := svc.Save(ctx, "t1", fmt.Sprintf("a%d", i), []byte("x")); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.Get(ctx, "t1", "a0"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("oldest entry should be dropped, got %v", err)
	}
	if n, _ := svc.Size(); n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}
}

func TestInMemoryStore_EvictsOldestByBytes(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryStore(func(o *InMemoryOptions) { o.MaxBytes = 10 })
	_ = svc.Save(ctx, "t1", "a", []byte("123456"))
	_ = svc.Save(ctx, "t2", "b", []byte("123456"))
	if _, err := svc.Get(ctx, "t1", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected eviction by size, got %v", err)
	}
	if _, size := svc.Size(); size != 6 {
		t.Fatalf("expected 6 bytes retained, got %d", size)
	}
	// A single payload larger than the cap is still kept.
	_ = svc.Save(ctx, "t3", "c", make([]byte, 20))
	if _, err := svc.Get(ctx, "t3", "c"); err != nil {
		t.Fatalf("newest payload must survive: %v", err)
	}
}

func TestInMemoryStore_OverwriteAccounting(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryStore()
	_ = svc.Save(ctx, "t1", "a", []byte("1234"))
	_ = svc.Save(ctx, "t1", "a", []byte("12"))
	n, size := svc.Size()
	if n != 1 || size != 2 {
		t.Fatalf("expected 1 entry / 2 bytes, got %d / %d", n, size)
	}
}

func TestInMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("a%d", i)
			_ = svc.Save(ctx, "t1", id, []byte(id))
			_, _ = svc.Get(ctx, "t1", id)
		}(i)
	}
	wg.Wait()
	ids, _ := svc.List(ctx, "t1")
	if len(ids) != 50 {
		t.Fatalf("expected 50 ids, got %d", len(ids))
	}
}

func TestInMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := NewInMemoryStore()
	if err := svc.Save(ctx, "t1", "a", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
