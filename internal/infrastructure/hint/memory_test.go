package hint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestMemoryFIFOOrder(t *testing.T) {
	q := NewMemory(10)
	ctx := context.Background()

	if err := q.Push(ctx, "a", "b", "c"); err != nil {
		t.Fatalf("Push returned error: %v", err)
	}

	for _, want := range []string{"a", "b", "c"} {
		id, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop returned error: %v", err)
		}
		if id != want {
			t.Errorf("popped %s, want %s", id, want)
		}
	}
}

func TestMemoryEmpty(t *testing.T) {
	q := NewMemory(10)

	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrEmpty) {
		t.Errorf("Pop error = %v, want ErrEmpty", err)
	}
}

func TestMemoryDropsBeyondCapacity(t *testing.T) {
	q := NewMemory(2)
	ctx := context.Background()

	if err := q.Push(ctx, "a", "b", "c"); err != nil {
		t.Fatalf("Push returned error: %v", err)
	}

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("Len returned error: %v", err)
	}
	if n != 2 {
		t.Errorf("len = %d, want 2", n)
	}
}

func TestMemoryDefaultCapacity(t *testing.T) {
	q := NewMemory(0)
	if q.cap != DefaultMemoryCap {
		t.Errorf("cap = %d, want %d", q.cap, DefaultMemoryCap)
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	q := NewMemory(1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = q.Push(ctx, fmt.Sprintf("%d-%d", n, j))
			}
		}(i)
	}
	wg.Wait()

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("Len returned error: %v", err)
	}
	if n != 100 {
		t.Errorf("len = %d, want 100", n)
	}
}
