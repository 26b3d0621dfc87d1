package host

import (
	"context"
	"testing"
	"time"
)

func TestSendQueueDropsOldest(t *testing.T) {
	q := NewSendQueue(2)
	q.Push([]byte("a"))
	q.Push([]byte("b"))
	if !q.Push([]byte("c")) {
		t.Fatal("third push should evict")
	}
	if q.Len() != 2 || q.Dropped() != 1 {
		t.Fatalf("len %d dropped %d", q.Len(), q.Dropped())
	}
	ctx := context.Background()
	for _, want := range []string{"b", "c"} {
		f, ok := q.Pop(ctx, time.Millisecond)
		if !ok || string(f) != want {
			t.Fatalf("pop = %q %v, want %q", f, ok, want)
		}
	}
}

func TestSendQueuePopWaits(t *testing.T) {
	q := NewSendQueue(2)
	start := time.Now()
	if _, ok := q.Pop(context.Background(), 30*time.Millisecond); ok {
		t.Fatal("pop on empty queue returned a frame")
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Fatal("pop returned before the wait elapsed")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push([]byte("x"))
	}()
	f, ok := q.Pop(context.Background(), time.Second)
	if !ok || string(f) != "x" {
		t.Fatalf("pop = %q %v", f, ok)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := q.Pop(ctx, time.Second); ok {
		t.Fatal("pop after cancel returned a frame")
	}
}

func TestSendQueuePurge(t *testing.T) {
	q := NewSendQueue(4)
	q.Push([]byte("a"))
	q.Push([]byte("b"))
	if n := q.Purge(); n != 2 || q.Len() != 0 {
		t.Fatalf("purge = %d, len %d", n, q.Len())
	}
}
