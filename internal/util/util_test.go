package util

import (
	"testing"
	"time"
)

// TestQueueOrder pushes more items than anyone reads and expects FIFO delivery.
func TestQueueOrder(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 100; i++ {
		if !q.Push(i) {
			t.Fatalf("push %d rejected", i)
		}
	}
	q.Close()
	if q.Push(100) {
		t.Fatal("push after close accepted")
	}
	want := 0
	for v := range q.Out() {
		if v != want {
			t.Fatalf("got %d, want %d", v, want)
		}
		want++
	}
	if want != 100 {
		t.Fatalf("received %d items, want 100", want)
	}
}

// TestQueueAbort closes the output without draining.
func TestQueueAbort(t *testing.T) {
	q := NewQueue[string]()
	q.Push("a")
	q.Push("b")
	q.Abort()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-q.Out():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("output not closed after Abort")
		}
	}
}

// TestRingBufferDropsOldest checks overwrite order once full.
func TestRingBufferDropsOldest(t *testing.T) {
	r := NewRingBuffer[int](3)
	if _, ok := r.Last(); ok {
		t.Fatal("empty buffer reported a last element")
	}
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	got := r.Snapshot()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("snapshot %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshot %v, want %v", got, want)
		}
	}
	if last, _ := r.Last(); last != 5 {
		t.Errorf("last = %d, want 5", last)
	}
	if r.Len() != 3 {
		t.Errorf("len = %d, want 3", r.Len())
	}
}
