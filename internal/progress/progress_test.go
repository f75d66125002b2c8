package progress

import (
	"fmt"
	"sync"
	"testing"
)

func TestAppend_KeepsMostRecent(t *testing.T) {
	l := New(DefaultCapacity)
	for i := range 1000 {
		l.Append(fmt.Sprintf("line %d", i))
	}

	got := l.Snapshot()
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
	for i, line := range got {
		want := fmt.Sprintf("line %d", 990+i)
		if line != want {
			t.Errorf("got[%d] = %q, want %q", i, line, want)
		}
	}
}

func TestAppend_BelowCapacity(t *testing.T) {
	l := New(10)
	l.Append("a")
	l.Append("b")

	got := l.Snapshot()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Snapshot = %v, want [a b]", got)
	}
}

func TestReset(t *testing.T) {
	l := New(3)
	for _, s := range []string{"a", "b", "c", "d"} {
		l.Append(s)
	}

	l.Reset("Fetching file list...")
	got := l.Snapshot()
	if len(got) != 1 || got[0] != "Fetching file list..." {
		t.Fatalf("Snapshot after Reset = %v", got)
	}

	l.Append("x")
	l.Append("y")
	l.Append("z")
	got = l.Snapshot()
	want := []string{"x", "y", "z"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReset_Empty(t *testing.T) {
	l := New(3)
	l.Append("a")
	l.Reset("")
	if got := l.Snapshot(); len(got) != 0 {
		t.Errorf("Snapshot = %v, want empty", got)
	}
}

func TestSnapshot_IsCopy(t *testing.T) {
	l := New(3)
	l.Append("a")
	snap := l.Snapshot()
	snap[0] = "mutated"
	if l.Snapshot()[0] != "a" {
		t.Error("Snapshot should not alias internal storage")
	}
}

func TestConcurrentAppendSnapshot(t *testing.T) {
	l := New(DefaultCapacity)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 500 {
			l.Append(fmt.Sprintf("%d", i))
		}
	}()

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				if n := len(l.Snapshot()); n > DefaultCapacity {
					t.Errorf("snapshot len %d exceeds capacity", n)
					return
				}
			}
		}()
	}
	wg.Wait()
}
