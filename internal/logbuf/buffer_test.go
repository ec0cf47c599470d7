package logbuf

import (
	"fmt"
	"strconv"
	"sync"
	"testing"
)

func TestAppendAndLines(t *testing.T) {
	b := New(10)
	b.Append("a")
	b.Appendf("b-%d", 2)
	got := b.Lines()
	if len(got) != 2 || got[0] != "a" || got[1] != "b-2" {
		t.Fatalf("unexpected lines: %#v", got)
	}
	if b.Len() != 2 || b.Max() != 10 {
		t.Fatalf("len/max mismatch: %d %d", b.Len(), b.Max())
	}
}

func TestEvictsOldestFirst(t *testing.T) {
	b := New(3)
	for i := 0; i < 7; i++ {
		b.Append(strconv.Itoa(i))
	}
	got := b.Lines()
	want := []string{"4", "5", "6"}
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %d (%#v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: got %q want %q", i, got[i], want[i])
		}
	}
	if b.Total() != 7 {
		t.Fatalf("total: got %d want 7", b.Total())
	}
}

func TestNeverExceedsBound(t *testing.T) {
	for _, max := range []int{1, 2, 5, 64, 100} {
		b := New(max)
		for i := 0; i < max*3+1; i++ {
			b.Append("x")
			if b.Len() > max {
				t.Fatalf("max=%d: len %d exceeded bound after %d appends", max, b.Len(), i+1)
			}
		}
	}
}

func TestDefaultBound(t *testing.T) {
	if New(0).Max() != DefaultMaxLines || New(-5).Max() != DefaultMaxLines {
		t.Fatalf("non-positive size should fall back to DefaultMaxLines")
	}
}

func TestTail(t *testing.T) {
	b := New(4)
	for i := 0; i < 6; i++ {
		b.Append(strconv.Itoa(i))
	}
	got := b.Tail(2)
	if len(got) != 2 || got[0] != "4" || got[1] != "5" {
		t.Fatalf("tail(2): %#v", got)
	}
	if all := b.Tail(0); len(all) != 4 || all[0] != "2" {
		t.Fatalf("tail(0) should return everything: %#v", all)
	}
	if all := b.Tail(100); len(all) != 4 {
		t.Fatalf("tail(100) should clamp: %#v", all)
	}
}

func TestLinesIsACopy(t *testing.T) {
	b := New(2)
	b.Append("one")
	snap := b.Lines()
	snap[0] = "mutated"
	if b.Lines()[0] != "one" {
		t.Fatalf("snapshot aliases internal storage")
	}
}

func TestConcurrentWriters(t *testing.T) {
	b := New(50)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				b.Append(fmt.Sprintf("w%d-%d", w, i))
				_ = b.Lines()
			}
		}(w)
	}
	wg.Wait()
	if b.Len() != 50 {
		t.Fatalf("expected buffer to be full at 50, got %d", b.Len())
	}
	if b.Total() != 800 {
		t.Fatalf("expected 800 appends, got %d", b.Total())
	}
}
