package simrand

import (
	"sync"
	"testing"
	"time"
)

func TestLockedSourceIsDeterministicForSeed(t *testing.T) {
	t.Parallel()

	a := New(42)
	b := New(42)
	for i := 0; i < 20; i++ {
		if x, y := a.Intn(1000), b.Intn(1000); x != y {
			t.Fatalf("draw %d differs: %d != %d", i, x, y)
		}
	}
}

func TestLockedSourceConcurrentUse(t *testing.T) {
	t.Parallel()

	src := New(7)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if v := src.Intn(10); v < 0 || v >= 10 {
					t.Errorf("Intn(10) = %d, out of range", v)
				}
			}
		}()
	}
	wg.Wait()
}

func TestPercentBoundaries(t *testing.T) {
	t.Parallel()

	if Percent(Fixed(0), 0) {
		t.Fatal("Percent(0) = true, want false")
	}
	if !Percent(Fixed(99), 100) {
		t.Fatal("Percent(100) = false, want true")
	}
	if !Percent(Fixed(9), 10) {
		t.Fatal("draw 9 under 10% should fail")
	}
	if Percent(Fixed(10), 10) {
		t.Fatal("draw 10 under 10% should not fail")
	}
}

func TestBetween(t *testing.T) {
	t.Parallel()

	if got := Between(Fixed(0), 0, 0); got != 0 {
		t.Fatalf("Between(0, 0) = %s, want 0", got)
	}
	if got := Between(Fixed(0), 10*time.Millisecond, 50*time.Millisecond); got != 10*time.Millisecond {
		t.Fatalf("Between() low draw = %s, want 10ms", got)
	}
	if got := Between(Fixed(1000), 10*time.Millisecond, 50*time.Millisecond); got != 50*time.Millisecond {
		t.Fatalf("Between() high draw = %s, want 50ms", got)
	}
}
