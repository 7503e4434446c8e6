package tileset

import "testing"

func TestDistanceScratchAcquireReleaseReusesBuffers(t *testing.T) {
	var s distanceScratch

	buf1, release1 := s.acquire(3)
	if len(buf1) != 3 {
		t.Fatalf("len(buf1) = %d, want 3", len(buf1))
	}
	buf1[0] = 42
	release1()

	buf2, release2 := s.acquire(3)
	if &buf2[0] != &buf1[0] {
		t.Fatalf("expected acquire to reuse the released buffer's backing array")
	}
	release2()
}

func TestDistanceScratchNestedAcquire(t *testing.T) {
	var s distanceScratch

	outer, releaseOuter := s.acquire(2)
	inner, releaseInner := s.acquire(4)

	if len(outer) != 2 || len(inner) != 4 {
		t.Fatalf("unexpected buffer lengths: outer=%d inner=%d", len(outer), len(inner))
	}

	releaseInner()
	releaseOuter()

	// After both releases the stack should be fully reusable from scratch.
	again, release := s.acquire(2)
	if len(again) != 2 {
		t.Fatalf("len(again) = %d, want 2", len(again))
	}
	release()
}
