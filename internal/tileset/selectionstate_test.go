package tileset

import "testing"

func TestSelectionStateGetOriginalResult(t *testing.T) {
	s := NewSelectionState(7, ResultRenderedAndKicked)
	if got := s.GetOriginalResult(7); got != ResultRendered {
		t.Fatalf("GetOriginalResult = %v, want ResultRendered", got)
	}

	s = NewSelectionState(7, ResultRefinedAndKicked)
	if got := s.GetOriginalResult(7); got != ResultRefined {
		t.Fatalf("GetOriginalResult = %v, want ResultRefined", got)
	}

	s = NewSelectionState(7, ResultCulled)
	if got := s.GetOriginalResult(7); got != ResultCulled {
		t.Fatalf("GetOriginalResult should pass through non-kicked results, got %v", got)
	}
}

func TestSelectionStateWasKicked(t *testing.T) {
	s := NewSelectionState(3, ResultRenderedAndKicked)
	if !s.WasKicked(3) {
		t.Fatalf("expected WasKicked true for current frame")
	}
	if s.WasKicked(4) {
		t.Fatalf("expected WasKicked false for a stale frame number")
	}

	s = NewSelectionState(3, ResultRendered)
	if s.WasKicked(3) {
		t.Fatalf("a plain Rendered result is not kicked")
	}
}

func TestSelectionStateKick(t *testing.T) {
	s := NewSelectionState(1, ResultRendered)
	s.Kick()
	if s.Result != ResultRenderedAndKicked {
		t.Fatalf("Kick() on Rendered = %v, want ResultRenderedAndKicked", s.Result)
	}

	s = NewSelectionState(1, ResultRefined)
	s.Kick()
	if s.Result != ResultRefinedAndKicked {
		t.Fatalf("Kick() on Refined = %v, want ResultRefinedAndKicked", s.Result)
	}

	s = NewSelectionState(1, ResultCulled)
	s.Kick()
	if s.Result != ResultCulled {
		t.Fatalf("Kick() on a non-rendered result should be a no-op, got %v", s.Result)
	}
}
