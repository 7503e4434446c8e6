package tileset

// SelectionResult is the per-frame traversal outcome recorded on a tile.
type SelectionResult int

const (
	ResultNone SelectionResult = iota
	ResultCulled
	ResultRendered
	ResultRefined
	ResultRenderedAndKicked
	ResultRefinedAndKicked
)

// SelectionState records the most recent traversal outcome for a tile
// (spec.md §3). Lookups by a stale frame number return ResultNone,
// forcing the caller to treat the tile as freshly seen.
type SelectionState struct {
	FrameNumber int64
	Result      SelectionResult
}

func NewSelectionState(frameNumber int64, result SelectionResult) SelectionState {
	return SelectionState{FrameNumber: frameNumber, Result: result}
}

// GetResult returns the recorded result if it belongs to lastFrameNumber,
// else ResultNone.
func (s SelectionState) GetResult(lastFrameNumber int64) SelectionResult {
	if s.FrameNumber != lastFrameNumber {
		return ResultNone
	}
	return s.Result
}

// GetOriginalResult strips the "kicked" annotation, returning the result
// as if the kick had not happened.
func (s SelectionState) GetOriginalResult(lastFrameNumber int64) SelectionResult {
	r := s.GetResult(lastFrameNumber)
	switch r {
	case ResultRenderedAndKicked:
		return ResultRendered
	case ResultRefinedAndKicked:
		return ResultRefined
	default:
		return r
	}
}

// WasKicked reports whether this state (if current for the given frame)
// records a kicked tile.
func (s SelectionState) WasKicked(currentFrameNumber int64) bool {
	if s.FrameNumber != currentFrameNumber {
		return false
	}
	return s.Result == ResultRenderedAndKicked || s.Result == ResultRefinedAndKicked
}

// Kick annotates a Rendered/Refined state as kicked in place, keeping the
// same frame number — used when an ancestor displaces this tile's
// rendered descendants (spec.md §4.1).
func (s *SelectionState) Kick() {
	switch s.Result {
	case ResultRendered:
		s.Result = ResultRenderedAndKicked
	case ResultRefined:
		s.Result = ResultRefinedAndKicked
	}
}
