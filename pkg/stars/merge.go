package stars

// Window is a closed interval of Unix seconds during which a star is believed present.
type Window struct {
	Min int64
	Max int64
}

// MergeOutcome describes what happened to the store for one report entry.
type MergeOutcome int

const (
	// MergeInserted means no recent matching sighting existed and a new one was stored
	MergeInserted MergeOutcome = iota
	// MergeNarrowed means the stored window shrank to the overlap
	MergeNarrowed
	// MergeUnchanged means the report confirmed the stored window exactly
	MergeUnchanged
	// MergeContradiction means the windows did not overlap and the report was dropped
	MergeContradiction
)

func (o MergeOutcome) String() string {
	switch o {
	case MergeInserted:
		return "inserted"
	case MergeNarrowed:
		return "narrowed"
	case MergeUnchanged:
		return "unchanged"
	case MergeContradiction:
		return "contradiction"
	default:
		return "unknown"
	}
}

// MatchFloor is the exclusive lower bound on a stored maxTime for that
// sighting to be merged with an incoming report starting at minTime.
func MatchFloor(minTime int64) int64 {
	return minTime - MergeSlack
}

// Narrow intersects the stored window with an incoming one. Later reports can
// only shrink a window. ok is false when the windows do not overlap, in which
// case the stored window must be kept as is.
func Narrow(stored, incoming Window) (merged Window, ok bool) {
	merged = Window{
		Min: max(stored.Min, incoming.Min),
		Max: min(stored.Max, incoming.Max),
	}
	if merged.Min > merged.Max {
		return stored, false
	}
	return merged, true
}

// Resolve decides how an incoming report applies to the newest matching stored
// window, if any, and returns the window that should be stored.
func Resolve(stored *Window, incoming Window) (Window, MergeOutcome) {
	if stored == nil {
		return incoming, MergeInserted
	}
	merged, ok := Narrow(*stored, incoming)
	if !ok {
		return *stored, MergeContradiction
	}
	if merged == *stored {
		return merged, MergeUnchanged
	}
	return merged, MergeNarrowed
}
