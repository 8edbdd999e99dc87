package transcript

import "math"

// DefaultLimit is the default number of turns retained per channel.
const DefaultLimit = 64

// Unbounded disables trimming. Reasoning sessions lift their private copy to
// Unbounded so context is never truncated mid-session.
const Unbounded = math.MaxInt

// Transcript is an ordered log of turns. It is append-only except for
// oldest-first eviction once its length exceeds the limit.
//
// Transcript is not safe for concurrent use; callers that share one guard it
// with their own lock.
type Transcript struct {
	turns []Turn
	limit int
}

// New creates an empty transcript. A non-positive limit selects DefaultLimit.
func New(limit int) *Transcript {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Transcript{limit: limit}
}

// Add appends turns in order and trims the oldest entries until the
// transcript fits its limit.
func (t *Transcript) Add(turns ...Turn) {
	for _, turn := range turns {
		t.turns = append(t.turns, turn.clone())
	}
	t.trim()
}

// Clear drops every turn. The limit is kept.
func (t *Transcript) Clear() {
	t.turns = nil
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	return len(t.turns)
}

// Limit returns the current entry limit.
func (t *Transcript) Limit() int {
	return t.limit
}

// SetLimit changes the entry limit. Lowering it trims immediately.
func (t *Transcript) SetLimit(limit int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	t.limit = limit
	t.trim()
}

// Turns returns a copy of all turns, oldest first.
func (t *Transcript) Turns() []Turn {
	return t.Since(0)
}

// Since returns a copy of the turns starting at index from.
func (t *Transcript) Since(from int) []Turn {
	if from < 0 {
		from = 0
	}
	if from >= len(t.turns) {
		return nil
	}
	out := make([]Turn, 0, len(t.turns)-from)
	for _, turn := range t.turns[from:] {
		out = append(out, turn.clone())
	}
	return out
}

// Last returns the newest turn.
func (t *Transcript) Last() (Turn, bool) {
	if len(t.turns) == 0 {
		return Turn{}, false
	}
	return t.turns[len(t.turns)-1].clone(), true
}

// Clone returns an independent deep copy with the same limit.
func (t *Transcript) Clone() *Transcript {
	return &Transcript{turns: t.Since(0), limit: t.limit}
}

func (t *Transcript) trim() {
	if len(t.turns) <= t.limit {
		return
	}
	drop := len(t.turns) - t.limit
	kept := make([]Turn, t.limit)
	copy(kept, t.turns[drop:])
	t.turns = kept
}
