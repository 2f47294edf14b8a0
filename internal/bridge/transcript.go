package bridge

import (
	"strings"
	"sync"
)

// UserLabel is the speaker label for the user's lines.
const UserLabel = "You"

// emptySide renders the missing half of a one-sided turn.
const emptySide = "…"

// Transcript is a capped log of "speaker: text" lines. Only the most recent
// lines are kept. It is safe for concurrent use.
type Transcript struct {
	mu    sync.Mutex
	max   int
	lines []string
}

// NewTranscript returns an empty log keeping at most max lines. A
// non-positive max keeps 50.
func NewTranscript(max int) *Transcript {
	if max <= 0 {
		max = 50
	}
	return &Transcript{max: max}
}

// Append adds lines and drops the oldest ones beyond the cap.
func (t *Transcript) Append(lines ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, lines...)
	if over := len(t.lines) - t.max; over > 0 {
		t.lines = append(t.lines[:0:0], t.lines[over:]...)
	}
}

// Lines returns a copy of the log, oldest first.
func (t *Transcript) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}

// Len returns the number of lines held.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lines)
}

// turnBuffer accumulates partial transcripts until the turn completes.
// Owned by the receive loop.
type turnBuffer struct {
	user      strings.Builder
	assistant strings.Builder
}

// flush returns the trimmed accumulated text and resets the buffer. A turn
// whose sides are both blank after trimming is not recorded.
func (tb *turnBuffer) flush() (user, assistant string) {
	user = strings.TrimSpace(tb.user.String())
	assistant = strings.TrimSpace(tb.assistant.String())
	tb.user.Reset()
	tb.assistant.Reset()
	return user, assistant
}

// formatLine renders one transcript line, substituting the ellipsis for an
// empty side.
func formatLine(speaker, text string) string {
	if text == "" {
		text = emptySide
	}
	return speaker + ": " + text
}
