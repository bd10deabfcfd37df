package service

import (
	"strings"

	"github.com/Agent-Artificial/llama3/internal/prompt"
)

// stopFilter cuts a stream of deltas at the first stop string. Text that
// could be the start of a stop string split across deltas is held back
// until the next delta decides it.
type stopFilter struct {
	stops   []string
	pending string
}

func newStopFilter(stops []string) *stopFilter {
	return &stopFilter{stops: stops}
}

// push adds delta and returns the text that is safe to emit. stopped is
// true once a stop string was found; nothing after it is returned.
func (f *stopFilter) push(delta string) (emit string, stopped bool) {
	f.pending += delta

	if cut := prompt.TruncateAtTerminator(f.pending, f.stops); len(cut) < len(f.pending) {
		f.pending = ""
		return cut, true
	}

	hold := f.partialSuffix()
	emit = f.pending[:len(f.pending)-hold]
	f.pending = f.pending[len(f.pending)-hold:]
	return emit, false
}

// flush returns any held-back text at the end of the stream.
func (f *stopFilter) flush() string {
	p := f.pending
	f.pending = ""
	return p
}

// partialSuffix is the length of the longest suffix of pending that is a
// proper prefix of some stop string.
func (f *stopFilter) partialSuffix() int {
	longest := 0
	for _, s := range f.stops {
		limit := len(s) - 1
		if limit > len(f.pending) {
			limit = len(f.pending)
		}
		for n := limit; n > longest; n-- {
			if strings.HasSuffix(f.pending, s[:n]) {
				longest = n
				break
			}
		}
	}
	return longest
}
