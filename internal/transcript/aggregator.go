package transcript

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/eponine0805/voice-app/internal/apperror"
	"github.com/eponine0805/voice-app/internal/transcription"
)

// Aggregator collects ChunkResults keyed by chunk index. Expect registers
// every emitted chunk so that Finalize can tell a missing result from a
// chunk that was never produced.
type Aggregator struct {
	expected int
	results  map[int]transcription.ChunkResult
	mu       sync.RWMutex
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{results: make(map[int]transcription.ChunkResult)}
}

// Expect registers an emitted chunk. Indices must be registered in order
// starting at 0.
func (a *Aggregator) Expect(index int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if index != a.expected {
		return fmt.Errorf("chunk %d registered out of order, next index is %d", index, a.expected)
	}
	a.expected++
	return nil
}

// Append records a result at its index. Results for unregistered or
// already recorded indices are rejected.
func (a *Aggregator) Append(result transcription.ChunkResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if result.Index < 0 || result.Index >= a.expected {
		return fmt.Errorf("result for unknown chunk %d (%d expected)", result.Index, a.expected)
	}
	if _, ok := a.results[result.Index]; ok {
		return fmt.Errorf("duplicate result for chunk %d", result.Index)
	}
	a.results[result.Index] = result
	return nil
}

// missing returns the registered indices without a result, ascending.
func (a *Aggregator) missing() []int {
	var out []int
	for i := 0; i < a.expected; i++ {
		if _, ok := a.results[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// Partial joins the texts recorded so far in index order.
func (a *Aggregator) Partial() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	indices := make([]int, 0, len(a.results))
	for i := range a.results {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	entries := make([]transcription.ChunkResult, len(indices))
	for n, i := range indices {
		entries[n] = a.results[i]
	}
	return joinTexts(entries)
}

// Finalize builds the Transcript. It fails with IncompleteTranscript if any
// registered chunk has no result.
func (a *Aggregator) Finalize() (Transcript, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if missing := a.missing(); len(missing) > 0 {
		return Transcript{}, apperror.IncompleteTranscript(missing)
	}

	entries := make([]transcription.ChunkResult, a.expected)
	for i := range entries {
		entries[i] = a.results[i]
	}
	return Transcript{Entries: entries}, nil
}

func joinTexts(entries []transcription.ChunkResult) string {
	var b strings.Builder
	for _, e := range entries {
		if !e.OK() {
			continue
		}
		appendText(&b, e.Text)
	}
	return b.String()
}

// appendText adds text with surrounding whitespace removed, separated from
// earlier text by a single space. Blank text is skipped.
func appendText(b *strings.Builder, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(text)
}
