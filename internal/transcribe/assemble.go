package transcribe

import (
	"errors"
	"strings"
)

// ErrEmptyTranscript is returned when no chunk produced any text.
var ErrEmptyTranscript = errors.New("no chunk produced a transcript")

// Assemble joins ordered chunk results into one transcript. Empty results
// are dropped without a placeholder; the survivors are joined by newlines in
// chunk order. If every chunk came back empty the run failed as a whole.
func Assemble(results []ChunkResult) (string, error) {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Text == "" {
			continue
		}
		parts = append(parts, r.Text)
	}
	if len(parts) == 0 {
		return "", ErrEmptyTranscript
	}
	return strings.Join(parts, "\n"), nil
}
