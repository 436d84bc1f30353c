// Package ingest turns uploaded documents into searchable chunks: it extracts
// text, splits it into overlapping windows, embeds them and stores the result.
package ingest

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// Chunk splits text into windows of size characters advancing by
// size-overlap. Non-positive values fall back to the defaults. An overlap that
// is not below size is reduced to a fifth of size. Empty text yields no chunks.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap <= 0 {
		overlap = DefaultOverlap
	}
	if overlap >= size {
		overlap = size / 5
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
