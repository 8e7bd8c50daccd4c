package ingest

import "strings"

// DefaultChunkSize matches the embedding model's comfortable input
// length for sentence-transformer style models.
const DefaultChunkSize = 300

// separators are tried in order, preferring paragraph boundaries over
// sentence and clause boundaries.
var separators = []string{"\n\n", "\n", ".", ","}

// Split breaks text into chunks of at most chunkSize characters,
// splitting on the coarsest separator that keeps pieces under the
// limit. Chunks are trimmed and empties dropped.
func Split(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	raw := splitRecursive(text, chunkSize, separators)

	chunks := make([]string, 0, len(raw))
	for _, c := range raw {
		c = strings.TrimSpace(c)
		if c != "" {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

func splitRecursive(text string, chunkSize int, seps []string) []string {
	if len(text) <= chunkSize {
		return []string{text}
	}
	if len(seps) == 0 {
		return hardCut(text, chunkSize)
	}

	// SplitAfter keeps the separator attached so nothing is lost when
	// chunks are re-joined.
	pieces := strings.SplitAfter(text, seps[0])

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, piece := range pieces {
		if len(piece) > chunkSize {
			flush()
			chunks = append(chunks, splitRecursive(piece, chunkSize, seps[1:])...)
			continue
		}
		if current.Len()+len(piece) > chunkSize {
			flush()
		}
		current.WriteString(piece)
	}
	flush()

	return chunks
}

func hardCut(text string, chunkSize int) []string {
	var chunks []string
	for len(text) > chunkSize {
		chunks = append(chunks, text[:chunkSize])
		text = text[chunkSize:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
