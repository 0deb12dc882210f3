package knowledge

import "strings"

// Chunk splits text into slices of at most chunkSize tokens, advancing by
// (chunkSize - overlap) tokens between chunks so consecutive chunks share
// overlap tokens at their boundary.
//
// Rules:
//   - Empty or whitespace-only input returns nil (no chunks created).
//   - Text shorter than chunkSize returns a single chunk equal to the full text.
//   - Each returned chunk is the joined text of its tokens (single space separator).
//   - overlap must be < chunkSize; if not, overlap is clamped to chunkSize-1.
//
// Token definition: whitespace-separated word (strings.Fields).
func Chunk(text string, chunkSize, overlap int) []string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}
	if overlap < 0 {
		overlap = 0
	}

	if len(tokens) <= chunkSize {
		return []string{strings.Join(tokens, " ")}
	}

	stride := chunkSize - overlap
	var chunks []string
	for start := 0; start < len(tokens); start += stride {
		end := min(start+chunkSize, len(tokens))
		chunks = append(chunks, strings.Join(tokens[start:end], " "))
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

// Section is a Markdown heading plus the body under it.
type Section struct {
	Heading string
	Body    string
}

// SplitMarkdown cuts a document at ATX headings (#, ##, ...). Text before the
// first heading becomes a section with an empty heading. Headings inside
// fenced code blocks are ignored.
func SplitMarkdown(text string) []Section {
	var (
		sections []Section
		cur      Section
		body     strings.Builder
		inFence  bool
	)
	flush := func() {
		cur.Body = strings.TrimSpace(body.String())
		if cur.Heading != "" || cur.Body != "" {
			sections = append(sections, cur)
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence && isHeading(trimmed) {
			flush()
			cur = Section{Heading: strings.TrimSpace(strings.TrimLeft(trimmed, "#"))}
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()
	return sections
}

// ChunkMarkdown chunks each section separately, prefixing every chunk with
// its heading so the retrieved passage keeps its context.
func ChunkMarkdown(text string, chunkSize, overlap int) []string {
	var out []string
	for _, s := range SplitMarkdown(text) {
		for _, c := range Chunk(s.Body, chunkSize, overlap) {
			if s.Heading != "" {
				c = s.Heading + "\n" + c
			}
			out = append(out, c)
		}
	}
	return out
}

func isHeading(line string) bool {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	return level > 0 && level <= 6 && len(line) > level && line[level] == ' '
}
