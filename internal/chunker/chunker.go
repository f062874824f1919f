// Package chunker implements splitting canonical markdown into
// contiguous, non-overlapping, section-aligned byte ranges.
package chunker

import "strings"

// Chunk is a half-open [Start, End) byte range into the source markdown.
type Chunk struct {
	Start int
	End   int
}

// Chunk partitions markdown by ATX headers (# through ######  at line
// start); the prefix before the first header is its own section, and each
// subsequent header starts a new one. Sections longer than maxChars are
// split into consecutive fixed-size windows, never crossing a section
// boundary. The result always covers the document exactly:
// chunks[i].End == chunks[i+1].Start, chunks[0].Start == 0, and
// chunks[len-1].End == len(markdown).
func Chunk(markdown string, maxChars int) []Chunk {
	if maxChars <= 0 {
		maxChars = 1024
	}
	if len(markdown) == 0 {
		return []Chunk{{Start: 0, End: 0}}
	}

	bounds := sectionBounds(markdown)

	var out []Chunk
	for i := 0; i < len(bounds)-1; i++ {
		out = append(out, splitSection(bounds[i], bounds[i+1], maxChars)...)
	}
	return out
}

// sectionBounds returns the offsets at which each section begins, plus a
// trailing sentinel equal to len(markdown), so that section i spans
// [bounds[i], bounds[i+1]).
func sectionBounds(markdown string) []int {
	bounds := []int{0}
	pos := 0
	for pos < len(markdown) {
		nl := strings.IndexByte(markdown[pos:], '\n')
		lineStart := pos
		var lineEnd int
		if nl < 0 {
			lineEnd = len(markdown)
			pos = len(markdown)
		} else {
			lineEnd = pos + nl
			pos = pos + nl + 1
		}
		if lineStart > 0 && isATXHeader(markdown[lineStart:lineEnd]) {
			bounds = append(bounds, lineStart)
		}
	}
	bounds = append(bounds, len(markdown))
	return bounds
}

func isATXHeader(line string) bool {
	n := 0
	for n < len(line) && n < 6 && line[n] == '#' {
		n++
	}
	if n == 0 || n > 6 {
		return false
	}
	if n == len(line) {
		return true
	}
	return line[n] == ' ' || line[n] == '\t'
}

// splitSection breaks [start, end) into consecutive fixed windows of at
// most maxChars, fully covering the section.
func splitSection(start, end, maxChars int) []Chunk {
	if start == end {
		return []Chunk{{Start: start, End: end}}
	}
	var out []Chunk
	for s := start; s < end; s += maxChars {
		e := s + maxChars
		if e > end {
			e = end
		}
		out = append(out, Chunk{Start: s, End: e})
	}
	return out
}
