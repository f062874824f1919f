// Package passage implements merging chunk-vector hits into
// section-aligned passages for the generator.
//
// Header-offset enumeration reuses the ATX header-detection logic from
// the chunker package; the hit-to-section mapping and non-merging
// extend-to-section-bounds behavior are specific to retrieval.
package passage

import "strings"

// Hit is one chunk-vector result: a byte range plus its distance under the
// store's declared metric.
type Hit struct {
	Start    int
	End      int
	Distance float64
}

// Passage is a section-aligned contiguous substring of markdown, built from
// one or more chunk hits that fell inside it.
type Passage struct {
	Start    int
	End      int
	Text     string
	Distance float64
}

// Assemble enumerates header offsets in markdown, maps each hit to the
// section containing its Start, and emits one passage per section that
// received at least one hit — spanning the whole section, not just the
// hit chunk — with Distance set to the minimum of its hits' distances.
// Adjacent sections with hits are never merged; each stays its own
// passage even when they're textually contiguous.
func Assemble(markdown string, hits []Hit) []Passage {
	if len(hits) == 0 {
		return nil
	}
	bounds := sectionStarts(markdown)

	bySection := make(map[int]*Passage)
	var order []int
	for _, h := range hits {
		idx := sectionIndex(bounds, h.Start)
		p, ok := bySection[idx]
		if !ok {
			start := bounds[idx]
			end := len(markdown)
			if idx+1 < len(bounds) {
				end = bounds[idx+1]
			}
			p = &Passage{Start: start, End: end, Text: markdown[start:end], Distance: h.Distance}
			bySection[idx] = p
			order = append(order, idx)
		} else if h.Distance < p.Distance {
			p.Distance = h.Distance
		}
	}

	out := make([]Passage, 0, len(order))
	for _, idx := range order {
		out = append(out, *bySection[idx])
	}
	return out
}

// sectionStarts returns the offsets at which each section begins: position
// 0, plus every ATX header line start. It does not append the trailing
// sentinel len(markdown); callers treat "no next bound" as extending to the
// document's end.
func sectionStarts(markdown string) []int {
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

// sectionIndex returns the index i such that bounds[i] <= offset and either
// i is the last index or offset < bounds[i+1].
func sectionIndex(bounds []int, offset int) int {
	idx := 0
	for i, b := range bounds {
		if b <= offset {
			idx = i
		} else {
			break
		}
	}
	return idx
}
