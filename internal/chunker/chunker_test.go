package chunker

import (
	"strings"
	"testing"
)

func assertContiguous(t *testing.T, markdown string, chunks []Chunk) {
	t.Helper()
	if len(chunks) == 0 {
		t.Fatalf("expected at least one chunk")
	}
	if chunks[0].Start != 0 {
		t.Fatalf("first chunk must start at 0, got %d", chunks[0].Start)
	}
	if chunks[len(chunks)-1].End != len(markdown) {
		t.Fatalf("last chunk must end at %d, got %d", len(markdown), chunks[len(chunks)-1].End)
	}
	for i := 0; i < len(chunks)-1; i++ {
		if chunks[i].End != chunks[i+1].Start {
			t.Fatalf("gap/overlap between chunk %d (end %d) and chunk %d (start %d)", i, chunks[i].End, i+1, chunks[i+1].Start)
		}
	}
}

func TestChunk_EmptyMarkdown(t *testing.T) {
	chunks := Chunk("", 512)
	if len(chunks) != 1 || chunks[0] != (Chunk{0, 0}) {
		t.Fatalf("expected single empty chunk, got %v", chunks)
	}
}

func TestChunk_NoHeadersSingleSection(t *testing.T) {
	text := "just a paragraph with no headers at all."
	chunks := Chunk(text, 1024)
	assertContiguous(t, text, chunks)
	if len(chunks) != 1 {
		t.Fatalf("expected a single chunk for a short header-less doc, got %d", len(chunks))
	}
}

func TestChunk_SplitsOnATXHeaders(t *testing.T) {
	text := "intro\n\n# Title\n\npara1\n\n## Sub\n\npara2\n"
	chunks := Chunk(text, 1024)
	assertContiguous(t, text, chunks)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 sections (prefix, Title, Sub), got %d: %v", len(chunks), chunks)
	}
	if !strings.HasPrefix(text[chunks[1].Start:chunks[1].End], "# Title") {
		t.Fatalf("second chunk should start at the Title header: %q", text[chunks[1].Start:chunks[1].End])
	}
}

func TestChunk_LongSectionSplitsIntoWindowsWithoutCrossingBoundary(t *testing.T) {
	section := strings.Repeat("word ", 100) // 500 chars
	text := "# A\n\n" + section + "\n# B\n\nshort"
	chunks := Chunk(text, 64)
	assertContiguous(t, text, chunks)

	bBoundary := strings.Index(text, "# B")
	for _, c := range chunks {
		if c.Start < bBoundary && c.End > bBoundary {
			t.Fatalf("chunk %v crosses section boundary at %d", c, bBoundary)
		}
	}
}

func TestChunk_HeaderRequiresLineStart(t *testing.T) {
	text := "not a header # inline\nmore text"
	chunks := Chunk(text, 1024)
	assertContiguous(t, text, chunks)
	if len(chunks) != 1 {
		t.Fatalf("a '#' mid-line is not a header boundary, expected 1 chunk, got %d", len(chunks))
	}
}
