package parser

import (
	"errors"
	"strings"
	"testing"
)

func TestDetectFiletype_MagicBytes(t *testing.T) {
	ft, err := DetectFiletype("unnamed", []byte("%PDF-1.4 rest of file"))
	if err != nil || ft != FiletypePDF {
		t.Fatalf("expected pdf by magic bytes, got %v err=%v", ft, err)
	}
}

func TestDetectFiletype_ExtensionFallback(t *testing.T) {
	cases := map[string]Filetype{
		"notes.md":      FiletypeMarkdown,
		"notes.markdown": FiletypeMarkdown,
		"report.docx":   FiletypeDOCX,
		"page.html":     FiletypeHTML,
		"page.htm":      FiletypeHTML,
	}
	for uri, want := range cases {
		ft, err := DetectFiletype(uri, []byte("plain text, no magic bytes"))
		if err != nil || ft != want {
			t.Fatalf("%s: expected %v, got %v err=%v", uri, want, ft, err)
		}
	}
}

func TestDetectFiletype_Unsupported(t *testing.T) {
	_, err := DetectFiletype("notes.exe", []byte("whatever"))
	if err != ErrUnsupportedType {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestParse_MarkdownPassthrough(t *testing.T) {
	src := "# Title\n\nbody text\n"
	doc, err := Parse("a.md", FiletypeMarkdown, []byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Markdown != src {
		t.Fatalf("expected passthrough markdown, got %q", doc.Markdown)
	}
}

func TestParse_DeterministicHash(t *testing.T) {
	src := []byte("same content every time")
	a, err := Parse("a.md", FiletypeMarkdown, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Parse("b.md", FiletypeMarkdown, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ParsedHash != b.ParsedHash {
		t.Fatalf("expected identical hashes for identical markdown, got %x vs %x", a.ParsedHash, b.ParsedHash)
	}
	if a.ParsedHashHex() != b.ParsedHashHex() {
		t.Fatalf("expected identical hex hashes")
	}
	if len(a.ParsedHashHex()) != 32 {
		t.Fatalf("expected a 128-bit (32 hex char) hash, got %d chars", len(a.ParsedHashHex()))
	}
}

func TestParse_DifferentContentDifferentHash(t *testing.T) {
	a, _ := Parse("a.md", FiletypeMarkdown, []byte("content one"))
	b, _ := Parse("a.md", FiletypeMarkdown, []byte("content two"))
	if a.ParsedHash == b.ParsedHash {
		t.Fatalf("expected different hashes for different markdown")
	}
}

func TestParse_UnknownFiletype(t *testing.T) {
	_, err := Parse("a.bin", Filetype("bin"), []byte("x"))
	if err != ErrUnsupportedType {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestParse_WrapsFailureInParseError(t *testing.T) {
	// a PDF without the %%EOF trailer/xref table the ledongthuc/pdf reader
	// requires should fail to parse, and the failure should be reported as
	// a *ParseError carrying the originating filetype.
	_, err := Parse("broken.pdf", FiletypePDF, []byte("%PDF-1.4\nnot a real pdf body"))
	if err == nil {
		t.Fatalf("expected an error for a malformed pdf")
	}
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected a *ParseError, got %T: %v", err, err)
	}
	if perr.Filetype != FiletypePDF {
		t.Fatalf("expected filetype pdf in ParseError, got %v", perr.Filetype)
	}
	if !strings.Contains(perr.Error(), "parser: parse pdf") {
		t.Fatalf("unexpected error string: %v", perr.Error())
	}
}
