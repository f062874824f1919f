// Package parser implements conversion of raw document bytes to
// canonical markdown, with a deterministic 128-bit content hash of the
// result.
package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

// Filetype is the set of document kinds the parser recognizes. html is a
// supplemental addition beyond the original {md, docx, pdf} set, giving
// html-to-markdown and go-readability a concrete home.
type Filetype string

const (
	FiletypeMarkdown Filetype = "md"
	FiletypeDOCX     Filetype = "docx"
	FiletypePDF      Filetype = "pdf"
	FiletypeHTML     Filetype = "html"
)

// ErrUnsupportedType is returned when neither magic bytes nor the filename
// extension identify a recognized filetype.
var ErrUnsupportedType = errors.New("parser: unsupported filetype")

// ParseError wraps a failure to parse otherwise-recognized bytes, keeping
// the internal detail out of the catalog's public error_message per the
// error taxonomy.
type ParseError struct {
	Filetype Filetype
	Err      error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parser: parse %s: %v", e.Filetype, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// ParsedDocument is the parser's output: the canonical markdown and its 128-bit
// content hash.
type ParsedDocument struct {
	ParsedHash [16]byte
	Markdown   string
}

// ParsedHashHex renders the 128-bit hash as a lowercase hex string, the
// form stored in the catalog and used as the vector-store partition key.
func (p ParsedDocument) ParsedHashHex() string {
	return fmt.Sprintf("%x", p.ParsedHash)
}

// DetectFiletype infers the filetype from magic bytes, falling back to the
// filename extension. Returns ErrUnsupportedType if neither identifies a
// recognized kind.
func DetectFiletype(uri string, data []byte) (Filetype, error) {
	if ft, ok := sniffMagic(data); ok {
		return ft, nil
	}
	ext := strings.ToLower(strings.TrimPrefix(extOf(uri), "."))
	switch ext {
	case "md", "markdown":
		return FiletypeMarkdown, nil
	case "docx":
		return FiletypeDOCX, nil
	case "pdf":
		return FiletypePDF, nil
	case "html", "htm":
		return FiletypeHTML, nil
	}
	return "", ErrUnsupportedType
}

func extOf(uri string) string {
	if i := strings.LastIndexByte(uri, '.'); i >= 0 {
		return uri[i:]
	}
	return ""
}

func sniffMagic(data []byte) (Filetype, bool) {
	switch {
	case len(data) >= 4 && string(data[:4]) == "%PDF":
		return FiletypePDF, true
	case len(data) >= 4 && data[0] == 'P' && data[1] == 'K' && data[2] == 0x03 && data[3] == 0x04:
		// docx (and any other zip-based format) share this signature;
		// extension fallback disambiguates from plain zip archives.
		return "", false
	}
	return "", false
}

// Parse converts raw bytes of the given filetype to canonical markdown.
// Output is deterministic for a fixed (filetype, bytes): the same input
// always yields the same ParsedHash.
func Parse(uri string, ft Filetype, data []byte) (ParsedDocument, error) {
	var md string
	var err error

	switch ft {
	case FiletypeMarkdown:
		md, err = parseMarkdown(data)
	case FiletypeDOCX:
		md, err = parseDOCX(data)
	case FiletypePDF:
		md, err = parsePDF(data)
	case FiletypeHTML:
		md, err = parseHTML(uri, data)
	default:
		return ParsedDocument{}, ErrUnsupportedType
	}
	if err != nil {
		return ParsedDocument{}, &ParseError{Filetype: ft, Err: err}
	}

	return ParsedDocument{
		ParsedHash: xxh3.Hash128([]byte(md)).Bytes(),
		Markdown:   md,
	}, nil
}

func parseMarkdown(data []byte) (string, error) {
	return string(data), nil
}
