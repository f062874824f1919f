package parser

import (
	"archive/zip"
	"bytes"
	"testing"
)

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := f.Write([]byte(documentXML)); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	return buf.Bytes()
}

func TestParseDOCX_ExtractsParagraphs(t *testing.T) {
	xmlBody := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`
	data := buildDOCX(t, xmlBody)

	md, err := parseDOCX(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "First paragraph.\n\nSecond paragraph."
	if md != want {
		t.Fatalf("expected %q, got %q", want, md)
	}
}

func TestParseDOCX_MissingDocumentXML(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if _, err := zw.Create("word/other.xml"); err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}

	if _, err := parseDOCX(buf.Bytes()); err == nil {
		t.Fatalf("expected an error when word/document.xml is absent")
	}
}

func TestParseDOCX_NotAZip(t *testing.T) {
	if _, err := parseDOCX([]byte("not a zip at all")); err == nil {
		t.Fatalf("expected an error for non-zip input")
	}
}
