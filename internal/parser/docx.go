package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// docx is a zip archive; the visible text lives in word/document.xml as a
// sequence of <w:p> paragraphs containing <w:t> text runs. No docx library
// exists anywhere in the reference pack, so this walks the OOXML directly
// with the standard library.
type wordBody struct {
	Paragraphs []wordParagraph `xml:"body>p"`
}

type wordParagraph struct {
	Runs []wordRun `xml:"r"`
}

type wordRun struct {
	Text []string `xml:"t"`
}

func parseDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx zip: %w", err)
	}

	f, err := findZipFile(zr, "word/document.xml")
	if err != nil {
		return "", err
	}

	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read document.xml: %w", err)
	}

	var body wordBody
	if err := xml.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("decode document.xml: %w", err)
	}

	var out strings.Builder
	for _, p := range body.Paragraphs {
		var para strings.Builder
		for _, r := range p.Runs {
			for _, t := range r.Text {
				para.WriteString(t)
			}
		}
		if para.Len() == 0 {
			continue
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(para.String())
	}
	return out.String(), nil
}

func findZipFile(zr *zip.Reader, name string) (*zip.File, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("docx: %s not found", name)
}
