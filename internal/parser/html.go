package parser

import (
	"fmt"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/go-shiori/go-readability"
)

// parseHTML extracts the main article content with go-readability, falling
// back to the raw document when extraction yields nothing useful, then
// converts the result to markdown, the same readability-then-markdown
// handoff used elsewhere in this codebase for fetched web pages.
func parseHTML(uri string, data []byte) (string, error) {
	base, err := url.Parse(uri)
	if err != nil || base.Scheme == "" {
		base = &url.URL{Scheme: "https", Host: "document.local"}
	}

	articleHTML := string(data)
	title := ""
	if article, err := readability.FromReader(strings.NewReader(string(data)), base); err == nil && strings.TrimSpace(article.Content) != "" {
		articleHTML = article.Content
		title = article.Title
	}

	md, err := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(base.String()))
	if err != nil {
		return "", fmt.Errorf("convert html to markdown: %w", err)
	}

	if title != "" && !strings.HasPrefix(strings.TrimSpace(md), "# ") {
		md = "# " + title + "\n\n" + md
	}
	return md, nil
}
