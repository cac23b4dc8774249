package domain

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// ContentKind tags how a fetched body should be turned into text.
type ContentKind int

const (
	ContentUnsupported ContentKind = iota
	ContentHTML
	ContentPDF
)

func (k ContentKind) String() string {
	switch k {
	case ContentHTML:
		return "html"
	case ContentPDF:
		return "pdf"
	default:
		return "unsupported"
	}
}

// Classify decides the content kind from the URL and the declared
// Content-Type header. A .pdf suffix wins over a generic declared type so
// that servers answering with application/octet-stream still get parsed.
func Classify(rawURL, contentType string) ContentKind {
	mediaType := ""
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = strings.ToLower(mt)
		} else {
			mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
		}
	}

	if mediaType == "application/pdf" || hasPDFSuffix(rawURL) {
		return ContentPDF
	}

	switch mediaType {
	case "", "text/html", "application/xhtml+xml", "text/plain":
		return ContentHTML
	}
	return ContentUnsupported
}

func hasPDFSuffix(rawURL string) bool {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.EqualFold(path.Ext(p), ".pdf")
}
