package fetch

import (
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// URLFilter drops URLs whose "host/path" matches any exclude pattern,
// e.g. "*.youtube.com/**" or "**/*.zip".
type URLFilter struct {
	excludes []string
}

func NewURLFilter(excludes []string) *URLFilter {
	valid := make([]string, 0, len(excludes))
	for _, p := range excludes {
		if doublestar.ValidatePattern(p) {
			valid = append(valid, p)
		}
	}
	return &URLFilter{excludes: valid}
}

func (f *URLFilter) Excluded(rawURL string) bool {
	if f == nil || len(f.excludes) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}

	target := strings.ToLower(u.Hostname()) + u.EscapedPath()
	for _, pattern := range f.excludes {
		matched, err := doublestar.Match(pattern, target)
		if err == nil && matched {
			return true
		}
	}
	return false
}
