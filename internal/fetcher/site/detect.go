package site

import (
	"regexp"
	"strings"
)

// Detector decides whether a plain HTTP body needs a browser to render.
type Detector struct {
	// MinBodyBytes: HTML smaller than this that still loads scripts is
	// treated as an application shell.
	MinBodyBytes int
}

// DefaultDetector returns the stock heuristic.
func DefaultDetector() Detector {
	return Detector{MinBodyBytes: 2048}
}

var (
	scriptTag = regexp.MustCompile(`(?i)<script[\s>]`)
	shellRoot = regexp.MustCompile(`(?i)<div[^>]+id=["'](app|root)["']`)
	bodyTag   = regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body>`)
	anyTag    = regexp.MustCompile(`(?s)<[^>]*>`)
	titleTag  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
)

// NeedsRendering reports whether the body looks like a JS shell: an
// HTML document that is tiny or textless but loads scripts, or carries
// a bare SPA mount point.
func (d Detector) NeedsRendering(contentType string, body []byte) bool {
	if !strings.Contains(strings.ToLower(contentType), "text/html") {
		return false
	}
	if !scriptTag.Match(body) {
		return false
	}
	if shellRoot.Match(body) && visibleTextLen(body) < 64 {
		return true
	}
	min := d.MinBodyBytes
	if min <= 0 {
		min = 2048
	}
	return len(body) < min && visibleTextLen(body) < 64
}

// visibleTextLen approximates how much human-readable text the body
// carries.
func visibleTextLen(body []byte) int {
	m := bodyTag.FindSubmatch(body)
	if m == nil {
		return 0
	}
	text := anyTag.ReplaceAll(m[1], nil)
	return len(strings.TrimSpace(string(text)))
}

// extractTitle pulls the <title> text out of rendered HTML.
func extractTitle(html string) string {
	m := titleTag.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
