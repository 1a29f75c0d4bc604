package stages

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/k3a/html2text"

	"github.com/tphakala/cmsbridge/internal/jsonapi"
)

// plainText converts formatted source text to plain text.
func plainText(html string) string {
	if html == "" {
		return ""
	}
	return strings.TrimSpace(html2text.HTML2Text(html))
}

// summarize shortens text to at most n runes, cutting at a word boundary.
func summarize(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	cut := n
	for cut > 0 && !unicode.IsSpace(runes[cut]) {
		cut--
	}
	if cut == 0 {
		cut = n
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace) + "…"
}

// legacyID returns the numeric source id, or nil when the record has none.
func legacyID(rec *jsonapi.Record) any {
	if id, ok := rec.InternalID(); ok {
		return id
	}
	return nil
}

func legacyIDString(rec *jsonapi.Record) string {
	if id, ok := rec.InternalID(); ok {
		return strconv.FormatInt(id, 10)
	}
	return ""
}

// status maps the published flag to the target workflow state.
func status(rec *jsonapi.Record) string {
	if rec.Attributes.Bool("status") {
		return "published"
	}
	return "draft"
}

// nullable turns an empty string into a JSON null.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
