// validation.go - Upload filename sanitization helpers
package server

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultInvalidName is the stored name used when nothing of the client
// supplied filename survives sanitization.
const DefaultInvalidName = "invalid"

// transliterations covers lowercase letters that NFKD does not split into a
// base letter plus combining mark.
var transliterations = map[rune]string{
	'đ': "d",
	'ð': "d",
	'ß': "ss",
	'æ': "ae",
	'œ': "oe",
	'ø': "o",
	'ł': "l",
	'þ': "th",
	'ı': "i",
}

// SanitizeUploadPath turns a client supplied filename into a relative path
// that is safe to join under the upload root. The name is split on "/", each
// segment is slugified on its own and the survivors are joined back with "/",
// so "Docs/My File.txt" becomes "docs/myfile.txt".
//
// Segments that end up empty or made only of dots ("." and "..") are dropped.
// If no segment survives, invalidName is returned.
func SanitizeUploadPath(original, invalidName string) string {
	if invalidName == "" {
		invalidName = DefaultInvalidName
	}

	segments := strings.Split(original, "/")
	kept := make([]string, 0, len(segments))
	for _, seg := range segments {
		slug := slugSegment(seg)
		if isDotsOnly(slug) {
			continue
		}
		kept = append(kept, slug)
	}

	if len(kept) == 0 {
		return invalidName
	}
	return strings.Join(kept, "/")
}

// slugSegment folds a single path segment to [a-z0-9._-]. Whitespace is
// removed rather than replaced, so "My File" becomes "myfile".
func slugSegment(seg string) string {
	// transform.Chain keeps internal buffers and must not be shared.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, seg)
	if err != nil {
		folded = seg
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if repl, ok := transliterations[r]; ok {
			b.WriteString(repl)
			continue
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}

	return strings.Trim(b.String(), "-")
}

func isDotsOnly(s string) bool {
	return strings.Trim(s, ".") == ""
}
