package storage

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slugify produces a URL-safe identifier from a video title: accents are
// stripped, letters lowercased, and every other run of characters collapses to
// a single dash. An empty result falls back to "video" so slugs are never
// blank.
func Slugify(input string) string {
	chain := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	flattened, _, err := transform.String(chain, input)
	if err != nil {
		flattened = input
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(flattened) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			if b.Len() > 0 {
				pendingDash = true
			}
			continue
		}
		if pendingDash {
			b.WriteByte('-')
			pendingDash = false
		}
		b.WriteRune(r)
	}

	slug := b.String()
	if slug == "" {
		return "video"
	}
	return slug
}
