package rooms

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fallbackSlug is used when a name has no letters or digits left after
// folding.
const fallbackSlug = "room"

// Slugify derives the base slug of a room name: lower case, diacritics
// removed, every run of characters outside [a-z0-9] collapsed to a single
// hyphen, with no leading or trailing hyphen.
func Slugify(name string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, strings.ToLower(name))
	if err != nil {
		folded = strings.ToLower(name)
	}

	var b strings.Builder
	b.Grow(len(folded))
	pendingHyphen := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	if b.Len() == 0 {
		return fallbackSlug
	}
	return b.String()
}

// candidate returns the n-th slug tried for base: base itself, then base-1,
// base-2 and so on.
func candidate(base string, n int) string {
	if n == 0 {
		return base
	}
	return base + "-" + strconv.Itoa(n)
}
