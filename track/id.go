package track

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// NewID builds a track id from the content-stable document id plus a short
// random disambiguator. The stable prefix keeps idempotency checks possible;
// the suffix keeps ids unique if the same document is ever re-admitted after
// a delete.
func NewID(docID int64) string {
	return strconv.FormatInt(docID, 10) + "-" + uuid.NewString()[:8]
}

const titleMaxLen = 128

// SanitizeTitle strips path-hostile and control characters from a display
// name and bounds its length.
func SanitizeTitle(s string) string {
	mapped := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return -1
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	mapped = strings.Join(strings.Fields(mapped), " ")
	mapped = strings.Trim(mapped, ". ")
	if mapped == "" {
		return "untitled"
	}
	if len(mapped) > titleMaxLen {
		cut := titleMaxLen
		for cut > 0 && !utf8.RuneStart(mapped[cut]) {
			cut--
		}
		mapped = mapped[:cut]
	}
	return mapped
}
