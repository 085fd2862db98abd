// Package fingerprint derives the two identities every parsed chat message carries:
// a normalization-insensitive content hash used for near-duplicate detection, and a
// deterministic message ID used to recognise exact re-uploads of the same export.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// idBodyPrefix is the number of runes of the body that take part in a message ID.
const idBodyPrefix = 100

// ISOTimestamp renders timestamps inside message IDs. The explicit numeric offset
// keeps IDs stable for exports ingested by earlier tooling ("+00:00", not "Z").
const ISOTimestamp = "2006-01-02T15:04:05-07:00"

var (
	urlRegex   = regexp.MustCompile(`(?i)https?://\S+`)
	moneyRegex = regexp.MustCompile(`\$?\b\d[\d,]*(?:\.\d+)?\b`)
	phoneRegex = regexp.MustCompile(`\+?\d[\d\s\-()]{6,}`)
	punctRegex = regexp.MustCompile("[\\s\\-_,.!?:;~*`'\"]+")
)

// emptyHash is the digest of a single NUL byte. No normalized body can produce it
// because Normalize drops control characters.
var emptyHash = digest([]byte{0})

// NormalizeOptions toggles optional normalization steps.
type NormalizeOptions struct {
	// StripPhones removes phone-number-like runs from the body. Disabled by default:
	// two listings differing only by contact number are distinct announcements.
	StripPhones bool
}

// Normalize reduces a message body to the form that is hashed.
func Normalize(text string, opts NormalizeOptions) string {
	t := urlRegex.ReplaceAllString(text, " ")
	if opts.StripPhones {
		t = phoneRegex.ReplaceAllString(t, " ")
	}
	t = moneyRegex.ReplaceAllString(t, " ")
	t = strings.ToLower(t)
	t = punctRegex.ReplaceAllString(t, " ")
	t = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, t)
	return strings.Join(strings.Fields(t), " ")
}

// ContentHash returns the hex SHA-256 of the normalized body. Empty input maps to
// a fixed sentinel digest.
func ContentHash(text string) string {
	return ContentHashWith(text, NormalizeOptions{})
}

// ContentHashWith is ContentHash with explicit normalization options.
func ContentHashWith(text string, opts NormalizeOptions) string {
	if text == "" {
		return emptyHash
	}
	return digest([]byte(Normalize(text, opts)))
}

// MessageID returns the deterministic identifier of a parsed record. A nil
// timestamp contributes an empty segment.
func MessageID(conversation string, ts *time.Time, sender, body string) string {
	var stamp string
	if ts != nil {
		stamp = ts.UTC().Format(ISOTimestamp)
	}

	var b strings.Builder
	b.WriteString(conversation)
	b.WriteByte('|')
	b.WriteString(stamp)
	b.WriteByte('|')
	b.WriteString(sender)
	b.WriteByte('|')
	b.WriteString(runePrefix(body, idBodyPrefix))
	return digest([]byte(b.String()))
}

func runePrefix(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
