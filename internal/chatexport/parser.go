// Package chatexport parses WhatsApp-style plain text chat exports into structured
// records. An export is a sequence of "[date, time] sender: body" records where a
// body may span several physical lines and only the next timestamp marker ends it.
package chatexport

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/edgard/chatdedup/internal/fingerprint"
)

// DefaultUnknownConversation names exports whose first line carries no record.
const DefaultUnknownConversation = "Unknown Group"

// Options configures the parser.
type Options struct {
	// UnknownConversation replaces the conversation name when it cannot be recovered.
	UnknownConversation string
}

// Record is one candidate message recovered from an export.
type Record struct {
	MessageID   string
	Sender      string
	SenderPhone string
	Timestamp   *time.Time // nil when no known layout matched
	Body        string
	Links       []string
}

// Export is the parsed form of one transcript.
type Export struct {
	ConversationName string
	Records          []Record
}

var (
	// markerRegex finds record starts: a line beginning with "[date, time]".
	markerRegex = regexp.MustCompile(`(?m)^\[(\d{1,2}/\d{1,2}/\d{2,4}),[ \t]*(\d{1,2}:\d{2}(?::\d{2})?[ \t]*(?:[AaPp][Mm])?)\]`)

	// headerRegex splits what follows a marker into sender and body.
	headerRegex = regexp.MustCompile(`^[ \t]*~?[ \t]*([^:\n]+):(?s:(.*))$`)

	// firstLineRegex recovers the conversation name from the first line.
	firstLineRegex = regexp.MustCompile(`^\[\d{1,2}/\d{1,2}/\d{2,4},[ \t]*[^\]]+\][ \t]*~?[ \t]*([^:]+?):`)

	urlRegex         = regexp.MustCompile(`(?i)https?://\S+`)
	phoneInNameRegex = regexp.MustCompile(`\+?\d[\d\s\-()]{6,}`)
	nonPhoneRegex    = regexp.MustCompile(`[^\d+]`)
)

// spaceReplacer maps the exotic spaces exports put around times to plain spaces and
// drops the directional marks some exports put before markers.
var spaceReplacer = strings.NewReplacer(
	"\u202f", " ",
	"\u00a0", " ",
	"\u200e", "",
	"\u200f", "",
	"\ufeff", "",
)

// layouts lists timestamp layouts in match priority: day-first before month-first,
// each with 12-hour and 24-hour clocks, with and without seconds.
var layouts = buildLayouts()

func buildLayouts() []string {
	dates := []string{
		"2/1/06", "2/1/2006", // day first
		"1/2/06", "1/2/2006", // month first
	}
	clocks := []string{"3:04:05 PM", "3:04 PM", "15:04:05", "15:04"}

	out := make([]string, 0, len(dates)*len(clocks))
	for _, d := range dates {
		for _, c := range clocks {
			out = append(out, d+", "+c)
		}
	}
	return out
}

// ParseReader reads the whole export from r, decoding UTF-8 and replacing
// undecodable bytes, and parses it.
func ParseReader(r io.Reader, since *time.Time, opts Options) (*Export, error) {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	raw, err := io.ReadAll(transform.NewReader(r, decoder))
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	return Parse(string(raw), since, opts), nil
}

// Parse parses export text. Records with a parsed timestamp strictly before since
// are dropped; records with an unparseable timestamp are always kept.
func Parse(text string, since *time.Time, opts Options) *Export {
	text = spaceReplacer.Replace(text)

	name := conversationName(text)
	if name == "" {
		name = opts.UnknownConversation
		if name == "" {
			name = DefaultUnknownConversation
		}
	}

	export := &Export{ConversationName: name}

	markers := markerRegex.FindAllStringSubmatchIndex(text, -1)
	for i, m := range markers {
		end := len(text)
		if i+1 < len(markers) {
			end = markers[i+1][0]
		}

		header := headerRegex.FindStringSubmatch(text[m[1]:end])
		if header == nil {
			// Marker without "sender:" is a system notice.
			continue
		}

		sender := strings.TrimSpace(header[1])
		body := strings.TrimSpace(header[2])
		ts := ParseTimestamp(text[m[2]:m[3]], text[m[4]:m[5]])

		if ts != nil && since != nil && ts.Before(*since) {
			continue
		}

		export.Records = append(export.Records, Record{
			MessageID:   fingerprint.MessageID(name, ts, sender, body),
			Sender:      sender,
			SenderPhone: PhoneFromSender(sender),
			Timestamp:   ts,
			Body:        body,
			Links:       ExtractLinks(body),
		})
	}

	return export
}

func conversationName(text string) string {
	first, _, _ := strings.Cut(text, "\n")
	m := firstLineRegex.FindStringSubmatch(first)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ParseTimestamp interprets the date and time halves of a marker as UTC. It returns
// nil when no layout matches.
func ParseTimestamp(date, clock string) *time.Time {
	clock = strings.ToUpper(strings.Join(strings.Fields(spaceReplacer.Replace(clock)), " "))
	if n := len(clock); n > 2 && (strings.HasSuffix(clock, "AM") || strings.HasSuffix(clock, "PM")) && clock[n-3] != ' ' {
		clock = clock[:n-2] + " " + clock[n-2:]
	}
	value := strings.TrimSpace(date) + ", " + clock

	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return &ts
		}
	}
	return nil
}

// PhoneFromSender extracts a phone number embedded in a sender label, keeping only
// digits and a leading plus. It returns "" when the label holds no such run.
func PhoneFromSender(sender string) string {
	m := phoneInNameRegex.FindString(sender)
	if m == "" {
		return ""
	}
	return nonPhoneRegex.ReplaceAllString(m, "")
}

// ExtractLinks returns every http(s) URL in text, in order of appearance.
func ExtractLinks(text string) []string {
	return urlRegex.FindAllString(text, -1)
}
