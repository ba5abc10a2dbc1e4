// Package subject extracts schedule directives from subject lines and
// normalises subjects for fuzzy thread comparison.
package subject

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nhle/mail-followup/internal/model"
)

// ReminderMarker is the literal marker stripped by Canonicalize.
const ReminderMarker = "[remind]"

// replyPrefixes are the localized reply/forward prefixes removed from the
// left of a subject, compared lower-cased.
var replyPrefixes = []string{
	"re:", "fw:", "fwd:",
	"답장:", "회신:", "전달:", "참조:",
	"回覆:", "回复:", "転送:", "转发:",
}

// bracketReplacer folds full-width brackets into ASCII ones.
var bracketReplacer = strings.NewReplacer("［", "[", "］", "]")

// whitespacePattern matches runs of whitespace.
var whitespacePattern = regexp.MustCompile(`\s+`)

// reminderPattern matches a leading [remind] marker.
var reminderPattern = regexp.MustCompile(`(?i)^\s*\[remind\]\s*`)

// Parser recognises directive tokens for a configured set of category
// codes.
type Parser struct {
	codes []string

	// token captures code, count and unit; anywhere in the subject.
	token *regexp.Regexp
}

// NewParser builds a parser for the given category codes. Codes are
// matched case-insensitively; longer codes are tried first so that a code
// which is a prefix of another does not shadow it.
func NewParser(codes []string) *Parser {
	seen := make(map[string]bool)
	var cleaned []string
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		cleaned = append(cleaned, c)
	}
	sort.SliceStable(cleaned, func(i, j int) bool {
		return len(cleaned[i]) > len(cleaned[j])
	})

	quoted := make([]string, len(cleaned))
	for i, c := range cleaned {
		quoted[i] = regexp.QuoteMeta(c)
	}

	alt := strings.Join(quoted, "|")
	if alt == "" {
		// Nothing configured: a pattern that never matches.
		alt = `[^\s\S]`
	}

	return &Parser{
		codes: cleaned,
		token: regexp.MustCompile(
			`(?i)\[\s*(` + alt + `)\s*(\d+)\s*(MIN|H|D|W|M)\s*\]`,
		),
	}
}

// Codes returns the normalised category codes, longest first.
func (p *Parser) Codes() []string {
	return append([]string(nil), p.codes...)
}

// Parse extracts the first directive token from subject. The boolean is
// false when the subject has no recognisable token, the unit is unknown or
// the interval is not positive or too long to schedule.
func (p *Parser) Parse(subject string) (model.Directive, bool) {
	if subject == "" {
		return model.Directive{}, false
	}

	s := strings.ToUpper(bracketReplacer.Replace(subject))
	m := p.token.FindStringSubmatch(s)
	if m == nil {
		return model.Directive{}, false
	}

	n, err := strconv.Atoi(m[2])
	if err != nil || n <= 0 {
		return model.Directive{}, false
	}

	days, ok := unitToDays(float64(n), m[3])
	if !ok || days >= model.MaxIntervalDays {
		return model.Directive{}, false
	}

	return model.Directive{Code: m[1], IntervalDays: days}, true
}

// unitToDays converts a count of unit into fractional days. Months are a
// fixed 30 days.
func unitToDays(n float64, unit string) (float64, bool) {
	switch unit {
	case "MIN":
		return n / 1440.0, true
	case "H":
		return n / 24.0, true
	case "D":
		return n, true
	case "W":
		return n * 7.0, true
	case "M":
		return n * 30.0, true
	default:
		return 0, false
	}
}

// IsReminder reports whether subject starts with the reminder prefix, i.e.
// it is a follow-up this tool sent itself.
func IsReminder(subject, prefix string) bool {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return reminderPattern.MatchString(subject)
	}
	s := strings.TrimLeft(bracketReplacer.Replace(subject), " \t")
	return len(s) >= len(prefix) &&
		strings.EqualFold(s[:len(prefix)], prefix)
}

// Canonicalize normalises a subject for fuzzy comparison: reply/forward
// prefixes, the [remind] marker and directive tokens are removed,
// whitespace is collapsed and the result is lower-cased. The steps repeat
// until nothing changes, so Canonicalize is idempotent.
func (p *Parser) Canonicalize(subject string) string {
	s := strings.ToLower(bracketReplacer.Replace(subject))
	s = collapse(s)

	for {
		next := p.canonicalStep(s)
		if next == s {
			return s
		}
		s = next
	}
}

func (p *Parser) canonicalStep(s string) string {
	s = stripPrefixes(s)
	s = reminderPattern.ReplaceAllString(s, "")
	s = p.token.ReplaceAllString(s, " ")
	return collapse(s)
}

// stripPrefixes removes any number of leading reply/forward prefixes.
func stripPrefixes(s string) string {
	for {
		trimmed := strings.TrimLeft(s, " \t")
		stripped := false
		for _, prefix := range replyPrefixes {
			if strings.HasPrefix(trimmed, prefix) {
				s = trimmed[len(prefix):]
				stripped = true
				break
			}
		}
		if !stripped {
			return trimmed
		}
	}
}

func collapse(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// ReminderSubject builds the subject of a follow-up to original: the
// reminder prefix followed by a reply subject.
func ReminderSubject(prefix, original string) string {
	s := strings.TrimSpace(original)
	if !strings.HasPrefix(strings.ToLower(s), "re:") {
		s = "RE: " + s
	}
	return prefix + s
}
