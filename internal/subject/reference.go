package subject

import (
	"regexp"
	"strings"
)

// referencePatterns match project reference codes such as SN2693, H3307 or
// H.2378, tried in order.
var referencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b([A-Z]{1,3}\d{3,5})\b`),
	regexp.MustCompile(`(?i)\b([A-Z]\.\d{3,5})\b`),
	regexp.MustCompile(`(?i)\b([A-Z]\d{4,6})\b`),
}

// ExtractReference returns the first project reference code found in
// subject, upper-cased, or "" when there is none. Directive tokens are
// removed first so that e.g. [FU3D] is never reported.
func (p *Parser) ExtractReference(subject string) string {
	s := p.token.ReplaceAllString(bracketReplacer.Replace(subject), " ")
	for _, re := range referencePatterns {
		if m := re.FindStringSubmatch(s); m != nil {
			return strings.ToUpper(strings.TrimSpace(m[1]))
		}
	}
	return ""
}
