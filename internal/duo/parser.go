// Package duo turns a screenplay-style reply into an ordered dialogue.
package duo

import (
	"regexp"
	"strings"

	"github.com/chadiek/companion/internal/persona"
)

// Segment is one speaker's line with the label stripped.
type Segment struct {
	Speaker persona.ID
	Text    string
}

// Parser splits replies on line boundaries and attributes each line by its
// leading speaker label.
type Parser struct {
	re      *regexp.Regexp
	byLabel map[string]persona.ID
}

// NewParser builds a parser for labels. Matching is case-insensitive and
// tolerates markdown emphasis around the label ("**Helios:**").
func NewParser(labels []persona.Label) *Parser {
	p := &Parser{byLabel: make(map[string]persona.ID, len(labels))}
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		key := strings.ToLower(l.Name)
		if _, dup := p.byLabel[key]; dup || key == "" {
			continue
		}
		p.byLabel[key] = l.Persona
		names = append(names, regexp.QuoteMeta(l.Name))
	}
	if len(names) > 0 {
		p.re = regexp.MustCompile(`(?i)^[\s*_]*(` + strings.Join(names, "|") + `)[\s*_]*:[*_]*\s*`)
	}
	return p
}

// Parse returns the non-empty segments of reply in order. Unlabeled lines are
// attributed to persona.Unknown.
func (p *Parser) Parse(reply string) []Segment {
	var out []Segment
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		seg := Segment{Speaker: persona.Unknown, Text: line}
		if p.re != nil {
			if m := p.re.FindStringSubmatchIndex(line); m != nil {
				seg.Speaker = p.byLabel[strings.ToLower(line[m[2]:m[3]])]
				seg.Text = strings.TrimSpace(line[m[1]:])
			}
		}
		if seg.Text == "" {
			continue
		}
		out = append(out, seg)
	}
	return out
}
