package tts

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	bracketTag  = regexp.MustCompile(`\[([^\]]*)\]`)
	parenthetic = regexp.MustCompile(`\([^)]*\)`)
	action      = regexp.MustCompile(`\*[^*]*\*`)
	spaces      = regexp.MustCompile(`[ \t]+`)
	dots        = regexp.MustCompile(`(\.\.\.\s*){2,}`)
)

// cues that survive as a spoken pause instead of being dropped
var pauseCues = []string{"pause", "silence", "sigh", "exhale", "inhale", "breath"}

// PrepareText turns a reply with stage directions into text a voice should
// read. Pause and breath cues become ellipses; other bracket tags,
// parentheticals and *actions* are removed. Text with nothing speakable left
// returns "".
func PrepareText(s string) string {
	s = bracketTag.ReplaceAllStringFunc(s, func(tag string) string {
		inner := strings.ToLower(tag[1 : len(tag)-1])
		for _, cue := range pauseCues {
			if strings.Contains(inner, cue) {
				return " ... "
			}
		}
		return " "
	})
	s = parenthetic.ReplaceAllString(s, " ")
	s = action.ReplaceAllString(s, " ")
	s = spaces.ReplaceAllString(s, " ")
	s = dots.ReplaceAllString(s, "... ")

	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}
	s = strings.Join(kept, "\n")
	s = strings.TrimLeft(s, ". ")
	s = strings.TrimSpace(s)
	if !strings.ContainsFunc(s, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) {
		return ""
	}
	return s
}
