package agent

import (
	"fmt"
	"strings"
	"unicode"
)

// DefaultName is used when the first message is a request rather than a name.
const DefaultName = "Friend"

// Greeting opens a session with no remembered name.
const Greeting = "[softly] G'day. I'm Helios. Before we drift off, what name should I call you?"

func welcomeBack(name string) string {
	return fmt.Sprintf("[softly] Welcome back, %s. I'm here whenever you're ready.", name)
}

var commandWords = []string{"sleep", "breathing", "story", "comfort"}

var namePrefixes = []string{
	"my name is ",
	"my name's ",
	"i'm ",
	"i am ",
	"im ",
	"call me ",
	"it's ",
	"this is ",
	"name's ",
}

// captureName decides the user's name from their first message and returns
// the prompt to send in its place.
func captureName(text string) (name, prompt string) {
	lower := strings.ToLower(text)
	for _, w := range commandWords {
		if strings.Contains(lower, w) {
			return DefaultName, text
		}
	}
	name = extractName(text)
	if name == "" {
		return DefaultName, text
	}
	return name, fmt.Sprintf("My name is %s. Please acknowledge it warmly and ask how you can help me relax today.", name)
}

func extractName(text string) string {
	s := strings.TrimSpace(text)
	lower := strings.ToLower(s)
	for _, p := range namePrefixes {
		if strings.HasPrefix(lower, p) {
			s = strings.TrimSpace(s[len(p):])
			break
		}
	}
	s = strings.TrimFunc(s, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSpace(r) })
	words := strings.Fields(s)
	if len(words) == 0 {
		return ""
	}
	// "Alex, nice to meet you" keeps only the name
	if len(words) > 3 {
		words = words[:1]
	}
	for i, w := range words {
		w = strings.TrimFunc(w, unicode.IsPunct)
		r := []rune(w)
		if len(r) > 0 {
			r[0] = unicode.ToUpper(r[0])
		}
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
