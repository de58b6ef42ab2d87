// Package persona names the agent personas and their synthesis voices.
package persona

import (
	"fmt"
	"strings"
)

// ID identifies a persona. The zero value means "no speaker".
type ID string

const (
	None    ID = ""
	Unknown ID = "unknown" // an unlabeled duo line
	Helios  ID = "helios"
	Elara   ID = "elara"
	Duo     ID = "duo"
	NSD     ID = "nsd"
)

var displayNames = map[ID]string{
	Helios:  "Helios",
	Elara:   "Elara",
	Duo:     "Duo",
	NSD:     "NSD",
	Unknown: "Unknown",
}

// DisplayName is the name used in prompts and transcripts.
func (id ID) DisplayName() string {
	if n, ok := displayNames[id]; ok {
		return n
	}
	return string(id)
}

// MultiSpeaker reports whether replies for id are a screenplay of several voices.
func (id ID) MultiSpeaker() bool { return id == Duo }

// Parse accepts an id or display name in any case.
func Parse(s string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(s)))
	switch id {
	case Helios, Elara, Duo, NSD:
		return id, nil
	}
	return None, fmt.Errorf("persona: unknown persona %q", s)
}
