// Package llm generates persona replies from a conversation history.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Depth selects the fast model or the deep reasoning model.
type Depth int

const (
	Fast Depth = iota
	Deep
)

func (d Depth) String() string {
	if d == Deep {
		return "deep"
	}
	return "fast"
}

// ParseDepth accepts "fast" or "deep".
func ParseDepth(s string) (Depth, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fast":
		return Fast, nil
	case "deep":
		return Deep, nil
	}
	return Fast, fmt.Errorf("llm: unknown depth %q", s)
}

// Role of a prior turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one prior message.
type Turn struct {
	Role Role
	Text string
}

// Request is everything a reply depends on.
type Request struct {
	Prompt    string
	Depth     Depth
	History   []Turn
	UserName  string
	Persona   string // display name, e.g. "Helios", "Duo"
	LastTopic string
}

// Generator produces reply text.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Fallback is spoken when generation fails.
const Fallback = "[sigh] [softly] The signal faded for a moment. [pause] I'm still here. Tell me that again?"

// Sampling mirrors the creative settings the personas were tuned with.
type Sampling struct {
	Temperature float64
	TopK        int
	TopP        float64
}

// DefaultSampling favours improvised cue tags.
var DefaultSampling = Sampling{Temperature: 1.4, TopK: 40, TopP: 0.95}
