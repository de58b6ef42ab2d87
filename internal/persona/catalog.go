package persona

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// VoiceProfile is an immutable synthesis descriptor for one speaking persona.
type VoiceProfile struct {
	Persona         ID      `yaml:"persona" json:"persona"`
	VoiceID         string  `yaml:"voice_id" json:"voice_id"`
	Model           string  `yaml:"model" json:"model"`
	DeepgramModel   string  `yaml:"deepgram_model" json:"deepgram_model"`
	Stability       float64 `yaml:"stability" json:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost" json:"similarity_boost"`
	Style           float64 `yaml:"style" json:"style"`
	SpeakerBoost    bool    `yaml:"speaker_boost" json:"speaker_boost"`
}

// Label maps a screenplay speaker label to the persona whose voice reads it.
type Label struct {
	Name    string `yaml:"name"`
	Persona ID     `yaml:"persona"`
}

// Catalog holds voice profiles, the persona cycle order and duo labels.
type Catalog struct {
	voices   map[ID]VoiceProfile
	order    []ID
	labels   []Label
	fallback ID
}

// DefaultCatalog returns the built-in voices.
func DefaultCatalog() *Catalog {
	base := VoiceProfile{
		Model:           "eleven_turbo_v2_5",
		Stability:       0.35,
		SimilarityBoost: 0.75,
		SpeakerBoost:    true,
	}
	helios := base
	helios.Persona, helios.VoiceID, helios.DeepgramModel = Helios, "KmnvDXRA0HU55Q0aqkPG", "aura-2-orion-en"
	elara := base
	elara.Persona, elara.VoiceID, elara.DeepgramModel = Elara, "BpjGufoPiobT79j2vtj4", "aura-2-luna-en"
	nsd := base
	nsd.Persona, nsd.VoiceID, nsd.DeepgramModel = NSD, "KmnvDXRA0HU55Q0aqkPG", "aura-2-arcas-en"
	nsd.Stability = 0.6

	return &Catalog{
		voices:   map[ID]VoiceProfile{Helios: helios, Elara: elara, NSD: nsd},
		order:    []ID{Helios, Elara, Duo, NSD},
		labels:   []Label{{Name: "Helios", Persona: Helios}, {Name: "Elara", Persona: Elara}},
		fallback: Helios,
	}
}

type catalogFile struct {
	Voices   []VoiceProfile `yaml:"voices"`
	Order    []ID           `yaml:"order"`
	Labels   []Label        `yaml:"labels"`
	Fallback ID             `yaml:"fallback"`
}

// LoadCatalog reads YAML overrides from path on top of DefaultCatalog. An
// empty path returns the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	c := DefaultCatalog()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona: read catalog: %w", err)
	}
	if err := c.merge(b); err != nil {
		return nil, fmt.Errorf("persona: parse %s: %w", path, err)
	}
	return c, nil
}

func (c *Catalog) merge(b []byte) error {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return err
	}
	for _, v := range f.Voices {
		if v.Persona == None {
			return fmt.Errorf("voice %q has no persona", v.VoiceID)
		}
		if cur, ok := c.voices[v.Persona]; ok && v.Model == "" {
			v.Model = cur.Model
		}
		c.voices[v.Persona] = v
	}
	if len(f.Order) > 0 {
		c.order = f.Order
	}
	if len(f.Labels) > 0 {
		c.labels = f.Labels
	}
	if f.Fallback != None {
		c.fallback = f.Fallback
	}
	if _, ok := c.voices[c.fallback]; !ok {
		return fmt.Errorf("fallback persona %q has no voice", c.fallback)
	}
	return nil
}

// Voice returns the profile for id, or the fallback voice when id has none
// of its own (duo, unknown speakers).
func (c *Catalog) Voice(id ID) VoiceProfile {
	if v, ok := c.voices[id]; ok {
		return v
	}
	return c.voices[c.fallback]
}

// Next returns the persona after id in cycle order.
func (c *Catalog) Next(id ID) ID {
	i := slices.Index(c.order, id)
	return c.order[(i+1)%len(c.order)]
}

// Known reports whether id is part of the cycle.
func (c *Catalog) Known(id ID) bool { return slices.Contains(c.order, id) }

// Labels returns the duo speaker labels.
func (c *Catalog) Labels() []Label { return slices.Clone(c.labels) }

// Fallback is the persona whose voice reads unlabeled lines.
func (c *Catalog) Fallback() ID { return c.fallback }
