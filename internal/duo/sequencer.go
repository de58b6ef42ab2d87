package duo

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/chadiek/companion/internal/persona"
	"github.com/chadiek/companion/internal/playback"
)

// Synthesizer turns text into encoded audio. A nil result with a nil error
// means there was nothing to say.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice persona.VoiceProfile) ([]byte, error)
}

// Player plays encoded audio to completion.
type Player interface {
	Play(ctx context.Context, encoded []byte) playback.Outcome
}

// Result summarizes one PlayDuo pass.
type Result struct {
	Played      int
	Skipped     int
	Interrupted bool
}

// Sequencer plays the segments of a duo reply strictly one after another.
type Sequencer struct {
	parser  *Parser
	catalog *persona.Catalog
	synth   Synthesizer
	player  Player
	speaker func(persona.ID)
	log     zerolog.Logger
}

// NewSequencer wires a sequencer. speaker receives the voiced persona right
// before each segment plays and persona.None once the pass is over; it may be nil.
func NewSequencer(catalog *persona.Catalog, synth Synthesizer, player Player, speaker func(persona.ID), logger zerolog.Logger) *Sequencer {
	if speaker == nil {
		speaker = func(persona.ID) {}
	}
	return &Sequencer{
		parser:  NewParser(catalog.Labels()),
		catalog: catalog,
		synth:   synth,
		player:  player,
		speaker: speaker,
		log:     logger.With().Str("component", "duo").Logger(),
	}
}

// PlayDuo synthesizes and plays each segment of reply in order. Segments
// without audio are skipped; an interrupted segment ends the pass.
func (s *Sequencer) PlayDuo(ctx context.Context, reply string) Result {
	var res Result
	defer s.speaker(persona.None)

	for i, seg := range s.parser.Parse(reply) {
		if ctx.Err() != nil {
			res.Interrupted = true
			return res
		}
		voice := s.catalog.Voice(seg.Speaker)
		log := s.log.With().Int("segment", i).Str("speaker", string(seg.Speaker)).Logger()

		data, err := s.synth.Synthesize(ctx, seg.Text, voice)
		if err != nil || len(data) == 0 {
			if ctx.Err() != nil {
				res.Interrupted = true
				return res
			}
			log.Warn().Err(err).Msg("no audio for segment, skipping")
			res.Skipped++
			continue
		}

		s.speaker(seg.Speaker)
		switch s.player.Play(ctx, data) {
		case playback.OutcomeCompleted:
			res.Played++
		case playback.OutcomeDecodeFailed:
			res.Skipped++
		default:
			log.Debug().Msg("duo interrupted")
			res.Interrupted = true
			return res
		}
	}
	return res
}
