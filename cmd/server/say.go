package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chadiek/companion/internal/audio"
	"github.com/chadiek/companion/internal/persona"
	"github.com/chadiek/companion/internal/playback"
	"github.com/chadiek/companion/internal/tts"
)

func newSayCmd(opts *rootOptions) *cobra.Command {
	var voice string
	cmd := &cobra.Command{
		Use:   "say [text]",
		Short: "Synthesize one line in a persona's voice and play it on the speaker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := persona.Parse(voice)
			if err != nil {
				return err
			}
			return say(cmd.Context(), opts, id, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&voice, "persona", string(persona.Helios), "helios, elara, duo or nsd")
	return cmd
}

func say(ctx context.Context, opts *rootOptions, id persona.ID, text string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, log := opts.cfg, opts.logger
	catalog, err := persona.LoadCatalog(cfg.PersonasFile)
	if err != nil {
		return err
	}
	synth, err := tts.New(cfg.TTSProvider, cfg.ElevenLabsKey, cfg.DeepgramKey)
	if err != nil {
		return err
	}

	synthCtx, cancel := context.WithTimeout(ctx, cfg.SynthTimeout)
	defer cancel()
	encoded, err := synth.Synthesize(synthCtx, text, catalog.Voice(id))
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	if encoded == nil {
		return fmt.Errorf("nothing to say after removing cues from %q", text)
	}

	var out audio.Output = &audio.SpeakerOutput{}
	if cfg.AudioOutput == "null" {
		out = &audio.NullOutput{}
	}
	engine := audio.NewEngine(audio.Config{Graph: audio.GraphConfig{SampleRate: cfg.SampleRate}}, out, nil, log)
	if err := engine.Initialize(); err != nil {
		return err
	}
	defer func() { _ = engine.Dispose() }()

	player := playback.NewController(engine.Graph(), nil, log)
	start := time.Now()
	outcome := player.Play(ctx, encoded)
	log.Info().Str("persona", string(id)).Str("outcome", outcome.String()).Dur("elapsed", time.Since(start)).Msg("said")
	if outcome == playback.OutcomeDecodeFailed {
		return fmt.Errorf("could not decode synthesized audio")
	}
	return nil
}
