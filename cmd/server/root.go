package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/chadiek/companion/internal/config"
	"github.com/chadiek/companion/internal/logging"
)

type rootOptions struct {
	cfg    config.Config
	logger zerolog.Logger

	addr        string
	audioOutput string
	audioInput  string
	personas    string
	logLevel    string
	logPretty   bool
	bargeIn     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "companion",
		Short:         "Helios bedtime voice companion",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&opts.addr, "addr", "", "HTTP listen address (HTTP_ADDRESS)")
	f.StringVar(&opts.audioOutput, "audio-output", "", "speaker, webrtc or null (AUDIO_OUTPUT)")
	f.StringVar(&opts.audioInput, "audio-input", "", "portaudio, webrtc or none (AUDIO_INPUT)")
	f.StringVar(&opts.personas, "personas", "", "persona catalog YAML (PERSONAS_FILE)")
	f.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	f.BoolVar(&opts.logPretty, "log-pretty", false, "human readable console logs (LOG_PRETTY)")
	f.BoolVar(&opts.bargeIn, "barge-in", false, "interrupt speech when the user talks over it (BARGE_IN)")

	root.AddCommand(newServeCmd(opts), newSayCmd(opts))
	return root
}

// load reads the environment, then lets explicitly set flags win.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg := config.Load()
	f := cmd.Flags()
	if f.Changed("addr") {
		cfg.HTTPAddress = o.addr
	}
	if f.Changed("audio-output") {
		cfg.AudioOutput = o.audioOutput
	}
	if f.Changed("audio-input") {
		cfg.AudioInput = o.audioInput
	}
	if f.Changed("personas") {
		cfg.PersonasFile = o.personas
	}
	if f.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if f.Changed("log-pretty") {
		cfg.LogPretty = o.logPretty
	}
	if f.Changed("barge-in") {
		cfg.BargeIn = o.bargeIn
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	return nil
}
