// Package barge detects the user talking over the agent's speech.
package barge

import "time"

// Frame10ms represents a 10ms mono PCM frame at SampleRate Hz.
// For 16kHz mono, this is 160 samples of int16.
type Frame10ms []int16

// Config holds the thresholds for the barge-in detector.
type Config struct {
	SampleRate      int     // 16000 (mic frames are split into 10ms at this rate)
	VADThreshold    float64 // frame RMS in int16 units
	VADSmoothFrames int     // majority vote over this many frames
	OverlapLevel    float64 // residual RMS (0..1) above which talk overlaps speech
	EchoRatio       float64 // share of the outgoing speech level expected back as echo
	FuseWinMs       int     // 150–180
	HysteresisOffMs int     // 200
	HoldOffMs       int     // ignore the first ms of each speech start
}

// Cues indicates which detectors voted true in a window.
type Cues struct{ VAD, DTD bool }

// Events allows host to react to barge-in.
type Events struct {
	// OnTrigger fires once per speaking period when the vote crosses threshold.
	OnTrigger func(ts time.Time, cues Cues)
}

// DefaultHeadset suits a headset or a browser mic with echo cancellation.
func DefaultHeadset() Config {
	return Config{
		SampleRate:      16000,
		VADThreshold:    300,
		VADSmoothFrames: 4,
		OverlapLevel:    0.015,
		EchoRatio:       0.5,
		FuseWinMs:       150,
		HysteresisOffMs: 200,
		HoldOffMs:       300,
	}
}

// DefaultSpeaker is stricter for an open speaker next to the mic.
func DefaultSpeaker() Config {
	c := DefaultHeadset()
	c.VADThreshold = 600
	c.OverlapLevel = 0.03
	c.EchoRatio = 1.2
	c.FuseWinMs = 180
	return c
}
