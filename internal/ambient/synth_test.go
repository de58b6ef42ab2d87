package ambient

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/companion/internal/audio"
)

func newTestSynth(t *testing.T) (*Synth, *audio.Graph) {
	t.Helper()
	g := audio.NewGraph(audio.GraphConfig{SampleRate: 8000, ReverbSeconds: 0.05})
	s := NewSynth(g, Config{Seed: 42}, zerolog.Nop())
	return s, g
}

func ambientLevel(g *audio.Graph) float64 { return g.AmbientGain().ValueAt(g.Now()) }

func TestSynth_EnableStartsDronesAndNoiseOnce(t *testing.T) {
	s, g := newTestSynth(t)
	s.Enable()
	s.Enable()
	assert.True(t, s.Enabled())
	assert.Equal(t, 3, s.ActiveVoices())

	g.Advance(4 * time.Second)
	assert.InDelta(t, 0.5, ambientLevel(g), 1e-9)
	assert.InDelta(t, 0.5*0.005*0.8, g.TextureGain().ValueAt(g.Now()), 1e-6)
}

func TestSynth_DuckRoundTripLandsOnCurrentTarget(t *testing.T) {
	s, g := newTestSynth(t)
	d := s.Ducker()
	s.Enable()
	g.Advance(4 * time.Second)

	d.SetDucked(true)
	g.Advance(time.Second)
	assert.InDelta(t, 0.1, ambientLevel(g), 1e-9)

	s.SetVolume(0.8)
	g.Advance(time.Second)
	assert.InDelta(t, 0.16, ambientLevel(g), 1e-9)
	assert.Equal(t, 0.8, d.Target())

	d.SetDucked(false)
	g.Advance(500 * time.Millisecond)
	mid := ambientLevel(g)
	assert.Greater(t, mid, 0.16)
	assert.Less(t, mid, 0.8)
	g.Advance(2 * time.Second)
	assert.InDelta(t, 0.8, ambientLevel(g), 1e-9)
}

func TestSynth_DuckIsNoopWhenDisabled(t *testing.T) {
	s, g := newTestSynth(t)
	s.Ducker().SetDucked(true)
	assert.False(t, s.Ducker().Ducked())
	g.Advance(time.Second)
	assert.Zero(t, ambientLevel(g))
}

func TestDucker_DuckReportsTransitions(t *testing.T) {
	s, _ := newTestSynth(t)
	d := s.Ducker()
	assert.False(t, d.Duck(true), "disabled")

	s.Enable()
	assert.True(t, d.Duck(true))
	assert.False(t, d.Duck(true))
	assert.True(t, d.Duck(false))
	assert.False(t, d.Duck(false))
}

func TestSynth_ExplicitSilentVolume(t *testing.T) {
	g := audio.NewGraph(audio.GraphConfig{SampleRate: 8000, ReverbSeconds: 0.05})
	silent := 0.0
	s := NewSynth(g, Config{Volume: &silent, Seed: 42}, zerolog.Nop())
	assert.Zero(t, s.Volume())

	s.Enable()
	g.Advance(4 * time.Second)
	assert.Zero(t, ambientLevel(g))

	loud := 3.0
	s = NewSynth(g, Config{Volume: &loud, Seed: 42}, zerolog.Nop())
	assert.Equal(t, 1.0, s.Volume())
}

func TestSynth_SetVolumeClamps(t *testing.T) {
	s, _ := newTestSynth(t)
	s.SetVolume(2)
	assert.Equal(t, 1.0, s.Volume())
	s.SetVolume(-1)
	assert.Equal(t, 0.0, s.Volume())
}

func TestSynth_DisableTearsDownEveryVoice(t *testing.T) {
	s, g := newTestSynth(t)
	s.Enable()
	g.Advance(20 * time.Second)
	require.Greater(t, s.ActiveVoices(), 3)

	s.Disable()
	assert.False(t, s.Enabled())
	g.Advance(time.Second)
	assert.Greater(t, s.ActiveVoices(), 0)

	g.Advance(3 * time.Second)
	assert.Zero(t, s.ActiveVoices())
	assert.Zero(t, ambientLevel(g))
	assert.Zero(t, g.TextureGain().ValueAt(g.Now()))

	// no further events once the session is gone
	g.Advance(20 * time.Second)
	assert.Zero(t, s.ActiveVoices())
}

func TestSynth_EnableDuringFadeOutStartsFresh(t *testing.T) {
	s, g := newTestSynth(t)
	s.Enable()
	g.Advance(10 * time.Second)
	s.Disable()
	g.Advance(time.Second)

	s.Enable()
	assert.True(t, s.Enabled())
	assert.Equal(t, 3, s.ActiveVoices())

	// the stale teardown must not fire on the new session
	g.Advance(3 * time.Second)
	assert.True(t, s.Enabled())
	assert.GreaterOrEqual(t, s.ActiveVoices(), 3)
	assert.InDelta(t, 0.5, ambientLevel(g), 1e-9)
}

func TestSynth_TransientVoicesSelfDispose(t *testing.T) {
	s, g := newTestSynth(t)
	s.Enable()
	for i := 0; i < 12; i++ {
		g.Advance(5 * time.Second)
		// two drones, noise, at most two overlapping swells and one bell
		require.LessOrEqual(t, s.ActiveVoices(), 6)
	}
	s.mu.Lock()
	tracked := len(s.voices)
	s.mu.Unlock()
	assert.LessOrEqual(t, tracked, 7)
}

func TestSynth_DisposeIsImmediate(t *testing.T) {
	s, g := newTestSynth(t)
	s.Enable()
	g.Advance(time.Second)
	s.Dispose()
	assert.Zero(t, s.ActiveVoices())
	assert.False(t, s.Enabled())
}
