package audio

import (
	"math"
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGraph() *Graph {
	return NewGraph(GraphConfig{SampleRate: 8000, ReverbSeconds: 0.05})
}

// tone returns a finite sine streamer of the given length.
func tone(rate int, hz float64, d time.Duration) beep.Streamer {
	n := int(float64(rate) * d.Seconds())
	i := 0
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if i >= n {
			return 0, false
		}
		k := 0
		for k < len(samples) && i < n {
			v := 0.5 * math.Sin(2*math.Pi*hz*float64(i)/float64(rate))
			samples[k] = [2]float64{v, v}
			k++
			i++
		}
		return k, true
	})
}

func TestGraph_ClockAdvancesWithStream(t *testing.T) {
	g := testGraph()
	buf := make([][2]float64, 800)
	n, ok := g.Stream(buf)
	assert.Equal(t, 800, n)
	assert.True(t, ok)
	assert.InDelta(t, 0.1, g.Now(), 1e-9)
}

func TestGraph_SuspendFreezesClock(t *testing.T) {
	g := testGraph()
	g.Suspend()
	g.Advance(100 * time.Millisecond)
	assert.Zero(t, g.Now())
	g.Resume()
	g.Advance(100 * time.Millisecond)
	assert.InDelta(t, 0.1, g.Now(), 1e-9)
}

func TestGraph_SpeechEndsNaturally(t *testing.T) {
	g := testGraph()
	src := g.StartSpeech(tone(8000, 440, 50*time.Millisecond))
	g.Advance(100 * time.Millisecond)

	select {
	case <-src.Done():
	default:
		t.Fatal("expected source to finish")
	}
	assert.False(t, src.Interrupted())
	assert.Nil(t, g.Speech())
	assert.Greater(t, g.VoiceTap().Level(), 0.0)
}

func TestGraph_AtMostOneSpeechSource(t *testing.T) {
	g := testGraph()
	first := g.StartSpeech(tone(8000, 440, time.Second))
	second := g.StartSpeech(tone(8000, 660, time.Second))

	select {
	case <-first.Done():
	default:
		t.Fatal("starting a new source must finish the previous one")
	}
	assert.True(t, first.Interrupted())
	assert.Same(t, second, g.Speech())
}

func TestGraph_StopSpeechIgnoresStaleSource(t *testing.T) {
	g := testGraph()
	first := g.StartSpeech(tone(8000, 440, time.Second))
	second := g.StartSpeech(tone(8000, 660, time.Second))

	assert.False(t, g.StopSpeech(first))
	assert.Same(t, second, g.Speech())
	assert.True(t, g.StopSpeech(nil))
	assert.False(t, g.StopSpeech(nil))
	assert.True(t, second.Interrupted())
}

func TestGraph_ScheduleRunsInTimeOrder(t *testing.T) {
	g := testGraph()
	var order []int
	g.Schedule(0.2, func() { order = append(order, 2) })
	g.Schedule(0.05, func() { order = append(order, 1) })
	g.Schedule(5, func() { order = append(order, 3) })

	g.Advance(300 * time.Millisecond)
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 1, g.Pending())
}

func TestGraph_ScheduledCallbackMayScheduleAgain(t *testing.T) {
	g := testGraph()
	count := 0
	var tick func()
	tick = func() {
		count++
		g.Schedule(g.Now()+0.1, tick)
	}
	g.Schedule(0, tick)
	g.Advance(time.Second)
	assert.InDelta(t, 10, count, 1)
}

func TestGraph_AmbientVoicesAreDroppedWhenDrained(t *testing.T) {
	g := testGraph()
	g.AmbientGain().SetValueAtTime(1, 0)
	g.AddAmbient(tone(8000, 220, 20*time.Millisecond))
	require.Equal(t, 1, g.AmbientVoices())

	g.Advance(100 * time.Millisecond)
	assert.Equal(t, 0, g.AmbientVoices())
	assert.Greater(t, g.AmbientTap().Written(), uint64(0))
}

func TestGraph_MasterGainSilencesOutput(t *testing.T) {
	g := testGraph()
	g.Master().SetValueAtTime(0, 0)
	g.StartSpeech(tone(8000, 440, time.Second))

	buf := make([][2]float64, 400)
	g.Stream(buf)
	for _, s := range buf {
		require.Zero(t, s[0])
	}
}
