package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tagboxd/internal/app/playback"
	"github.com/osa030/tagboxd/internal/domain/tag"
)

var (
	uidA = tag.IDFromBytes([]byte{0xaa, 0xbb, 0xcc, 0xdd})
	uidB = tag.IDFromBytes([]byte{0x11, 0x22, 0x33, 0x44})
)

// scriptReader replays a fixed sequence of samples, then repeats the
// last one forever.
type scriptReader struct {
	samples []sample
	pos     int
}

type sample struct {
	id  tag.ID
	err error
}

func present(id tag.ID) sample { return sample{id: id} }
func absent() sample           { return sample{} }
func failure() sample          { return sample{err: errors.New("spi transfer failed")} }

func (r *scriptReader) ReadUID() (tag.ID, bool, error) {
	s := r.samples[r.pos]
	if r.pos < len(r.samples)-1 {
		r.pos++
	}
	if s.err != nil {
		return "", false, s.err
	}
	return s.id, s.id != "", nil
}

// runScript feeds the whole script through the debouncer without the
// polling loop, returning the emitted events and any fatal error.
func runScript(t *testing.T, cfg Config, samples []sample) ([]playback.Event, error) {
	t.Helper()
	events := make(chan playback.Event, len(samples)*2)
	m := New(cfg, &scriptReader{samples: samples}, events)
	for range samples {
		s, err := m.sample()
		if err != nil {
			return drain(events), err
		}
		for _, ev := range m.debounce(s) {
			require.True(t, m.emit(context.Background(), ev))
		}
	}
	return drain(events), nil
}

func drain(ch chan playback.Event) []playback.Event {
	var out []playback.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

var defaultCfg = Config{
	PollInterval:    time.Millisecond,
	PresentDebounce: 2,
	AbsentDebounce:  3,
	MaxReadFailures: 5,
}

func TestMonitor_EdgeTriggeredPresence(t *testing.T) {
	events, err := runScript(t, defaultCfg, []sample{
		absent(),
		present(uidA), present(uidA), // reaches present debounce
		present(uidA), present(uidA), // held: no further edges
		absent(), absent(), absent(), // reaches absent debounce
		absent(),
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, playback.Event{Type: playback.EventTagPresent, Tag: uidA}, events[0])
	assert.Equal(t, playback.Event{Type: playback.EventTagAbsent}, events[1])
}

func TestMonitor_FlickerWithinDebounceWindow(t *testing.T) {
	events, err := runScript(t, defaultCfg, []sample{
		present(uidA), present(uidA),
		// Two absent glitches, below the absent debounce of three.
		absent(), absent(),
		present(uidA), present(uidA), present(uidA),
	})
	require.NoError(t, err)
	require.Len(t, events, 1, "flicker must not produce duplicate edges")
	assert.Equal(t, playback.EventTagPresent, events[0].Type)
}

func TestMonitor_SingleGlitchWhileAbsent(t *testing.T) {
	events, err := runScript(t, defaultCfg, []sample{
		absent(), present(uidA), absent(), absent(),
	})
	require.NoError(t, err)
	assert.Empty(t, events, "one noisy read at range edge must not emit")
}

func TestMonitor_TagSwapEmitsAbsentThenPresent(t *testing.T) {
	events, err := runScript(t, defaultCfg, []sample{
		present(uidA), present(uidA),
		present(uidB), present(uidB),
	})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, playback.EventTagPresent, events[0].Type)
	assert.Equal(t, uidA, events[0].Tag)
	assert.Equal(t, playback.EventTagAbsent, events[1].Type)
	assert.Equal(t, playback.EventTagPresent, events[2].Type)
	assert.Equal(t, uidB, events[2].Tag)
}

func TestMonitor_ReadErrorCountsAsAbsentSample(t *testing.T) {
	events, err := runScript(t, defaultCfg, []sample{
		present(uidA), present(uidA),
		failure(), failure(), failure(), // three absent samples worth
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, playback.EventTagAbsent, events[1].Type)
}

func TestMonitor_ConsecutiveFailuresEscalate(t *testing.T) {
	script := make([]sample, 0, 6)
	for i := 0; i < 6; i++ {
		script = append(script, failure())
	}
	_, err := runScript(t, defaultCfg, script)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consecutive reads")
}

func TestMonitor_SuccessResetsFailureCount(t *testing.T) {
	events, err := runScript(t, defaultCfg, []sample{
		failure(), failure(), failure(), failure(),
		absent(), // resets the counter
		failure(), failure(), failure(), failure(),
		absent(),
	})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMonitor_RunStopsOnContextCancel(t *testing.T) {
	events := make(chan playback.Event, 1)
	m := New(defaultCfg, &scriptReader{samples: []sample{absent()}}, events)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
