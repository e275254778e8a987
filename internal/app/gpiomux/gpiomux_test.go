package gpiomux

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tagboxd/internal/app/playback"
)

// fakeLine is an input line whose level the test flips.
type fakeLine struct {
	mu       sync.Mutex
	asserted bool
	err      error
}

func (l *fakeLine) Read() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.asserted, l.err
}

func (l *fakeLine) set(asserted bool) {
	l.mu.Lock()
	l.asserted = asserted
	l.mu.Unlock()
}

func (l *fakeLine) fail(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func startMux(t *testing.T, lines map[string]InputLine) (chan playback.Event, chan error) {
	t.Helper()
	events := make(chan playback.Event, 16)
	m := New(Config{PollInterval: time.Millisecond, Debounce: 2}, lines, events)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		done <- m.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Error("mux did not stop")
		}
	})
	return events, done
}

func TestMux_OneEventPerPress(t *testing.T) {
	line := &fakeLine{}
	events, _ := startMux(t, map[string]InputLine{"power": line})

	line.set(true)
	ev := waitEvent(t, events)
	assert.Equal(t, playback.EventButtonPressed, ev.Type)
	assert.Equal(t, "power", ev.Line)

	// Held down: no repeat events.
	time.Sleep(20 * time.Millisecond)
	assertNoEvent(t, events)

	// Release and press again: exactly one more event.
	line.set(false)
	time.Sleep(20 * time.Millisecond)
	line.set(true)
	ev = waitEvent(t, events)
	assert.Equal(t, "power", ev.Line)
	assertNoEvent(t, events)
}

func TestMux_MultipleLinesAreIndependent(t *testing.T) {
	power := &fakeLine{}
	aux := &fakeLine{}
	events, _ := startMux(t, map[string]InputLine{"power": power, "aux": aux})

	aux.set(true)
	ev := waitEvent(t, events)
	assert.Equal(t, "aux", ev.Line)

	power.set(true)
	ev = waitEvent(t, events)
	assert.Equal(t, "power", ev.Line)
}

func TestMux_ReadFaultIsFatal(t *testing.T) {
	line := &fakeLine{}
	_, done := startMux(t, map[string]InputLine{"power": line})

	line.fail(errors.New("gpio chip gone"))
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "power")
	case <-time.After(time.Second):
		t.Fatal("mux did not escalate the gpio fault")
	}
}

func waitEvent(t *testing.T, events chan playback.Event) playback.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event emitted")
		return playback.Event{}
	}
}

func assertNoEvent(t *testing.T, events chan playback.Event) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event: %v", ev)
	default:
	}
}

// fakeOutput records every write that reaches the hardware.
type fakeOutput struct {
	writes []bool
	err    error
}

func (o *fakeOutput) Set(on bool) error {
	if o.err != nil {
		return o.err
	}
	o.writes = append(o.writes, on)
	return nil
}

func TestIndicator_SetIsIdempotent(t *testing.T) {
	out := &fakeOutput{}
	ind := NewIndicator(out)

	require.NoError(t, ind.Set(true))
	require.NoError(t, ind.Set(true))
	require.NoError(t, ind.Set(true))
	require.NoError(t, ind.Set(false))
	require.NoError(t, ind.Set(false))
	require.NoError(t, ind.Set(true))

	assert.Equal(t, []bool{true, false, true}, out.writes)
}

func TestIndicator_FirstSetAlwaysWrites(t *testing.T) {
	out := &fakeOutput{}
	ind := NewIndicator(out)

	require.NoError(t, ind.Set(false))
	assert.Equal(t, []bool{false}, out.writes, "initial state is unknown, must write through")
}

func TestIndicator_ErrorDoesNotCacheState(t *testing.T) {
	out := &fakeOutput{err: errors.New("pin write failed")}
	ind := NewIndicator(out)

	require.Error(t, ind.Set(true))
	out.err = nil
	require.NoError(t, ind.Set(true))
	assert.Equal(t, []bool{true}, out.writes)
}
