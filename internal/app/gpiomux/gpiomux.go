// Package gpiomux multiplexes GPIO input lines onto the hardware event
// stream and drives the indicator output lines.
package gpiomux

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagboxd/internal/app/playback"
)

// InputLine is a single GPIO input. Read returns true while the line is
// asserted (button held down).
type InputLine interface {
	Read() (bool, error)
}

// OutputLine is a single GPIO output.
type OutputLine interface {
	Set(on bool) error
}

// Config holds multiplexer configuration.
type Config struct {
	PollInterval time.Duration
	Debounce     int // consecutive polls a line must hold before an event
}

// Mux watches input lines independently and funnels one debounced
// ButtonPressed event per press into the shared event stream.
type Mux struct {
	cfg    Config
	lines  map[string]InputLine
	events chan<- playback.Event
}

// New creates a multiplexer for the named input lines.
func New(cfg Config, lines map[string]InputLine, events chan<- playback.Event) *Mux {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 25 * time.Millisecond
	}
	if cfg.Debounce < 1 {
		cfg.Debounce = 2
	}
	return &Mux{cfg: cfg, lines: lines, events: events}
}

// Run watches every line until ctx is cancelled or a line fails. A GPIO
// read fault is fatal: it indicates a hardware problem this process
// cannot recover from.
func (m *Mux) Run(ctx context.Context) error {
	zlog.Info().Int("lines", len(m.lines)).Msg("gpio multiplexer running")

	inner, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(m.lines))
	var wg sync.WaitGroup
	for name, line := range m.lines {
		wg.Add(1)
		go func(name string, line InputLine) {
			defer wg.Done()
			errCh <- m.watch(inner, name, line)
		}(name, line)
	}

	var first error
	for range m.lines {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) && first == nil {
			first = err
			cancel()
		}
	}
	wg.Wait()
	if first != nil {
		return first
	}
	return ctx.Err()
}

// watch polls one line. A press is reported once when the line has been
// asserted for the debounce count, then re-arms only after the line has
// been released for the same count. No repeats while held.
func (m *Mux) watch(ctx context.Context, name string, line InputLine) error {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	pressed := false
	streak := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		asserted, err := line.Read()
		if err != nil {
			return errors.Wrapf(err, "reading gpio line %s", name)
		}

		if asserted == pressed {
			streak = 0
			continue
		}
		streak++
		if streak < m.cfg.Debounce {
			continue
		}
		pressed = asserted
		streak = 0
		if !pressed {
			continue
		}

		zlog.Info().Str("line", name).Msg("button pressed")
		select {
		case m.events <- playback.Event{Type: playback.EventButtonPressed, Line: name}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Indicator wraps an output line, making Set idempotent: writing the
// state the line already holds is a no-op.
type Indicator struct {
	mu    sync.Mutex
	line  OutputLine
	known bool
	on    bool
}

// NewIndicator creates an indicator. The line's state is unknown until
// the first Set.
func NewIndicator(line OutputLine) *Indicator {
	return &Indicator{line: line}
}

// Set switches the indicator. Safe to call from any transition.
func (i *Indicator) Set(on bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.known && i.on == on {
		return nil
	}
	if err := i.line.Set(on); err != nil {
		return errors.Wrap(err, "setting indicator line")
	}
	i.known = true
	i.on = on
	return nil
}
