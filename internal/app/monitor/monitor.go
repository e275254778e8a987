// Package monitor turns raw RFID reads into edge-triggered presence events.
package monitor

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagboxd/internal/app/playback"
	"github.com/osa030/tagboxd/internal/domain/tag"
)

// Reader is the RFID reader capability. ReadUID returns the UID of the
// tag currently in the field, or present=false when none is. An error
// means the read itself failed; the monitor treats it as one absent
// sample.
type Reader interface {
	ReadUID() (id tag.ID, present bool, err error)
}

// Config holds monitor configuration.
type Config struct {
	PollInterval    time.Duration
	PresentDebounce int // consecutive polls before a tag counts as present
	AbsentDebounce  int // consecutive polls before a tag counts as gone
	MaxReadFailures int // consecutive read errors before escalating fatal
}

// Monitor polls the reader and emits debounced TagPresent/TagAbsent
// events onto the shared hardware event stream.
type Monitor struct {
	cfg    Config
	reader Reader
	events chan<- playback.Event

	confirmed tag.ID // "" means no tag confirmed present
	candidate tag.ID
	streak    int
	failures  int
}

// New creates a monitor producing onto events.
func New(cfg Config, reader Reader, events chan<- playback.Event) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.PresentDebounce < 1 {
		cfg.PresentDebounce = 1
	}
	if cfg.AbsentDebounce < 1 {
		cfg.AbsentDebounce = 1
	}
	if cfg.MaxReadFailures < 1 {
		cfg.MaxReadFailures = 25
	}
	return &Monitor{cfg: cfg, reader: reader, events: events}
}

// Run polls until ctx is cancelled. It returns a non-nil error only for
// fatal conditions (a run of consecutive reader failures); the process
// is expected to exit under external supervision in that case.
func (m *Monitor) Run(ctx context.Context) error {
	zlog.Info().
		Dur("poll_interval", m.cfg.PollInterval).
		Int("present_debounce", m.cfg.PresentDebounce).
		Int("absent_debounce", m.cfg.AbsentDebounce).
		Msg("rfid presence monitor running")

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		sample, err := m.sample()
		if err != nil {
			return err
		}
		for _, ev := range m.debounce(sample) {
			if !m.emit(ctx, ev) {
				return ctx.Err()
			}
		}
	}
}

// sample performs one read. Read errors are transient: logged, counted,
// and reported as an absent sample. Too many in a row is fatal.
func (m *Monitor) sample() (tag.ID, error) {
	id, present, err := m.reader.ReadUID()
	if err != nil {
		m.failures++
		zlog.Warn().Err(err).Int("consecutive", m.failures).Msg("rfid read failed")
		if m.failures >= m.cfg.MaxReadFailures {
			return "", errors.Wrapf(err, "rfid reader failed %d consecutive reads", m.failures)
		}
		return "", nil
	}
	m.failures = 0
	if !present {
		return "", nil
	}
	return id, nil
}

// debounce feeds one sample into the edge detector and returns the
// events confirmed by it, in order. A tag swapped without a detected
// gap yields an absent event immediately followed by the new present.
func (m *Monitor) debounce(sample tag.ID) []playback.Event {
	if sample != m.candidate {
		m.candidate = sample
		m.streak = 1
	} else if m.streak < m.cfg.PresentDebounce || m.streak < m.cfg.AbsentDebounce {
		m.streak++
	}

	need := m.cfg.PresentDebounce
	if sample == "" {
		need = m.cfg.AbsentDebounce
	}
	if m.streak < need || sample == m.confirmed {
		return nil
	}

	prev := m.confirmed
	m.confirmed = sample

	switch {
	case sample == "":
		zlog.Info().Str("tag", prev.String()).Msg("tag gone")
		return []playback.Event{{Type: playback.EventTagAbsent}}
	case prev == "":
		zlog.Info().Str("tag", sample.String()).Msg("tag detected")
		return []playback.Event{{Type: playback.EventTagPresent, Tag: sample}}
	default:
		// Swap without an observed gap: never substitute in place.
		zlog.Info().
			Str("old", prev.String()).
			Str("new", sample.String()).
			Msg("tag swapped")
		return []playback.Event{
			{Type: playback.EventTagAbsent},
			{Type: playback.EventTagPresent, Tag: sample},
		}
	}
}

func (m *Monitor) emit(ctx context.Context, ev playback.Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
