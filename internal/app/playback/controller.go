package playback

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagboxd/internal/domain/tag"
)

// Backend is the player capability contract. Play blocks until the
// session ends naturally, fails, or ctx is cancelled; implementations
// must abandon any pending retries once ctx is cancelled and must not
// apply late effects afterwards. Stop is best-effort and must cause
// retries of an outstanding Play for the same session to be abandoned.
type Backend interface {
	Play(ctx context.Context, action tag.Action, session uint64) error
	Stop(ctx context.Context, session uint64) error
}

// Resolver maps tag identities to playback actions.
type Resolver interface {
	Resolve(id tag.ID) tag.Action
}

// Indicator is a single output line. Set is idempotent.
type Indicator interface {
	Set(on bool) error
}

// Backends holds the two player variants. Either may be nil when the
// corresponding action kind cannot occur (the mapper degrades remote
// entries to unmapped when the remote player is disabled).
type Backends struct {
	Remote Backend // Spotify-style remote player
	Local  Backend // local file player
}

func (b Backends) forAction(a tag.Action) (Backend, error) {
	switch a.Kind {
	case tag.KindSpotify:
		if b.Remote == nil {
			return nil, errors.New("remote player not configured")
		}
		return b.Remote, nil
	case tag.KindFile:
		if b.Local == nil {
			return nil, errors.New("local player not configured")
		}
		return b.Local, nil
	default:
		return nil, errors.Newf("no backend for action kind %s", a.Kind)
	}
}

// Config holds controller configuration.
type Config struct {
	Mode        Mode
	StopTimeout time.Duration // budget for the best-effort stop on shutdown
}

// session is one playback attempt. The id is monotonically increasing;
// backend results carrying a different id are stale and discarded.
type session struct {
	id     uint64
	action tag.Action
	tagID  tag.ID
	cancel context.CancelFunc
}

type playResult struct {
	session uint64
	err     error
}

// Controller consumes the hardware event stream and drives the player
// backends. It is the sole owner of the playback state; all transitions
// happen on the single Run goroutine, so no locking is needed.
type Controller struct {
	cfg      Config
	resolver Resolver
	backends Backends
	playing  Indicator

	events  <-chan Event
	results chan playResult
	done    chan struct{}

	current     *session
	lastSession uint64

	snapshot atomic.Pointer[Snapshot]
}

// NewController creates a controller consuming events. The playing
// indicator may be nil when the hardware has none.
func NewController(cfg Config, resolver Resolver, backends Backends, playing Indicator, events <-chan Event) *Controller {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 2 * time.Second
	}
	c := &Controller{
		cfg:      cfg,
		resolver: resolver,
		backends: backends,
		playing:  playing,
		events:   events,
		results:  make(chan playResult, 8),
		done:     make(chan struct{}),
	}
	c.publish()
	return c
}

// Status returns a snapshot of the current state. Safe to call from any
// goroutine.
func (c *Controller) Status() Snapshot {
	return *c.snapshot.Load()
}

// Run processes events until the power button is pressed, the context
// is cancelled, or the event stream is closed. A button press returns
// nil after a best-effort stop; the caller terminates the process.
func (c *Controller) Run(ctx context.Context) error {
	zlog.Info().Str("mode", c.cfg.Mode.String()).Msg("playback controller running")
	defer close(c.done)
	defer c.setPlaying(false)

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return ctx.Err()

		case ev, ok := <-c.events:
			if !ok {
				c.teardown()
				return errors.New("hardware event stream closed")
			}
			switch ev.Type {
			case EventButtonPressed:
				zlog.Info().Str("line", ev.Line).Msg("button pressed, shutting down")
				c.teardown()
				return nil
			case EventTagPresent:
				c.onTagPresent(ev.Tag)
			case EventTagAbsent:
				c.onTagAbsent()
			}

		case res := <-c.results:
			c.onResult(res)
		}
	}
}

func (c *Controller) onTagPresent(id tag.ID) {
	action := c.resolver.Resolve(id)
	if action.IsUnmapped() {
		zlog.Info().Str("tag", id.String()).Msg("tag has no mapping, ignoring")
		return
	}

	if c.current != nil {
		if c.cfg.Mode == ModeTriggerOnly && action.Equal(c.current.action) {
			// Same content already playing; a flickering reader must not
			// cause a restart.
			zlog.Debug().Str("tag", id.String()).Msg("action already playing")
			return
		}
		// Different content, or a tag swap the monitor could not split
		// into an absent/present pair. Stop the old session first.
		c.stopSession()
	}

	c.startSession(id, action)
}

func (c *Controller) onTagAbsent() {
	if c.current == nil {
		return
	}
	if c.cfg.Mode == ModeTriggerOnly {
		zlog.Debug().Msg("tag removed, playback continues in trigger-only mode")
		return
	}
	c.stopSession()
}

// onResult handles a backend Play outcome. Results for anything but the
// current session are stale and must not mutate state or indicators.
func (c *Controller) onResult(res playResult) {
	if c.current == nil || res.session != c.current.id {
		zlog.Debug().Uint64("session", res.session).Msg("discarding stale backend result")
		return
	}

	cur := c.current
	c.current = nil
	cur.cancel()
	c.setPlaying(false)
	c.publish()

	if res.err != nil {
		zlog.Error().Err(res.err).
			Uint64("session", cur.id).
			Str("action", cur.action.String()).
			Msg("playback failed")
		return
	}
	zlog.Info().Uint64("session", cur.id).Msg("playback finished")
}

// startSession is the single entry into the Playing state. It issues
// exactly one Play command.
func (c *Controller) startSession(id tag.ID, action tag.Action) {
	backend, err := c.backends.forAction(action)
	if err != nil {
		zlog.Error().Err(err).Str("tag", id.String()).Msg("cannot start playback")
		return
	}

	c.lastSession++
	ctx, cancel := context.WithCancel(context.Background())
	c.current = &session{id: c.lastSession, action: action, tagID: id, cancel: cancel}
	c.setPlaying(true)
	c.publish()

	zlog.Info().
		Uint64("session", c.current.id).
		Str("tag", id.String()).
		Str("action", action.String()).
		Msg("starting playback")

	sid := c.current.id
	go func() {
		err := backend.Play(ctx, action, sid)
		select {
		case c.results <- playResult{session: sid, err: err}:
		case <-c.done:
			// Controller has already shut down.
		}
	}()
}

// stopSession is the single exit from the Playing state. It cancels the
// outstanding Play and issues exactly one best-effort Stop.
func (c *Controller) stopSession() {
	cur := c.current
	c.current = nil
	cur.cancel()
	c.setPlaying(false)
	c.publish()

	zlog.Info().Uint64("session", cur.id).Msg("stopping playback")

	backend, err := c.backends.forAction(cur.action)
	if err != nil {
		return
	}
	timeout := c.cfg.StopTimeout
	sid := cur.id
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := backend.Stop(ctx, sid); err != nil {
			zlog.Warn().Err(err).Uint64("session", sid).Msg("backend stop failed")
		}
	}()
}

// teardown leaves any active session with a best-effort stop. It never
// waits on the backend, so shutdown cannot be blocked by a stuck call.
func (c *Controller) teardown() {
	if c.current != nil {
		c.stopSession()
	}
}

func (c *Controller) setPlaying(on bool) {
	if c.playing == nil {
		return
	}
	if err := c.playing.Set(on); err != nil {
		zlog.Warn().Err(err).Bool("on", on).Msg("failed to set playing indicator")
	}
}

func (c *Controller) publish() {
	snap := Snapshot{State: StateIdle.String(), ChangedAt: time.Now()}
	if c.current != nil {
		snap.State = StatePlaying.String()
		snap.Session = c.current.id
		snap.Tag = c.current.tagID.String()
		snap.Action = c.current.action.String()
	}
	c.snapshot.Store(&snap)
}
