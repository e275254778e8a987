// Package spotify provides the remote player backend on top of the
// Spotify Web API.
package spotify

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/osa030/tagboxd/internal/domain/tag"
)

// Client is the remote player backend. It implements playback.Backend.
type Client struct {
	client       *spotify.Client
	deviceName   string
	market       string
	maxRetries   int
	retryDelay   time.Duration
	pollInterval time.Duration

	mu       sync.Mutex
	sessions map[uint64]context.CancelFunc
}

// Config represents remote player configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	DeviceName   string // empty targets the currently active device
	Market       string // ISO 3166-1 alpha-2, empty for no restriction
}

// New creates a new remote player client. Token refresh happens inside
// the oauth2 transport; a 401 surfacing here means the refresh itself
// failed and is retried like any transient error.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("spotify credentials are required")
	}

	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadPlaybackState,
			spotifyauth.ScopeUserModifyPlaybackState,
		),
	)

	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}

	httpClient := auth.Client(ctx, token)

	return &Client{
		client:       spotify.New(httpClient),
		deviceName:   cfg.DeviceName,
		market:       cfg.Market,
		maxRetries:   3,
		retryDelay:   time.Second,
		pollInterval: 5 * time.Second,
		sessions:     make(map[uint64]context.CancelFunc),
	}, nil
}

// Play starts remote playback of the action's URI and blocks until the
// player reports the content finished, the session is stopped, or ctx
// is cancelled.
func (c *Client) Play(ctx context.Context, action tag.Action, session uint64) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.register(session, cancel)
	defer c.unregister(session)

	deviceID, err := c.resolveDevice(sctx)
	if err != nil {
		return err
	}

	opts := playOptions(action.URI, deviceID)
	err = c.retry(sctx, func() error {
		return c.client.PlayOpt(sctx, opts)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to start playback of %s", action.URI)
	}

	zlog.Debug().Uint64("session", session).Str("uri", action.URI).Msg("remote playback started")
	return c.waitForCompletion(sctx, session)
}

// Stop cancels the session's outstanding Play (abandoning any pending
// retries) and pauses the player.
func (c *Client) Stop(ctx context.Context, session uint64) error {
	c.cancelSession(session)

	deviceID, err := c.resolveDevice(ctx)
	if err != nil {
		return err
	}
	err = c.retry(ctx, func() error {
		return c.client.PauseOpt(ctx, &spotify.PlayOptions{DeviceID: deviceID})
	})
	if err != nil {
		return errors.Wrap(err, "failed to pause playback")
	}
	return nil
}

// waitForCompletion polls the player until the content has stopped
// playing. A not-playing report counts only after playback has been
// observed at least once, since the device may take a moment to start.
func (c *Client) waitForCompletion(ctx context.Context, session uint64) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var opts []spotify.RequestOption
	if c.market != "" {
		opts = append(opts, spotify.Market(c.market))
	}

	seenPlaying := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		cp, err := c.client.PlayerCurrentlyPlaying(ctx, opts...)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zlog.Debug().Err(err).Uint64("session", session).Msg("player state poll failed")
			continue
		}
		if cp.Playing {
			seenPlaying = true
			continue
		}
		if seenPlaying {
			return nil
		}
	}
}

func (c *Client) register(session uint64, cancel context.CancelFunc) {
	c.mu.Lock()
	c.sessions[session] = cancel
	c.mu.Unlock()
}

func (c *Client) unregister(session uint64) {
	c.mu.Lock()
	delete(c.sessions, session)
	c.mu.Unlock()
}

func (c *Client) cancelSession(session uint64) {
	c.mu.Lock()
	cancel, ok := c.sessions[session]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// resolveDevice maps the configured device name to its id. An empty
// name targets whatever device is currently active.
func (c *Client) resolveDevice(ctx context.Context) (*spotify.ID, error) {
	if c.deviceName == "" {
		return nil, nil
	}

	var devices []spotify.PlayerDevice
	err := c.retry(ctx, func() error {
		ds, err := c.client.PlayerDevices(ctx)
		if err != nil {
			return err
		}
		devices = ds
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list player devices")
	}

	for _, d := range devices {
		if d.Name == c.deviceName {
			id := d.ID
			return &id, nil
		}
	}
	return nil, errors.Newf("player device %q not found", c.deviceName)
}

// retry runs op with bounded exponential backoff. Permanent API errors
// are returned immediately; cancellation aborts the backoff wait so no
// late attempt can fire after the session has moved on.
func (c *Client) retry(ctx context.Context, op func() error) error {
	delay := c.retryDelay
	var err error
	for attempt := 0; ; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = op(); err == nil || !isTransient(err) || attempt >= c.maxRetries {
			return err
		}
		zlog.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", delay).
			Msg("spotify call failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// isTransient classifies an API failure. 401 is retried because the
// oauth2 transport refreshes the token before the next attempt; 4xx
// otherwise means the request itself is bad and will not heal.
func isTransient(err error) bool {
	var se spotify.Error
	if errors.As(err, &se) {
		switch {
		case se.Status == http.StatusUnauthorized:
			return true
		case se.Status == http.StatusTooManyRequests:
			return true
		case se.Status >= 500:
			return true
		default:
			return false
		}
	}
	// Anything below the API layer (DNS, connection reset, timeouts).
	return true
}

// playOptions builds the start-playback request. Track URIs go in the
// uris list; albums, playlists and artists are playback contexts.
func playOptions(uri string, deviceID *spotify.ID) *spotify.PlayOptions {
	opts := &spotify.PlayOptions{DeviceID: deviceID}
	if strings.HasPrefix(uri, "spotify:track:") {
		opts.URIs = []spotify.URI{spotify.URI(uri)}
	} else {
		u := spotify.URI(uri)
		opts.PlaybackContext = &u
	}
	return opts
}
