// Package fileplayer provides the local player backend: mp3 decode with
// portaudio output for files under the configured audio base directory.
package fileplayer

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gordonklaus/portaudio"
	mp3 "github.com/hajimehoshi/go-mp3"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagboxd/internal/domain/tag"
)

const framesPerBuffer = 1024

// Player is the local player backend. It implements playback.Backend.
type Player struct {
	baseDir string

	initOnce sync.Once
	initErr  error

	mu       sync.Mutex
	audioUp  bool
	sessions map[uint64]context.CancelFunc
}

// Config represents local player configuration.
type Config struct {
	BaseDirectory string
}

// New creates a local player rooted at the configured base directory.
func New(cfg Config) (*Player, error) {
	info, err := os.Stat(cfg.BaseDirectory)
	if err != nil {
		return nil, errors.Wrap(err, "audio base directory not accessible")
	}
	if !info.IsDir() {
		return nil, errors.Newf("audio base directory %s is not a directory", cfg.BaseDirectory)
	}
	return &Player{
		baseDir:  cfg.BaseDirectory,
		sessions: make(map[uint64]context.CancelFunc),
	}, nil
}

// Play decodes and plays the action's files in order, blocking until
// the last file finishes, the session is stopped, or ctx is cancelled.
// All paths are resolved and checked before any audio starts: a missing
// file is a permanent error, like an unmapped tag.
func (p *Player) Play(ctx context.Context, action tag.Action, session uint64) error {
	paths, err := p.resolveAll(action.Files)
	if err != nil {
		return err
	}

	if err := p.initAudio(); err != nil {
		return err
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.mu.Lock()
	p.sessions[session] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.sessions, session)
		p.mu.Unlock()
	}()

	for _, path := range paths {
		zlog.Debug().Uint64("session", session).Str("file", path).Msg("playing file")
		if err := p.playFile(sctx, path); err != nil {
			return err
		}
	}
	return nil
}

// Stop cancels the session's playback. The decode loop notices on the
// next buffer.
func (p *Player) Stop(_ context.Context, session uint64) error {
	p.mu.Lock()
	cancel, ok := p.sessions[session]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// resolveAll maps the relative playlist entries to absolute paths under
// the base directory, rejecting anything that escapes it.
func (p *Player) resolveAll(files []string) ([]string, error) {
	if len(files) == 0 {
		return nil, errors.New("action has no files to play")
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		path, err := p.resolve(f)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrapf(err, "audio file %s", f)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (p *Player) resolve(file string) (string, error) {
	cleaned := filepath.Clean("/" + file) // force-relative, collapse any ".."
	path := filepath.Join(p.baseDir, cleaned)
	rel, err := filepath.Rel(p.baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Newf("audio file %q escapes the base directory", file)
	}
	return path, nil
}

func (p *Player) initAudio() error {
	p.initOnce.Do(func() {
		p.initErr = portaudio.Initialize()
		if p.initErr == nil {
			p.mu.Lock()
			p.audioUp = true
			p.mu.Unlock()
		}
	})
	if p.initErr != nil {
		return errors.Wrap(p.initErr, "initializing audio output")
	}
	return nil
}

// Close releases the audio host API. A no-op when no playback ever
// initialized it.
func (p *Player) Close() error {
	p.mu.Lock()
	up := p.audioUp
	p.audioUp = false
	p.mu.Unlock()
	if !up {
		return nil
	}
	return errors.Wrap(portaudio.Terminate(), "terminating audio output")
}

// playFile streams one mp3 through the default output device. go-mp3
// always decodes to stereo 16-bit little-endian at the source rate.
func (p *Player) playFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return errors.Wrapf(err, "decoding %s", path)
	}

	buf := make([]int16, framesPerBuffer*2)
	stream, err := portaudio.OpenDefaultStream(0, 2, float64(dec.SampleRate()), framesPerBuffer, buf)
	if err != nil {
		return errors.Wrap(err, "opening audio stream")
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return errors.Wrap(err, "starting audio stream")
	}
	defer stream.Stop()

	raw := make([]byte, len(buf)*2)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := io.ReadFull(dec, raw)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return errors.Wrapf(err, "reading %s", path)
		}
		if n == 0 {
			return nil
		}

		for i := range buf {
			if i*2+1 < n {
				buf[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
			} else {
				buf[i] = 0
			}
		}
		if werr := stream.Write(); werr != nil {
			return errors.Wrap(werr, "writing audio stream")
		}
		if err != nil {
			// Short final read: the file is done.
			return nil
		}
	}
}
