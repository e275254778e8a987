package fileplayer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tagboxd/internal/domain/tag"
)

func newTestPlayer(t *testing.T) *Player {
	t.Helper()
	p, err := New(Config{BaseDirectory: t.TempDir()})
	require.NoError(t, err)
	return p
}

func TestNew(t *testing.T) {
	t.Run("MissingDirectory", func(t *testing.T) {
		_, err := New(Config{BaseDirectory: filepath.Join(t.TempDir(), "nope")})
		assert.Error(t, err)
	})

	t.Run("NotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
		_, err := New(Config{BaseDirectory: file})
		assert.Error(t, err)
	})
}

func TestResolve(t *testing.T) {
	p := newTestPlayer(t)

	t.Run("RelativePath", func(t *testing.T) {
		path, err := p.resolve("albums/one.mp3")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(p.baseDir, "albums", "one.mp3"), path)
	})

	t.Run("LeadingSlashIsContained", func(t *testing.T) {
		path, err := p.resolve("/one.mp3")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(p.baseDir, "one.mp3"), path)
	})

	t.Run("DotDotIsContained", func(t *testing.T) {
		path, err := p.resolve("../../etc/passwd")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(p.baseDir, "etc", "passwd"), path)
	})
}

func TestResolveAll(t *testing.T) {
	p := newTestPlayer(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.baseDir, "one.mp3"), []byte("x"), 0o644))

	t.Run("ExistingFile", func(t *testing.T) {
		paths, err := p.resolveAll([]string{"one.mp3"})
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(p.baseDir, "one.mp3")}, paths)
	})

	t.Run("MissingFileFailsBeforePlayback", func(t *testing.T) {
		_, err := p.resolveAll([]string{"one.mp3", "two.mp3"})
		assert.Error(t, err)
	})

	t.Run("EmptyList", func(t *testing.T) {
		_, err := p.resolveAll(nil)
		assert.Error(t, err)
	})
}

func TestPlay_MissingFileIsPermanent(t *testing.T) {
	p := newTestPlayer(t)
	err := p.Play(context.Background(), tag.Action{Kind: tag.KindFile, Files: []string{"gone.mp3"}}, 1)
	assert.Error(t, err)
}

func TestStop_UnknownSessionIsNoOp(t *testing.T) {
	p := newTestPlayer(t)
	assert.NoError(t, p.Stop(context.Background(), 42))
}

func TestClose_WithoutPlaybackIsNoOp(t *testing.T) {
	p := newTestPlayer(t)
	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
}
