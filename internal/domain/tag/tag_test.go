package tag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string // String() form
		wantErr  bool
	}{
		{
			name:     "plain hex",
			input:    "aabbccdd",
			expected: "aa:bb:cc:dd",
		},
		{
			name:     "colon separated",
			input:    "AA:BB:CC:DD",
			expected: "aa:bb:cc:dd",
		},
		{
			name:     "dash separated",
			input:    "aa-bb-cc-dd",
			expected: "aa:bb:cc:dd",
		},
		{
			name:     "seven byte UID",
			input:    "04a224e2f91c80",
			expected: "04:a2:24:e2:f9:1c:80",
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
		{
			name:    "separators only",
			input:   "::",
			wantErr: true,
		},
		{
			name:    "not hex",
			input:   "zz:yy",
			wantErr: true,
		},
		{
			name:    "odd length",
			input:   "abc",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, id.String())
		})
	}
}

func TestParseID_ByteExactEquality(t *testing.T) {
	a, err := ParseID("AA:BB:CC:DD")
	require.NoError(t, err)
	b := IDFromBytes([]byte{0xaa, 0xbb, 0xcc, 0xdd})
	assert.Equal(t, a, b)

	c := IDFromBytes([]byte{0xaa, 0xbb, 0xcc, 0xde})
	assert.NotEqual(t, a, c)
}

func TestAction_Equal(t *testing.T) {
	spotifyA := Action{Kind: KindSpotify, URI: "spotify:track:123"}
	spotifyB := Action{Kind: KindSpotify, URI: "spotify:track:456"}
	fileA := Action{Kind: KindFile, Files: []string{"a.mp3", "b.mp3"}}
	fileB := Action{Kind: KindFile, Files: []string{"a.mp3"}}

	assert.True(t, spotifyA.Equal(spotifyA))
	assert.False(t, spotifyA.Equal(spotifyB))
	assert.True(t, fileA.Equal(fileA))
	assert.False(t, fileA.Equal(fileB))
	assert.False(t, spotifyA.Equal(fileA))
	assert.True(t, Unmapped.Equal(Action{}))
}

func TestAction_IsUnmapped(t *testing.T) {
	assert.True(t, Unmapped.IsUnmapped())
	assert.False(t, Action{Kind: KindSpotify, URI: "spotify:album:x"}.IsUnmapped())
	assert.False(t, Action{Kind: KindFile, Files: []string{"x.mp3"}}.IsUnmapped())
}
