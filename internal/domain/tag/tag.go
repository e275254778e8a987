// Package tag provides the tag identity and playback action domain types.
package tag

import (
	"encoding/hex"
	"strings"

	"github.com/cockroachdb/errors"
)

// ID is an RFID tag UID. The underlying string holds the raw UID bytes,
// so comparison is byte-exact and needs no normalization.
type ID string

// IDFromBytes builds an ID from a raw UID read off the reader.
func IDFromBytes(b []byte) ID {
	return ID(b)
}

// ParseID parses a human-written UID: hex digits with optional ':' or '-'
// separators, case-insensitive. This is the format used for keys in the
// tag mapping file.
func ParseID(s string) (ID, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ':' || r == '-' || r == ' ' {
			return -1
		}
		return r
	}, s)
	if cleaned == "" {
		return "", errors.New("empty tag UID")
	}
	b, err := hex.DecodeString(strings.ToLower(cleaned))
	if err != nil {
		return "", errors.Wrapf(err, "invalid tag UID %q", s)
	}
	return IDFromBytes(b), nil
}

// String renders the UID as colon-separated lowercase hex, e.g. "aa:bb:cc:dd".
func (id ID) String() string {
	if id == "" {
		return ""
	}
	h := hex.EncodeToString([]byte(id))
	var sb strings.Builder
	for i := 0; i < len(h); i += 2 {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(h[i : i+2])
	}
	return sb.String()
}

// Kind discriminates the playback action variants.
type Kind int

const (
	KindNone    Kind = iota // no mapping, nothing to play
	KindSpotify             // remote playback of a Spotify URI
	KindFile                // local playback of files under the audio base directory
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSpotify:
		return "spotify"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Action is the playback action a tag resolves to. It is immutable for
// the lifetime of a playback session.
type Action struct {
	Kind  Kind
	URI   string   // Spotify URI for KindSpotify
	Files []string // relative file paths for KindFile, played in order
}

// Unmapped is the action for tags with no usable mapping.
var Unmapped = Action{Kind: KindNone}

// IsUnmapped reports whether the action triggers no playback.
func (a Action) IsUnmapped() bool {
	return a.Kind == KindNone
}

// Equal reports whether two actions describe the same playback content.
// Used to suppress restart storms when the same tag flickers in and out.
func (a Action) Equal(b Action) bool {
	if a.Kind != b.Kind || a.URI != b.URI || len(a.Files) != len(b.Files) {
		return false
	}
	for i := range a.Files {
		if a.Files[i] != b.Files[i] {
			return false
		}
	}
	return true
}

// String returns a short log-friendly description of the action.
func (a Action) String() string {
	switch a.Kind {
	case KindSpotify:
		return "spotify(" + a.URI + ")"
	case KindFile:
		return "file(" + strings.Join(a.Files, ",") + ")"
	default:
		return "unmapped"
	}
}
