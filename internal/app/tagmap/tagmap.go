// Package tagmap builds the immutable tag-to-action lookup table.
package tagmap

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/osa030/tagboxd/internal/domain/tag"
)

// Options alters how the table is built.
type Options struct {
	// RemoteEnabled controls whether spotify entries are usable. When
	// false they degrade to unmapped at load time.
	RemoteEnabled bool
}

// Table is the tag-to-action mapping. It is built once at startup and
// never written afterwards, so lookups need no locking.
type Table struct {
	actions map[tag.ID]tag.Action
}

type mappingFile struct {
	Mappings map[string]entry `yaml:"mappings"`
}

type entry struct {
	Type     string         `yaml:"type"`
	Settings map[string]any `yaml:"settings"`
}

type spotifySettings struct {
	URI string `mapstructure:"uri"`
}

type fileSettings struct {
	Files []string `mapstructure:"files"`
}

// Load reads and validates the mapping file.
func Load(path string, opts Options) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read tag mapping file")
	}

	var file mappingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "failed to parse tag mapping file")
	}

	actions := make(map[tag.ID]tag.Action, len(file.Mappings))
	for key, e := range file.Mappings {
		id, err := tag.ParseID(key)
		if err != nil {
			return nil, errors.Wrapf(err, "mapping entry %q", key)
		}
		if _, exists := actions[id]; exists {
			return nil, errors.Newf("mapping entry %q: duplicate UID %s", key, id)
		}

		action, err := buildAction(e)
		if err != nil {
			return nil, errors.Wrapf(err, "mapping entry %q", key)
		}
		if action.Kind == tag.KindSpotify && !opts.RemoteEnabled {
			zlog.Warn().Str("tag", id.String()).Str("uri", action.URI).
				Msg("remote player disabled, treating spotify mapping as unmapped")
			action = tag.Unmapped
		}
		actions[id] = action
	}

	zlog.Info().Int("entries", len(actions)).Msg("tag mapping table loaded")
	return &Table{actions: actions}, nil
}

func buildAction(e entry) (tag.Action, error) {
	switch e.Type {
	case "spotify":
		var s spotifySettings
		if err := mapstructure.Decode(e.Settings, &s); err != nil {
			return tag.Unmapped, errors.Wrap(err, "invalid spotify settings")
		}
		if s.URI == "" {
			return tag.Unmapped, errors.New("spotify mapping requires a uri")
		}
		return tag.Action{Kind: tag.KindSpotify, URI: s.URI}, nil
	case "file":
		var s fileSettings
		if err := mapstructure.Decode(e.Settings, &s); err != nil {
			return tag.Unmapped, errors.Wrap(err, "invalid file settings")
		}
		if len(s.Files) == 0 {
			return tag.Unmapped, errors.New("file mapping requires at least one file")
		}
		return tag.Action{Kind: tag.KindFile, Files: s.Files}, nil
	default:
		return tag.Unmapped, errors.Newf("unknown mapping type %q", e.Type)
	}
}

// Resolve returns the action for a tag. Unknown tags resolve to the
// unmapped action; that is not an error.
func (t *Table) Resolve(id tag.ID) tag.Action {
	if a, ok := t.actions[id]; ok {
		return a
	}
	return tag.Unmapped
}

// Len returns the number of entries in the table.
func (t *Table) Len() int {
	return len(t.actions)
}
