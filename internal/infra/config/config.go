// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the daemon configuration. It is loaded once at
// startup and read-only afterwards.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Reader   ReaderConfig   `yaml:"reader"`
	GPIO     GPIOConfig     `yaml:"gpio"`
	Playback PlaybackConfig `yaml:"playback"`
	Tags     TagsConfig     `yaml:"tags"`
	Audio    AudioConfig    `yaml:"audio"`
	Spotify  SpotifyConfig  `yaml:"spotify"`
	Server   ServerConfig   `yaml:"server"`
}

// LoggingConfig represents logger configuration.
type LoggingConfig struct {
	Output string `yaml:"output" default:"stdout"`
	Level  string `yaml:"level" default:"info"`
}

// ReaderConfig represents RFID reader and presence monitor configuration.
type ReaderConfig struct {
	SPIDevice       string `yaml:"spi_device"` // empty selects the first SPI port
	ResetPin        string `yaml:"reset_pin" default:"GPIO25"`
	IRQPin          string `yaml:"irq_pin" default:"GPIO24"`
	PollIntervalMs  int    `yaml:"poll_interval_ms" default:"200" validate:"gte=10,lte=5000"`
	PresentDebounce int    `yaml:"present_debounce" default:"2" validate:"gte=1,lte=100"`
	AbsentDebounce  int    `yaml:"absent_debounce" default:"3" validate:"gte=1,lte=100"`
	MaxReadFailures int    `yaml:"max_read_failures" default:"25" validate:"gte=1"`
}

// PollInterval returns the reader poll interval as a duration.
func (c ReaderConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// GPIOConfig represents the button and indicator line configuration.
type GPIOConfig struct {
	ButtonPin      string `yaml:"button_pin" default:"GPIO3"`
	RunningLEDPin  string `yaml:"running_led_pin" default:"GPIO5"`
	PlayingLEDPin  string `yaml:"playing_led_pin" default:"GPIO6"`
	PollIntervalMs int    `yaml:"poll_interval_ms" default:"25" validate:"gte=5,lte=1000"`
	Debounce       int    `yaml:"debounce" default:"2" validate:"gte=1,lte=100"`
}

// PollInterval returns the button poll interval as a duration.
func (c GPIOConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// PlaybackConfig represents playback controller configuration.
type PlaybackConfig struct {
	TriggerOnly   bool `yaml:"trigger_only"`
	StopTimeoutMs int  `yaml:"stop_timeout_ms" default:"2000" validate:"gte=100,lte=30000"`
}

// StopTimeout returns the best-effort stop budget as a duration.
func (c PlaybackConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutMs) * time.Millisecond
}

// TagsConfig represents tag mapping configuration.
type TagsConfig struct {
	MappingFile string `yaml:"mapping_file" validate:"required"`
}

// AudioConfig represents local playback configuration.
type AudioConfig struct {
	BaseDirectory string `yaml:"base_directory" validate:"required"`
}

// SpotifyConfig represents the remote player configuration.
type SpotifyConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	DeviceName   string `yaml:"device_name"` // empty targets the active device
	Market       string `yaml:"market" validate:"omitempty,len=2"`
}

// ServerConfig represents the status HTTP server configuration. An
// empty address disables the server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Load loads configuration from a YAML file. Environment variables take
// precedence over file values. Any load or validation failure is fatal
// to the caller: the daemon must not touch hardware with a bad config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("TAG_MAPPER_CONFIGURATION_FILE"); v != "" {
		c.Tags.MappingFile = v
	}
	if v := os.Getenv("AUDIO_BASE_DIRECTORY"); v != "" {
		c.Audio.BaseDirectory = v
	}
	if v, ok := lookupBool("ENABLE_SPOTIFY"); ok {
		c.Spotify.Enabled = v
	}
	if v, ok := lookupBool("TRIGGER_ONLY_MODE"); ok {
		c.Playback.TriggerOnly = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
	if v := os.Getenv("SPOTIFY_DEVICE_NAME"); v != "" {
		c.Spotify.DeviceName = v
	}
}

func lookupBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Spotify.Enabled {
		if c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" || c.Spotify.RefreshToken == "" {
			return errors.New("spotify is enabled but credentials are missing")
		}
	}

	return nil
}
