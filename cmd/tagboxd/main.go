// Package main provides the tagboxd daemon entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"periph.io/x/periph/host"

	"github.com/osa030/tagboxd/internal/api/status"
	"github.com/osa030/tagboxd/internal/app/gpiomux"
	"github.com/osa030/tagboxd/internal/app/monitor"
	"github.com/osa030/tagboxd/internal/app/playback"
	"github.com/osa030/tagboxd/internal/app/tagmap"
	"github.com/osa030/tagboxd/internal/infra/config"
	"github.com/osa030/tagboxd/internal/infra/fileplayer"
	"github.com/osa030/tagboxd/internal/infra/gpio"
	"github.com/osa030/tagboxd/internal/infra/logger"
	"github.com/osa030/tagboxd/internal/infra/rfid"
	"github.com/osa030/tagboxd/internal/infra/spotify"
)

var (
	app        = kingpin.New("tagboxd", "RFID tag playback daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/tagboxd.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	checkConfigCmd = app.Command("check-config", "Validate the config and tag mapping, then exit")
)

func init() {
	app.Command("start", "Start the daemon (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if !*verbose {
		loggerConfig.Level = cfg.Logging.Level
		if *logfile == "" && cfg.Logging.Output != "" {
			loggerConfig.Output = cfg.Logging.Output
		}
		if err := logger.Init(loggerConfig); err != nil {
			zlog.Fatal().Msgf("Failed to reconfigure logger: %v", err)
		}
	}

	if command == checkConfigCmd.FullCommand() {
		if err := checkConfig(cfg); err != nil {
			zlog.Fatal().Msgf("Config check failed: %v", err)
		}
		zlog.Info().Msg("Config OK")
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Daemon error: %v", err)
		os.Exit(1)
	}
}

// checkConfig validates everything that can be checked without touching
// hardware: the config itself plus the tag mapping file.
func checkConfig(cfg *config.Config) error {
	table, err := tagmap.Load(cfg.Tags.MappingFile, tagmap.Options{RemoteEnabled: cfg.Spotify.Enabled})
	if err != nil {
		return errors.Wrap(err, "loading tag mapping")
	}
	zlog.Info().Int("mappings", table.Len()).Msg("tag mapping loaded")
	return nil
}

// run wires the hardware, producers, and controller together and blocks
// until the shutdown button is pressed, a producer fails, or a signal
// arrives. Using a separate function ensures defer statements run on
// every exit path.
func run(cfg *config.Config) error {
	instance := uuid.New()
	zlog.Info().Str("instance", instance.String()).Msg("tagboxd starting")

	// Everything that can fail cheaply is checked before the hardware.
	table, err := tagmap.Load(cfg.Tags.MappingFile, tagmap.Options{RemoteEnabled: cfg.Spotify.Enabled})
	if err != nil {
		return errors.Wrap(err, "loading tag mapping")
	}
	zlog.Info().Int("mappings", table.Len()).Msg("tag mapping loaded")

	localPlayer, err := fileplayer.New(fileplayer.Config{BaseDirectory: cfg.Audio.BaseDirectory})
	if err != nil {
		return errors.Wrap(err, "creating local player")
	}
	defer localPlayer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends := playback.Backends{Local: localPlayer}
	if cfg.Spotify.Enabled {
		remote, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			RefreshToken: cfg.Spotify.RefreshToken,
			DeviceName:   cfg.Spotify.DeviceName,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return errors.Wrap(err, "creating remote player")
		}
		backends.Remote = remote
	}

	if _, err := host.Init(); err != nil {
		return errors.Wrap(err, "initializing gpio host")
	}

	reader, err := rfid.New(rfid.Config{
		SPIDevice: cfg.Reader.SPIDevice,
		ResetPin:  cfg.Reader.ResetPin,
		IRQPin:    cfg.Reader.IRQPin,
	})
	if err != nil {
		return errors.Wrap(err, "opening rfid reader")
	}
	defer reader.Close()

	button, err := gpio.OpenButton(cfg.GPIO.ButtonPin)
	if err != nil {
		return errors.Wrap(err, "opening shutdown button")
	}
	runningLED, err := gpio.OpenLED(cfg.GPIO.RunningLEDPin)
	if err != nil {
		return errors.Wrap(err, "opening running led")
	}
	playingLED, err := gpio.OpenLED(cfg.GPIO.PlayingLEDPin)
	if err != nil {
		return errors.Wrap(err, "opening playing led")
	}

	events := make(chan playback.Event, 16)

	mon := monitor.New(monitor.Config{
		PollInterval:    cfg.Reader.PollInterval(),
		PresentDebounce: cfg.Reader.PresentDebounce,
		AbsentDebounce:  cfg.Reader.AbsentDebounce,
		MaxReadFailures: cfg.Reader.MaxReadFailures,
	}, reader, events)

	mux := gpiomux.New(gpiomux.Config{
		PollInterval: cfg.GPIO.PollInterval(),
		Debounce:     cfg.GPIO.Debounce,
	}, map[string]gpiomux.InputLine{"shutdown": button}, events)

	mode := playback.ModeContinuous
	if cfg.Playback.TriggerOnly {
		mode = playback.ModeTriggerOnly
	}
	controller := playback.NewController(playback.Config{
		Mode:        mode,
		StopTimeout: cfg.Playback.StopTimeout(),
	}, table, backends, gpiomux.NewIndicator(playingLED), events)

	// Producers and the optional status server report into errCh; the
	// first fatal error tears the daemon down.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	producers := 2
	go func() { errCh <- mon.Run(runCtx) }()
	go func() { errCh <- mux.Run(runCtx) }()
	if cfg.Server.Addr != "" {
		server := status.New(cfg.Server.Addr, instance, controller)
		go func() { errCh <- server.Run(runCtx) }()
		producers++
	}

	controllerDone := make(chan error, 1)
	go func() { controllerDone <- controller.Run(runCtx) }()

	if err := runningLED.Set(true); err != nil {
		zlog.Warn().Err(err).Msg("setting running led")
	}
	defer func() {
		if err := runningLED.Set(false); err != nil {
			zlog.Warn().Err(err).Msg("clearing running led")
		}
	}()
	zlog.Info().Str("mode", mode.String()).Msg("tagboxd running")

	select {
	case err := <-controllerDone:
		// Button shutdown returns nil; anything else is a controller fault.
		cancel()
		drain(errCh, producers)
		if err != nil && !errors.Is(err, context.Canceled) {
			return errors.Wrap(err, "playback controller")
		}
	case err := <-errCh:
		cancel()
		<-controllerDone
		drain(errCh, producers-1)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	zlog.Info().Msg("tagboxd stopped")
	return nil
}

// drain waits for the remaining producer goroutines so their cleanup
// finishes before hardware handles are closed.
func drain(errCh <-chan error, n int) {
	for i := 0; i < n; i++ {
		<-errCh
	}
}
