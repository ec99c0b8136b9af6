package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shaunagostinho/adacon/internal/adacom"
	"github.com/shaunagostinho/adacon/internal/control"
	"github.com/shaunagostinho/adacon/internal/logger"
	"github.com/shaunagostinho/adacon/internal/serialport"
	"github.com/shaunagostinho/adacon/internal/server"
	"github.com/shaunagostinho/adacon/internal/sim"
	"github.com/shaunagostinho/adacon/internal/tui"
	"github.com/shaunagostinho/adacon/web"
)

func main() {
	configPath := flag.String("config", "/etc/adacon/config.yaml", "Path to config file")
	var device, logLevel string
	flag.StringVar(&device, "device", "", "Path to serial device (overrides config)")
	flag.StringVar(&device, "d", "", "Shorthand for -device")
	flag.StringVar(&logLevel, "log-level", "", "Log level, 0-7 or a name (overrides config)")
	flag.StringVar(&logLevel, "l", "", "Shorthand for -log-level")
	demo := flag.Bool("demo", false, "Run against a simulated attenuator")
	listenAddr := flag.String("listen", "", "Serve the web UI and API on this address (e.g. :8080)")
	headless := flag.Bool("headless", false, "Run without the terminal dashboard")
	flag.Parse()

	// Bootstrap logger until the config is known
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	cfg := server.LoadConfig(*configPath)
	if device != "" {
		cfg.Device.PortPath = device
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if *demo {
		cfg.Device.Type = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
		cfg.Server.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "adacon: %v\n", err)
		os.Exit(2)
	}

	var console io.Writer = os.Stderr
	var sink *tui.LogSink
	var extra []io.Writer
	if !*headless {
		// The dashboard owns the terminal; logs go to its pane.
		console = nil
		sink = tui.NewLogSink(0)
		extra = append(extra, zerolog.ConsoleWriter{Out: sink, NoColor: true, TimeFormat: time.TimeOnly})
	}
	root, err := logger.New(cfg.Logging, console, extra...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adacon: %v\n", err)
		os.Exit(2)
	}
	defer root.Close()
	mlog := root.With().Str("component", "main").Logger()
	mlog.Info().Msg("adacon starting")

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		mlog.Info().Msgf("received %v, shutting down", sig)
		cancel()
	}()

	// The loop outlives ctx so teardown can still run on it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loop := adacom.NewLoop(0)
	loopDone := make(chan struct{})
	go func() {
		loop.Run(loopCtx)
		close(loopDone)
	}()

	var tr adacom.Transport
	switch cfg.Device.Type {
	case "demo":
		tr = sim.New(cfg.Demo, root.Logger)
		mlog.Info().Str("model", cfg.Demo.Model).Msg("using simulated attenuator")
	default:
		tr = serialport.New(serialport.Config{BaudRate: cfg.Device.BaudRate}, root.Logger)
	}

	ctrl := control.New(loop, tr, adacom.Options{
		Device:  cfg.Device.PortPath,
		Limits:  cfg.Limits,
		Timeout: cfg.Timeout(),
		Logger:  root.Logger,
	}, cfg.ControlSettings())

	if cfg.Server.Enabled {
		srv := server.New(cfg, ctrl, web.FS, root.Logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				mlog.Error().Err(err).Msg("server exited")
			}
		}()
	}

	if *headless {
		go connectWithRetry(ctx, mlog, ctrl, 10)
		<-ctx.Done()
	} else {
		ctrl.Connect()
		updates, unsubscribe := ctrl.Subscribe()
		if err := tui.Run(ctx, tui.New(ctrl, updates, sink.Lines())); err != nil {
			fmt.Fprintf(os.Stderr, "adacon: dashboard: %v\n", err)
		}
		unsubscribe()
		cancel()
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := ctrl.Close(shutCtx); err != nil {
		mlog.Warn().Err(err).Msg("teardown incomplete")
	}
	shutCancel()
	stopLoop()
	<-loopDone
	mlog.Info().Msg("adacon stopped")
}

// connectWithRetry connects with exponential backoff while the device is
// missing. Starts at 1s, doubles each attempt up to 60s, logs the attempt
// count up to maxAttempts then continues at max interval indefinitely.
// Any other failure ends the retries.
func connectWithRetry(ctx context.Context, l zerolog.Logger, ctrl *control.Controller, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := ctrl.ConnectWait(ctx)
		if err == nil {
			l.Info().Msgf("connected successfully (attempt %d)", attempt+1)
			return
		}
		if !errors.Is(err, adacom.ErrDeviceNotFound) {
			if ctx.Err() == nil {
				l.Error().Err(err).Msg("connect failed")
			}
			return
		}

		attempt++
		if attempt <= maxAttempts {
			l.Warn().Err(err).Msgf("connect attempt %d/%d failed (retry in %v)", attempt, maxAttempts, delay)
		} else {
			l.Warn().Err(err).Msgf("connect attempt %d failed (retry in %v)", attempt, delay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
