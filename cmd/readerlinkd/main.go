// Command readerlinkd is the reference readerlink agent.
//
// It wires a hardware adapter, a state store and the connection manager
// together, follows the configured connection policy and exposes an
// interactive shell for driving the manager by hand.
//
// Usage:
//
//	readerlinkd [flags]
//
// Flags:
//
//	-config string      Configuration file path (YAML)
//	-policy string      Connection policy: auto, persist, manual, persist-manual
//	-adapter string     Hardware backend: sim, bluez, mdns (default "sim")
//	-state string       State file path (default "readerlink.json")
//	-trace string       Trace log file path (CBOR, optional)
//	-log-level string   Log level: debug, info, warn, error (default "info")
//	-interactive        Run the interactive shell (default true)
//
// Examples:
//
//	# Auto-connect to the strongest nearby reader
//	readerlinkd -policy auto -adapter bluez
//
//	# Remember the chosen reader across restarts
//	readerlinkd -policy persist -state /var/lib/readerlink/state.json
//
//	# Everything from a config file, headless
//	readerlinkd -config /etc/readerlink/agent.yaml -interactive=false
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/readerlink/readerlink-go/cmd/readerlinkd/interactive"
	"github.com/readerlink/readerlink-go/pkg/config"
	"github.com/readerlink/readerlink-go/pkg/connection"
	"github.com/readerlink/readerlink-go/pkg/events"
	"github.com/readerlink/readerlink-go/pkg/hardware"
	"github.com/readerlink/readerlink-go/pkg/hardware/bluez"
	"github.com/readerlink/readerlink-go/pkg/hardware/mdnsreader"
	"github.com/readerlink/readerlink-go/pkg/hardware/sim"
	"github.com/readerlink/readerlink-go/pkg/reader"
	"github.com/readerlink/readerlink-go/pkg/storage"
	"github.com/readerlink/readerlink-go/pkg/tracelog"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Configuration file path (YAML)")
		policyName  = flag.String("policy", "", "Connection policy: auto, persist, manual, persist-manual")
		adapterName = flag.String("adapter", "", "Hardware backend: sim, bluez, mdns")
		statePath   = flag.String("state", "", "State file path")
		tracePath   = flag.String("trace", "", "Trace log file path")
		logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
		shell       = flag.Bool("interactive", true, "Run the interactive shell")
	)
	flag.Parse()

	cfg, err := resolveConfig(*configPath, *policyName, *adapterName, *statePath, *tracePath, *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "readerlinkd:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if err := run(cfg, logger, *shell); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// resolveConfig loads the config file when given and lets flags override
// individual fields.
func resolveConfig(path, policy, adapter, state, trace, level string) (config.Config, error) {
	file := config.File{
		Policy:    policy,
		Adapter:   adapter,
		StateFile: state,
		TraceFile: trace,
		LogLevel:  level,
	}

	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg := loaded
		if policy != "" {
			p, err := reader.ParsePolicy(policy)
			if err != nil {
				return config.Config{}, err
			}
			cfg.Policy = p
		}
		if adapter != "" {
			cfg.Adapter = adapter
		}
		if state != "" {
			cfg.StateFile = state
		}
		if trace != "" {
			cfg.TraceFile = trace
		}
		if level != "" {
			l, err := config.ParseLogLevel(level)
			if err != nil {
				return config.Config{}, err
			}
			cfg.LogLevel = l
		}
		return cfg, nil
	}

	return file.Resolve()
}

func run(cfg config.Config, logger *slog.Logger, shell bool) error {
	adapter, cleanup, err := buildAdapter(cfg, logger)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	var trace tracelog.Logger = tracelog.NoopLogger{}
	if cfg.TraceFile != "" {
		fl, err := tracelog.NewFileLogger(cfg.TraceFile)
		if err != nil {
			return fmt.Errorf("open trace log: %w", err)
		}
		defer fl.Close()
		// Mirror trace events into the debug log alongside the file.
		trace = tracelog.NewMultiLogger(fl, tracelog.NewSlogAdapter(logger))
	}

	manager, err := connection.New(connection.Config{
		Policy:          cfg.Policy,
		DeviceType:      cfg.DeviceType,
		DiscoveryMethod: cfg.DiscoveryMethod,
		Adapter:         adapter,
		Store:           storage.NewFileStore(cfg.StateFile),
		Logger:          logger,
		Trace:           trace,
	})
	if err != nil {
		return err
	}

	narrateEvents(manager.Events(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start manager: %w", err)
	}
	logger.Info("readerlinkd started",
		"policy", cfg.Policy.String(), "adapter", cfg.Adapter)

	if shell {
		sh, err := interactive.New(manager)
		if err != nil {
			return err
		}
		sh.Run(ctx, cancel)
	} else {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			logger.Info("received signal", "signal", sig.String())
		case <-ctx.Done():
		}
	}

	if err := manager.Stop(context.Background()); err != nil && !errors.Is(err, connection.ErrClosed) {
		logger.Warn("stop manager", "err", err)
	}
	logger.Info("readerlinkd stopped")
	return nil
}

func buildAdapter(cfg config.Config, logger *slog.Logger) (hardware.Adapter, func(), error) {
	switch cfg.Adapter {
	case config.AdapterSim:
		s := sim.New()
		s.SetAvailable(
			reader.DiscoveredReader{Serial: "SIM-001", Label: "Simulated Reader 1", Model: "SIM-CR", SignalStrength: -40},
			reader.DiscoveredReader{Serial: "SIM-002", Label: "Simulated Reader 2", Model: "SIM-CR", SignalStrength: -60},
		)
		return s, nil, nil

	case config.AdapterBlueZ:
		a, err := bluez.New(bluez.Config{Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return a, func() { _ = a.Close() }, nil

	case config.AdapterMDNS:
		return mdnsreader.New(mdnsreader.Config{Logger: logger}), nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownAdapter, cfg.Adapter)
	}
}

// narrateEvents mirrors manager events into the operational log.
func narrateEvents(bus *events.Bus, logger *slog.Logger) {
	bus.AddListener(events.KindReadersDiscovered, func(ev events.Event) {
		logger.Info("readers discovered", "count", len(ev.Readers), "serials", reader.Serials(ev.Readers))
	})
	bus.AddListener(events.KindConnectionError, func(ev events.Event) {
		logger.Warn("connection error", "serial", ev.Serial, "err", ev.Err)
	})
	bus.AddListener(events.KindPersistedReaderNotFound, func(ev events.Event) {
		logger.Warn("persisted reader not found", "serial", ev.Serial)
	})
	bus.AddListener(events.KindReaderPersisted, func(ev events.Event) {
		if ev.Serial == "" {
			logger.Info("persisted reader cleared")
			return
		}
		logger.Info("reader persisted", "serial", ev.Serial)
	})
	bus.AddListener(events.KindLog, func(ev events.Event) {
		logger.Debug(ev.Message)
	})
}
