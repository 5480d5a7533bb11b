// Package interactive provides the interactive command-line interface
// for readerlinkd.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/readerlink/readerlink-go/pkg/connection"
	"github.com/readerlink/readerlink-go/pkg/events"
	"github.com/readerlink/readerlink-go/pkg/reader"
)

// Shell drives a connection manager from a readline prompt.
type Shell struct {
	manager *connection.Manager
	rl      *readline.Instance

	listeners []*events.Listener
}

// New creates a shell bound to the manager. Manager events are echoed
// above the prompt.
func New(manager *connection.Manager) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "readerlink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	s := &Shell{
		manager: manager,
		rl:      rl,
	}
	s.watchEvents()
	return s, nil
}

// Stdout returns a writer that coordinates with the prompt.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Run starts the command loop. It returns when the user exits or ctx
// ends; cancel is invoked on exit so the rest of the process follows.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()

		case "connect", "c":
			s.cmdConnect(ctx, args)

		case "discover", "d":
			s.cmdDiscover(ctx)

		case "disconnect":
			s.cmdDisconnect(ctx)

		case "status", "s":
			s.cmdStatus(ctx)

		case "persisted":
			s.cmdPersisted(ctx, args)

		case "quit", "exit", "q":
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(s.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.rl.Stdout(), `
Readerlink Commands:
  connect [serial]   - Connect to a reader (any reader when no serial)
  discover           - Scan for readers without connecting
  disconnect         - Disconnect the current reader
  status             - Show policy, desired and connected reader
  persisted [serial] - Show, set or clear (-) the persisted serial
  help               - Show this help
  quit               - Exit`)
}

func (s *Shell) cmdConnect(ctx context.Context, args []string) {
	serial := ""
	if len(args) > 0 {
		serial = args[0]
	}
	if err := s.manager.Connect(ctx, serial); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Connect failed: %v\n", err)
		return
	}
	fmt.Fprintln(s.rl.Stdout(), "Connecting...")
}

func (s *Shell) cmdDiscover(ctx context.Context) {
	if err := s.manager.Discover(ctx); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Discover failed: %v\n", err)
		return
	}
	fmt.Fprintln(s.rl.Stdout(), "Scanning...")
}

func (s *Shell) cmdDisconnect(ctx context.Context) {
	if err := s.manager.Disconnect(ctx); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Disconnect failed: %v\n", err)
		return
	}
	fmt.Fprintln(s.rl.Stdout(), "Disconnected")
}

func (s *Shell) cmdStatus(ctx context.Context) {
	out := s.rl.Stdout()
	fmt.Fprintln(out, "\nAgent Status")
	fmt.Fprintln(out, "-------------------------------------------")
	fmt.Fprintf(out, "  Policy:  %s\n", s.manager.Policy())

	desired := s.manager.DesiredReader()
	switch desired {
	case "":
		fmt.Fprintln(out, "  Desired: (unset)")
	case reader.AnyReader:
		fmt.Fprintln(out, "  Desired: any reader")
	default:
		fmt.Fprintf(out, "  Desired: %s\n", desired)
	}

	if s.manager.Policy().Persists() {
		serial, err := s.manager.PersistedReaderSerialNumber(ctx)
		switch {
		case err != nil:
			fmt.Fprintf(out, "  Persisted: error: %v\n", err)
		case serial == "":
			fmt.Fprintln(out, "  Persisted: (none)")
		default:
			fmt.Fprintf(out, "  Persisted: %s\n", serial)
		}
	}
	fmt.Fprintln(out)
}

func (s *Shell) cmdPersisted(ctx context.Context, args []string) {
	out := s.rl.Stdout()
	if len(args) == 0 {
		serial, err := s.manager.PersistedReaderSerialNumber(ctx)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return
		}
		if serial == "" {
			fmt.Fprintln(out, "No persisted reader")
			return
		}
		fmt.Fprintf(out, "Persisted reader: %s\n", serial)
		return
	}

	serial := args[0]
	if serial == "-" {
		serial = ""
	}
	if err := s.manager.SetPersistedReaderSerialNumber(ctx, serial); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	if serial == "" {
		fmt.Fprintln(out, "Persisted reader cleared")
		return
	}
	fmt.Fprintf(out, "Persisted reader set to %s\n", serial)
}

// watchEvents echoes manager events above the prompt.
func (s *Shell) watchEvents() {
	bus := s.manager.Events()
	out := func(format string, args ...any) {
		fmt.Fprintf(s.rl.Stdout(), format+"\n", args...)
	}

	s.listeners = append(s.listeners,
		bus.AddListener(events.KindReadersDiscovered, func(ev events.Event) {
			if len(ev.Readers) == 0 {
				out("[EVENT] Scan finished, no readers found")
				return
			}
			out("[EVENT] Readers discovered:")
			for _, r := range ev.Readers {
				out("  %s  %s (%s)", r.Serial, r.Label, r.Model)
			}
		}),
		bus.AddListener(events.KindConnectionError, func(ev events.Event) {
			out("[EVENT] Connection error: %s: %v", ev.Serial, ev.Err)
		}),
		bus.AddListener(events.KindPersistedReaderNotFound, func(ev events.Event) {
			out("[EVENT] Persisted reader %s not in range, retrying", ev.Serial)
		}),
		bus.AddListener(events.KindReaderPersisted, func(ev events.Event) {
			if ev.Serial == "" {
				out("[EVENT] Persisted reader cleared")
				return
			}
			out("[EVENT] Reader persisted: %s", ev.Serial)
		}),
		bus.AddListener(events.KindLog, func(ev events.Event) {
			out("[LOG] %s", ev.Message)
		}),
	)
}

func (s *Shell) close() {
	for _, l := range s.listeners {
		l.Remove()
	}
	s.rl.Close()
}
