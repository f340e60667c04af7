// Command x11clipbridge runs the guest-side half of the clipboard bridge:
// it watches the local X11 display's CLIPBOARD and PRIMARY selections and
// exchanges their contents with a clipboard daemon connected over a local
// socket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/example/x11clipbridge/internal/atoms"
	"github.com/example/x11clipbridge/internal/bridge"
	"github.com/example/x11clipbridge/internal/daemonconn"
	"github.com/example/x11clipbridge/internal/x11display"
)

// eventPollInterval is how often the X11 event pump checks for new events.
// xgb's PollForEvent is non-blocking, so this bounds dispatch latency rather
// than driving a busy loop.
const eventPollInterval = 2 * time.Millisecond

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("x11clipbridge", flag.ContinueOnError)
	socketPath := fs.String("socket", "", "path to the daemon's control socket (default: $XDG_RUNTIME_DIR/x11clipbridge/bridge.sock)")
	display := fs.String("display", "", "X11 display name (default: $DISPLAY)")
	verbose := fs.Bool("verbose", false, "log target negotiation and message dispatch")
	showVersion := fs.Bool("version", false, "print version information and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if *showVersion {
		fmt.Printf("x11clipbridge %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	path, err := resolveSocketPath(*socketPath)
	if err != nil {
		return fmt.Errorf("resolve socket path: %w", err)
	}

	disp, err := x11display.Open(*display)
	if err != nil {
		return fmt.Errorf("open X11 display: %w", err)
	}
	defer closeWithLog("x11 display", disp)

	atomTable, err := atoms.Build(disp)
	if err != nil {
		return fmt.Errorf("intern atoms: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for {
		if err := serveOnce(ctx, path, disp, atomTable, *verbose); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("daemon connection ended: %v; waiting for a new connection", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// serveOnce accepts a single daemon connection and bridges it against the
// display until either side ends, then returns so the caller can accept the
// next connection (the daemon may restart independently of the bridge).
func serveOnce(ctx context.Context, path string, disp x11display.Display, atomTable *atoms.Table, verbose bool) error {
	srv, err := daemonconn.Listen(path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", path, err)
	}
	defer closeWithLog("daemon socket", srv)

	handle, conn, err := srv.Accept()
	if err != nil {
		return fmt.Errorf("accept daemon connection: %w", err)
	}
	defer srv.Forget(handle)
	defer closeWithLog("daemon connection", conn)

	coord := bridge.New(disp, atomTable, conn, verbose)

	// runCtx stops both the dispatch loop and the X11 pump as soon as
	// either side ends.
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	x11Events := make(chan x11display.Event, 64)
	pumpDone := make(chan error, 1)
	go func() {
		pumpX11Events(runCtx, disp, x11Events, pumpDone)
		stopRun()
	}()

	runErr := coord.Run(runCtx, conn.Messages(), x11Events)
	stopRun()
	pumpErr := <-pumpDone
	if err := conn.Err(); err != nil {
		return err
	}
	if pumpErr != nil && !errors.Is(pumpErr, context.Canceled) {
		return pumpErr
	}
	return runErr
}

// pumpX11Events polls the display in a tight, short-sleeping loop (xgb's
// PollForEvent is non-blocking) and forwards translated events to the
// Coordinator's single-consumer channel.
func pumpX11Events(ctx context.Context, disp x11display.Display, out chan<- x11display.Event, done chan<- error) {
	defer close(done)
	ticker := time.NewTicker(eventPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			done <- ctx.Err()
			return
		case <-ticker.C:
			for {
				ev, ok, err := disp.PollEvent()
				if err != nil {
					done <- err
					return
				}
				if !ok {
					break
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					done <- ctx.Err()
					return
				}
			}
		}
	}
}

func resolveSocketPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if path := os.Getenv("X11CLIPBRIDGE_SOCKET"); path != "" {
		return path, nil
	}
	if runtime.GOOS != "windows" {
		if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
			return filepath.Join(dir, "x11clipbridge", "bridge.sock"), nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".x11clipbridge", "bridge.sock"), nil
}

func closeWithLog(name string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		log.Printf("%s: close: %v", name, err)
	}
}
