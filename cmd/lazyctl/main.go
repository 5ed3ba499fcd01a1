package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"lazythumb/internal/config"
	"lazythumb/internal/database"
	"lazythumb/internal/filesystem"
	"lazythumb/internal/item"
	"lazythumb/internal/logging"
	"lazythumb/internal/provider"

	"golang.org/x/term"
)

const (
	// Default timeout for database operations
	defaultTimeout = 30 * time.Second
	// Default length of one simulated download step
	defaultStepDelay = 500 * time.Millisecond
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	// Create a context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	// Library logging would interleave with command output.
	logging.SetOutput(io.Discard)

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = config.Default().DataDir
	}
	dbPath := filepath.Join(dataDir, "manifest.db")

	db, err := database.New(ctx, dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open manifest: %v\n", err)
		fmt.Fprintf(os.Stderr, "Make sure DATA_DIR is set correctly (current: %s)\n", dataDir)
		os.Exit(1)
	}

	c := &cli{
		db:     db,
		src:    provider.NewManifestSource(db, filesystem.DefaultRetryConfig()),
		out:    os.Stdout,
		errOut: os.Stderr,
		tty:    term.IsTerminal(int(os.Stdout.Fd())),
		width: func() int {
			w, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err != nil {
				return 0
			}
			return w
		},
		stepDelay: defaultStepDelay,
	}
	code := c.run(ctx, os.Args[1:])

	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
	}
	os.Exit(code)
}

// cli runs one lazyctl command against the manifest.
type cli struct {
	db     *database.Database
	src    *provider.ManifestSource
	out    io.Writer
	errOut io.Writer
	// tty enables the redrawn progress bar for demo.
	tty       bool
	width     func() int
	stepDelay time.Duration
}

func (c *cli) run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		printUsage(c.out)
		return 1
	}

	var err error
	switch args[0] {
	case "report":
		err = c.report(ctx, args[1:])
	case "status":
		err = c.status(ctx, args[1:])
	case "requests":
		err = c.requests(ctx)
	case "stats":
		err = c.stats(ctx)
	case "demo":
		err = c.demo(ctx, args[1:])
	case "vacuum":
		err = c.vacuum(ctx)
	case "help", "-h", "--help":
		printUsage(c.out)
		return 0
	default:
		fmt.Fprintf(c.errOut, "Unknown command: %s\n", sanitizeCommand(args[0]))
		printUsage(c.errOut)
		return 1
	}

	if err != nil {
		fmt.Fprintf(c.errOut, "Error: %v\n", err)
		return 1
	}
	return 0
}

// sanitizeCommand returns a safe representation of a command string for display.
// It uses an allowlist approach, replacing any character that is not alphanumeric,
// a hyphen, or an underscore with '_'.
func sanitizeCommand(cmd string) string {
	var b strings.Builder
	b.Grow(len(cmd))
	for _, r := range cmd {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "lazythumb manifest tool")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage: lazyctl <command> [arguments]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  report <path> <state> [progress]  - Record a status report")
	fmt.Fprintln(w, "  status <path>                     - Show the status of an item")
	fmt.Fprintln(w, "  requests                          - List outstanding download requests")
	fmt.Fprintln(w, "  stats                             - Count items by state")
	fmt.Fprintln(w, "  demo <path> [steps]               - Simulate a download of an item")
	fmt.Fprintln(w, "  vacuum                            - Compact the manifest")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "States: not_materialized, materializing, materialized")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintf(w, "  DATA_DIR - Directory holding manifest.db (default: %s)\n", config.Default().DataDir)
}

func (c *cli) report(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: report <path> <state> [progress]")
	}
	state, ok := item.ParseState(args[1])
	if !ok {
		return fmt.Errorf("unknown state %q", args[1])
	}
	status := item.Status{State: state}
	if len(args) == 3 {
		p, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("invalid progress %q", args[2])
		}
		status.Progress = p
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	ref := item.NewFile(args[0])
	written, err := c.src.Report(ctx, ref, status)
	if err != nil {
		return err
	}
	if !written {
		fmt.Fprintf(c.out, "%s: unchanged (progress never moves backwards)\n", ref.Path)
		return nil
	}
	fmt.Fprintf(c.out, "%s: %s\n", ref.Path, status.Normalize())
	return nil
}

func (c *cli) status(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: status <path>")
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	ref := item.NewFile(args[0])
	st, err := provider.StatusOf(ctx, c.src, ref)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s: %s\n", ref.Path, st)
	return nil
}

func (c *cli) requests(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	entries, err := c.db.Requests(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No outstanding requests")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(c.out, "%s  %-20s %s\n", e.UpdatedAt.Local().Format(time.DateTime), e.Status, e.Path)
	}
	return nil
}

func (c *cli) stats(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	counts, err := c.db.CountByState(ctx)
	if err != nil {
		return err
	}
	for _, st := range []item.State{item.NotMaterialized, item.Materializing, item.Materialized} {
		fmt.Fprintf(c.out, "%-18s %d\n", st, counts[st.String()])
	}

	last, err := c.db.LastReport(ctx)
	if err != nil {
		return err
	}
	if last.IsZero() {
		fmt.Fprintln(c.out, "Last report:       never")
	} else {
		fmt.Fprintf(c.out, "Last report:       %s\n", last.Local().Format(time.DateTime))
	}
	return nil
}

// demo plays the sync daemon for one item: it evicts it, reports steps
// progress updates and marks it materialized. Subscribers see a full
// download without a real provider.
func (c *cli) demo(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: demo <path> [steps]")
	}
	steps := 10
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid steps %q", args[1])
		}
		steps = n
	}

	ref := item.NewFile(args[0])
	if _, err := c.src.Report(ctx, ref, item.NotMaterializedStatus()); err != nil {
		return err
	}

	for i := 0; i <= steps; i++ {
		status := item.MaterializingStatus(float64(i) / float64(steps))
		if i == steps {
			status = item.MaterializedStatus()
		}
		if _, err := c.src.Report(ctx, ref, status); err != nil {
			return err
		}
		c.drawProgress(ref, status.Progress)

		if i < steps {
			select {
			case <-ctx.Done():
				fmt.Fprintln(c.out)
				return ctx.Err()
			case <-time.After(c.stepDelay):
			}
		}
	}
	if c.tty {
		fmt.Fprintln(c.out)
	}
	return nil
}

func (c *cli) drawProgress(ref item.Ref, progress float64) {
	if !c.tty {
		fmt.Fprintf(c.out, "%s %3.0f%%\n", ref.Name(), progress*100)
		return
	}
	width := 0
	if c.width != nil {
		width = c.width()
	}
	fmt.Fprintf(c.out, "\r%s", renderBar(ref.Name(), progress, width))
}

// renderBar draws "name [####----] 42%" in at most width columns.
func renderBar(name string, progress float64, width int) string {
	if width <= 0 {
		width = 80
	}
	suffix := fmt.Sprintf(" %3.0f%%", progress*100)
	barWidth := width - len(name) - len(suffix) - 3
	if barWidth < 10 {
		barWidth = 10
	}
	filled := int(progress * float64(barWidth))
	filled = max(0, min(filled, barWidth))
	return name + " [" + strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled) + "]" + suffix
}

func (c *cli) vacuum(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := c.db.Vacuum(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Manifest compacted")
	return nil
}
