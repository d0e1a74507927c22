package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/mapstyle-bridge/bridge"
	"github.com/wippyai/mapstyle-bridge/host"
	"github.com/wippyai/mapstyle-bridge/style"
)

func main() {
	var (
		stylePath   = flag.String("style", "", "Path to style document (YAML)")
		attachIDs   = flag.String("attach", "", "Pending sources to attach (comma-separated)")
		detachIDs   = flag.String("detach", "", "Sources to detach after attaching (comma-separated)")
		destroyIDs  = flag.String("destroy", "", "Sources to destroy inside the style (comma-separated)")
		list        = flag.Bool("list", false, "List sources and exit")
		events      = flag.Bool("events", false, "Print style and handle table events")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Log ownership transitions to stderr")
	)
	flag.Parse()

	if *stylePath == "" {
		fmt.Fprintln(os.Stderr, "Usage: stylectl -style <doc.yaml> [-attach id,...] [-detach id,...] [-destroy id,...] [-events]")
		fmt.Fprintln(os.Stderr, "       stylectl -style <doc.yaml> -list")
		fmt.Fprintln(os.Stderr, "       stylectl -style <doc.yaml> -i  (interactive mode)")
		os.Exit(1)
	}

	if *verbose {
		if err := setupLogging(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode requires a terminal")
			os.Exit(1)
		}
		if err := runInteractive(*stylePath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	steps := plan{
		attach:  splitIDs(*attachIDs),
		detach:  splitIDs(*detachIDs),
		destroy: splitIDs(*destroyIDs),
		events:  *events,
	}
	if err := run(os.Stdout, *stylePath, steps, *list); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging() error {
	l, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	host.SetLogger(l.Named("host"))
	style.SetLogger(l.Named("style"))
	bridge.SetLogger(l.Named("bridge"))
	return nil
}

type plan struct {
	attach  []string
	detach  []string
	destroy []string
	events  bool
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func run(w io.Writer, stylePath string, steps plan, listOnly bool) error {
	doc, err := loadDocument(stylePath)
	if err != nil {
		return err
	}

	s, err := openSession(doc)
	if err != nil {
		return err
	}
	defer s.close()

	fmt.Fprintf(w, "Style: %s (%s)\n", doc.Name, stylePath)
	fmt.Fprintf(w, "Sources in style: %d\n", s.st.Len())
	fmt.Fprintf(w, "Pending sources: %d\n", len(doc.Pending))

	if !listOnly {
		for _, id := range steps.attach {
			if err := s.attach(id); err != nil {
				return fmt.Errorf("attach %s: %w", id, err)
			}
			fmt.Fprintf(w, "attached %s\n", id)
		}
		for _, id := range steps.detach {
			if err := s.detach(id); err != nil {
				return fmt.Errorf("detach %s: %w", id, err)
			}
			fmt.Fprintf(w, "detached %s\n", id)
		}
		for _, id := range steps.destroy {
			if err := s.destroy(id); err != nil {
				return fmt.Errorf("destroy %s: %w", id, err)
			}
			fmt.Fprintf(w, "destroyed %s\n", id)
		}
	}

	fmt.Fprintf(w, "\nPeers:\n")
	for _, r := range s.rows() {
		fmt.Fprintf(w, "  %-12s %-10s %-9s handle=%-3d %s\n", r.id, r.kind, r.state, r.handle, describe(r))
	}
	fmt.Fprintf(w, "Live handles: %s\n", strings.Join(s.handles(), " "))

	if steps.events {
		fmt.Fprintf(w, "\nEvents:\n")
		for _, line := range s.events.recent(eventLogSize) {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	return nil
}

func describe(r row) string {
	var parts []string
	if r.borrowed {
		parts = append(parts, "borrowed")
	}
	if r.attribution != "" {
		parts = append(parts, fmt.Sprintf("attribution=%q", r.attribution))
	}
	return strings.Join(parts, " ")
}
