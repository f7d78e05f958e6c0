// Command sdfit fits the hyperbolic social discounting curve to a long-format
// CSV of responses, first per subject and then as a population, and
// simulates cohorts from a known population.
//
// Usage:
//
//	sdfit fit -data responses.csv [-config run.yaml] [flags]
//	sdfit simulate -subjects 100 [-out cohort.csv] [flags]
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sdfit <fit|simulate> [flags]")
	fmt.Fprintln(os.Stderr, "run 'sdfit <command> -h' for the flags of a command")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "fit":
		err = runFit(ctx, os.Args[2:])
	case "simulate":
		err = runSimulate(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "sdfit: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "sdfit:", err)
		os.Exit(1)
	}
}

// logpath is the run folder under root: a date folder, then the time of the
// run followed by the note.
func logpath(root, note string, now time.Time) string {
	stamp := now.Format("15:04:05")
	if note != "" {
		stamp += ": " + note
	}
	return filepath.Join(root, now.Format("2006-Jan-02"), stamp)
}

// writeLog writes the run description lines to dir/log.txt.
func writeLog(dir string, lines []string) error {
	f, err := os.Create(filepath.Join(dir, "log.txt"))
	if err != nil {
		return fmt.Errorf("failed to create log: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// create opens dir/name for writing, handing it to write and closing it.
func create(dir, name string, write func(f *os.File) error) error {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return f.Close()
}

func commandLine() string {
	return strings.Join(os.Args, " ")
}
