package main

import (
	"flag"

	"github.com/msghub/msghub/internal/stats"
)

// runStats opens the data directory and prints a single stats snapshot
// as JSON to stdout.
func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	dataDir := fs.String("data-dir", "", "data directory (overrides config)")
	archiveSize := fs.Bool("archive-size", false, "include archive size on disk (slow on large archives)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := openOneShot(*configPath, *dataDir)
	if err != nil {
		return err
	}
	defer drain(e)

	snap := e.Collect(stats.CollectOptions{IncludeArchiveSize: *archiveSize})
	return printJSON(snap)
}
