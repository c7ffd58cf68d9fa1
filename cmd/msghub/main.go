package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/msghub/msghub/internal/logging"
)

var version = "dev"

func main() {
	logging.Setup()

	if len(os.Args) < 2 {
		// No subcommand: serve (default).
		if err := runServe(os.Args[1:]); err != nil {
			slog.Error("fatal", "error", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			slog.Error("fatal", "error", err)
			os.Exit(1)
		}
	case "query":
		if err := runQuery(os.Args[2:]); err != nil {
			slog.Error("fatal", "error", err)
			os.Exit(1)
		}
	case "stats":
		if err := runStats(os.Args[2:]); err != nil {
			slog.Error("fatal", "error", err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		// If the first arg starts with '-', treat as serve flags.
		if len(os.Args[1]) > 0 && os.Args[1][0] == '-' {
			if err := runServe(os.Args[1:]); err != nil {
				slog.Error("fatal", "error", err)
				os.Exit(1)
			}
			return
		}
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "usage: msghub [serve|query|stats|version] [flags]\n")
		os.Exit(1)
	}
}
