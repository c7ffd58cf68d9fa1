package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"strings"

	"github.com/msghub/msghub/engine"
	"github.com/msghub/msghub/internal/config"
	"github.com/msghub/msghub/internal/store"
)

// runQuery opens the data directory, runs a single query and prints the
// result as JSON to stdout.
func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	dataDir := fs.String("data-dir", "", "data directory (overrides config)")
	kind := fs.String("kind", "", "filter by kind (comma-separated)")
	state := fs.String("state", "", "filter by lifecycle state (comma-separated)")
	system := fs.String("system", "", "filter by origin system (comma-separated)")
	sortBy := fs.String("sort", "", "sort key, e.g. title or timing.createdAt:desc")
	page := fs.Int("page", 0, "page index (1-based, 0 for all)")
	size := fs.Int("size", 0, "page size (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := openOneShot(*configPath, *dataDir)
	if err != nil {
		return err
	}
	defer drain(e)

	req := store.QueryRequest{Where: store.Where{}}
	addFilter(req.Where, store.FieldKind, *kind)
	addFilter(req.Where, store.FieldState, *state)
	addFilter(req.Where, store.FieldSystem, *system)
	if *sortBy != "" {
		field, dir, _ := strings.Cut(*sortBy, ":")
		if dir == "" {
			dir = "asc"
		}
		req.Sort = []store.SortKey{{Field: field, Dir: dir}}
	}
	if *page > 0 || *size > 0 {
		req.Page = store.Page{Index: *page, Size: *size}
	}

	res, err := e.Store().Query(req)
	if err != nil {
		return err
	}
	return printJSON(res)
}

// addFilter splits a comma-separated flag value into an in-list filter.
func addFilter(where store.Where, field, raw string) {
	if raw == "" {
		return
	}
	var in []any
	for _, v := range strings.Split(raw, ",") {
		in = append(in, strings.TrimSpace(v))
	}
	where[field] = store.InFilter{In: in}
}

// openOneShot builds an engine without the admin endpoint, suitable for
// a single read-mostly command.
func openOneShot(configPath, dataDir string) (*engine.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.Admin.Addr = ""
	return engine.New(cfg)
}

// drain runs the engine's shutdown path so pending writes reach disk.
func drain(e *engine.Engine) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = e.Serve(ctx)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
