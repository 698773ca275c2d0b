// Package main provides a small CLI for inspecting and exercising the
// state engine against a file-backed checkpoint store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	repofile "github.com/kkkqkx123/open-agent-sub006/internal/adapters/repository/file"
	"github.com/kkkqkx123/open-agent-sub006/pkg/stateengine"
)

// Version information set during build
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("stateengine", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "checkpoint store directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		usage()
		return nil
	}

	if rest[0] == "version" {
		fmt.Printf("stateengine %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
		return nil
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store, err := repofile.NewStore(repofile.Config{Root: *dataDir, Logger: logger})
	if err != nil {
		return err
	}
	engine, err := stateengine.New(stateengine.Config{Store: store, Logger: logger})
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := context.Background()
	switch rest[0] {
	case "create":
		if len(rest) < 2 {
			return fmt.Errorf("usage: create <graph-id> [values-json]")
		}
		values, err := parseValues(rest, 2)
		if err != nil {
			return err
		}
		t, err := engine.CreateThread(ctx, rest[1], values, nil)
		if err != nil {
			return err
		}
		return printJSON(t)
	case "update":
		if len(rest) < 3 {
			return fmt.Errorf("usage: update <thread-id> <values-json>")
		}
		values, err := parseValues(rest, 2)
		if err != nil {
			return err
		}
		id, err := engine.UpdateState(ctx, rest[1], values, "")
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	case "history":
		if len(rest) < 2 {
			return fmt.Errorf("usage: history <thread-id>")
		}
		history, err := engine.GetHistory(ctx, rest[1], 0)
		if err != nil {
			return err
		}
		return printJSON(history)
	case "latest":
		if len(rest) < 2 {
			return fmt.Errorf("usage: latest <thread-id>")
		}
		cp, err := engine.LatestCheckpoint(ctx, rest[1])
		if err != nil {
			return err
		}
		return printJSON(cp)
	default:
		usage()
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func parseValues(args []string, idx int) (map[string]interface{}, error) {
	values := map[string]interface{}{}
	if len(args) > idx {
		if err := json.Unmarshal([]byte(args[idx]), &values); err != nil {
			return nil, fmt.Errorf("parse values: %w", err)
		}
	}
	return values, nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func usage() {
	fmt.Println(`stateengine - versioned checkpoint/thread state engine

Commands:
  create <graph-id> [values-json]   create a thread with a root checkpoint
  update <thread-id> <values-json>  append a checkpoint
  history <thread-id>               list a thread's checkpoints
  latest <thread-id>                show the latest checkpoint
  version                           print version information

Flags:
  -data <dir>  checkpoint store directory (default ./data)

Note: thread metadata is in-memory per invocation; create and update in
one process (see examples/basic-demo) for full lifecycle operations.`)
}
