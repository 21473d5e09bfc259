package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/stashd-io/stashd/internal/datastore"
	"github.com/stashd-io/stashd/internal/gc"
	"github.com/stashd-io/stashd/internal/logging"
)

func runGC(args []string) {
	fs := flag.NewFlagSet("gc", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	storeName := fs.String("store", "", "Datastore to collect (required)")
	removeDespiteDamage := fs.Bool("remove-despite-damage", false,
		"Delete unreferenced chunks even when snapshot manifests failed to decode")

	fs.Usage = func() {
		fmt.Println(`Usage: stashd gc [options]

Run one garbage collection pass over a datastore's chunk store and print
the resulting status as JSON.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *storeName == "" {
		fmt.Fprintln(os.Stderr, "gc: -store is required")
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := loadServeConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

	dsCfg, ok := cfg.Datastore(*storeName)
	if !ok {
		fmt.Fprintf(os.Stderr, "gc: unknown datastore %q\n", *storeName)
		os.Exit(1)
	}
	store, err := datastore.Open(dsCfg.Name, dsCfg.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gc: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := gc.NewRunner(store, logger)
	st, err := runner.Run(ctx, gc.Options{
		RemoveDespiteDamage: *removeDespiteDamage || dsCfg.GCRemoveDespiteDamage,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "gc: %v\n", err)
		os.Exit(1)
	}

	printJSON(st)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		os.Exit(1)
	}
}
