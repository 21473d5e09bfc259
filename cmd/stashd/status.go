package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/stashd-io/stashd/internal/datastore"
	"github.com/stashd-io/stashd/internal/gc"
)

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	storeName := fs.String("store", "", "Datastore to inspect (required)")

	fs.Usage = func() {
		fmt.Println(`Usage: stashd status [options]

Print the last garbage collection status of a datastore as JSON.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *storeName == "" {
		fmt.Fprintln(os.Stderr, "status: -store is required")
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := loadServeConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	dsCfg, ok := cfg.Datastore(*storeName)
	if !ok {
		fmt.Fprintf(os.Stderr, "status: unknown datastore %q\n", *storeName)
		os.Exit(1)
	}
	store, err := datastore.Open(dsCfg.Name, dsCfg.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}

	st, err := gc.ReadStatus(store.GCStatusPath())
	if os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "status: no garbage collection has completed on %q yet\n", *storeName)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}

	printJSON(st)
}
