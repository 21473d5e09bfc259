package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/stashd-io/stashd/internal/datastore"
	"github.com/stashd-io/stashd/internal/logging"
	"github.com/stashd-io/stashd/internal/prune"
)

func runPrune(args []string) {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	storeName := fs.String("store", "", "Datastore to prune (required)")
	dryRun := fs.Bool("dry-run", false, "Compute and log verdicts without removing anything")
	keepLast := fs.Uint64("keep-last", 0, "Override keep-last")
	keepHourly := fs.Uint64("keep-hourly", 0, "Override keep-hourly")
	keepDaily := fs.Uint64("keep-daily", 0, "Override keep-daily")
	keepWeekly := fs.Uint64("keep-weekly", 0, "Override keep-weekly")
	keepMonthly := fs.Uint64("keep-monthly", 0, "Override keep-monthly")
	keepYearly := fs.Uint64("keep-yearly", 0, "Override keep-yearly")

	fs.Usage = func() {
		fmt.Println(`Usage: stashd prune [options]

Apply the retention policy to every backup group of a datastore and remove
the snapshots no rule keeps. Keep counts given on the command line replace
the datastore's configured policy entirely.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *storeName == "" {
		fmt.Fprintln(os.Stderr, "prune: -store is required")
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
		fmt.Fprintf(os.Stderr, "prune: unknown datastore %q\n", *storeName)
		os.Exit(1)
	}

	opts := keepFlags(*keepLast, *keepHourly, *keepDaily, *keepWeekly, *keepMonthly, *keepYearly)
	if opts.IsEmpty() {
		opts = dsCfg.Keep
	}

	store, err := datastore.Open(dsCfg.Name, dsCfg.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prune: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := prune.Execute(ctx, logger, store, opts, prune.ExecuteOptions{DryRun: *dryRun})
	if err != nil {
		fmt.Fprintf(os.Stderr, "prune: %v\n", err)
		os.Exit(1)
	}

	printJSON(result)
}

// keepFlags builds a policy from command line values; zero means unset.
func keepFlags(last, hourly, daily, weekly, monthly, yearly uint64) prune.Options {
	var opts prune.Options
	set := func(v uint64) *uint64 {
		if v == 0 {
			return nil
		}
		return &v
	}
	opts.KeepLast = set(last)
	opts.KeepHourly = set(hourly)
	opts.KeepDaily = set(daily)
	opts.KeepWeekly = set(weekly)
	opts.KeepMonthly = set(monthly)
	opts.KeepYearly = set(yearly)
	return opts
}
