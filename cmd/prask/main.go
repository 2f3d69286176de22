// Command prask runs a compiled prask module as a program (spec.md §6
// "CLI surface"). Flag handling follows the teacher's cmd/io/main.go:
// plain flag.Parse over os.Args, no subcommands or third-party CLI
// framework.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/zephyrtronium/prask/internal/config"
	"github.com/zephyrtronium/prask/internal/runtime"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML configuration file (default: built-in defaults)")
		workers    = flag.Int("workers", 0, "scheduler worker-pool size (0 means runtime.GOMAXPROCS(0))")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: prask [-config PATH] [-workers N] <path-to-main.pck>")
		os.Exit(2)
	}
	mainPath := flag.Arg(0)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r := runtime.New(cfg)
	if err := r.RunMain(ctx, mainPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
