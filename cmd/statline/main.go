// Package main is the entry point for the statline status bar host.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/statline/statline/internal/barlibs/i3"
	"github.com/statline/statline/internal/barlibs/stdout"
	"github.com/statline/statline/internal/config"
	"github.com/statline/statline/internal/logging"
	"github.com/statline/statline/internal/module"
	"github.com/statline/statline/internal/plugins/fifo"
	"github.com/statline/statline/internal/plugins/timer"
	"github.com/statline/statline/internal/runtime"
)

// Version information (set via ldflags during build).
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("statline", pflag.ContinueOnError)
	barlibName := flags.StringP("barlib", "b", "", "Barlib to load (name or path to a shared object)")
	barlibOpts := flags.StringArrayP("barlib-opt", "B", nil, "Option to pass to the barlib (repeatable)")
	logLevel := flags.StringP("loglevel", "l", "", "Log level (fatal, error, warning, info, verbose, debug, trace)")
	exitWhenDone := flags.BoolP("exit-when-done", "e", false, "Exit when all widgets and the event watcher have finished")
	showVersion := flags.BoolP("version", "v", false, "Show version information")
	configPath := flags.String("config", "", "Path to configuration file")

	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: statline [options] widget.lua [widget2.lua ...]\n\nOptions:\n")
		fmt.Fprint(os.Stderr, flags.FlagUsages())
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Printf("statline %s\n", version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "statline: %v\n", err)
		return 2
	}
	if *barlibName == "" {
		*barlibName = cfg.Barlib
	}
	if *barlibName == "" {
		fmt.Fprintln(os.Stderr, "statline: barlib not specified (-b)")
		flags.Usage()
		return 2
	}
	if *logLevel == "" {
		*logLevel = cfg.LogLevel
	}
	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "statline: %v\n", err)
		return 2
	}

	log := logging.New(os.Stderr, level)

	loader := module.NewLoader(
		module.WithProducer("timer", timer.New),
		module.WithProducer("fifo", fifo.New),
		module.WithBarlib("stdout", stdout.New),
		module.WithBarlib("i3", i3.New),
		module.WithPluginsDir(cfg.PluginsDir),
		module.WithBarlibsDir(cfg.BarlibsDir),
	)

	rt, err := runtime.New(runtime.Options{
		Log:         log,
		Loader:      loader,
		BarlibName:  *barlibName,
		BarlibOpts:  append(cfg.BarlibOpts, (*barlibOpts)...),
		ScriptFiles: flags.Args(),
		LuaDir:      cfg.LuaDir,
	})
	if err != nil {
		log.Fatalf("%v", err)
		return 1
	}

	rt.Run()

	if *exitWhenDone {
		rt.Shutdown()
		return 0
	}

	// The bar keeps showing the last output; there is nothing left to
	// drive, but exiting would tear it down.
	log.Infof("hanging forever")
	for {
		time.Sleep(time.Hour)
	}
}
