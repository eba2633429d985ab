//go:build !tinygo

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"spindle/app"
	"spindle/hal"
	"spindle/klog"
)

func main() {
	var cfg hal.HeadlessConfig
	var appCfg app.Config
	var level string
	flag.BoolVar(&cfg.Enabled, "headless", false, "Run without a window.")
	flag.IntVar(&cfg.Hz, "hz", 60, "Tick rate in headless mode.")
	flag.Uint64Var(&cfg.Ticks, "ticks", 0, "Stop after N ticks in headless mode (0 = run forever).")
	flag.BoolVar(&cfg.TTY, "tty", false, "Read keys from the terminal in headless mode (Esc quits).")
	flag.StringVar(&level, "log", envOr("SPINDLE_LOG", "info"), "Log level: error, warn, info, debug.")
	flag.Uint64Var(&appCfg.ProduceEvery, "produce", 0, "Producer period in ticks (0 = default).")
	flag.Parse()

	lv, err := klog.ParseLevel(level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	appCfg.LogLevel = lv

	newApp := func(h hal.HAL) func() error {
		return app.NewWithConfig(h, appCfg)
	}

	if cfg.Enabled {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		exit(hal.RunHeadless(ctx, newApp, cfg))
		return
	}
	exit(hal.RunWindow(newApp))
}

func exit(err error) {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, app.ErrQuit) {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
