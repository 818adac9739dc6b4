package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"srprt/internal/job"
	"srprt/internal/metrics"
	"srprt/internal/sched"
	"srprt/internal/tracing"
)

func main() {
	app := &cli.App{
		Name:  "srpsim",
		Usage: "run the demo application on a simulated single-core interrupt controller",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yml",
				Usage:   "application description; a missing file means defaults",
			},
			&cli.Uint64Flag{
				Name:    "ticks",
				Aliases: []string{"n"},
				Value:   2000,
				Usage:   "simulated ticks to run, 0 runs until interrupted",
			},
			&cli.Uint64SliceFlag{
				Name:  "press",
				Usage: "press the button at these ticks",
			},
			&cli.StringFlag{
				Name:  "csv",
				Usage: "also write status events to this CSV file",
			},
			&cli.StringFlag{
				Name:  "trace",
				Usage: "write OpenTelemetry spans to this file, - for stdout",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve Prometheus metrics on this address, e.g. :9100",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "do not print status events",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "debug logging",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	// 1. Logging and configuration
	level := slog.LevelInfo
	if c.Bool("debug") {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := sched.Load(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	if len(cfg.Tasks) == 0 {
		cfg.Tasks, cfg.Resources = job.Tables()
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	log.Info("loaded config", "tick_ms", cfg.TickMS, "strategy", cfg.Strategy, "monotonic", cfg.Monotonic.Kind, "tasks", len(cfg.Tasks))

	// 2. Observers
	runID := uuid.New()
	var out io.Writer = os.Stdout
	if c.Bool("quiet") {
		out = nil
	}
	events := sched.NewEventLog(out)
	events.SetLogger(log)
	if path := c.String("csv"); path != "" {
		if err := events.EnableCSVLogging(path); err != nil {
			return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
		}
	}
	defer events.Close()
	observers := []sched.Observer{events}

	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg, metrics.Options{})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	observers = append(observers, collector)

	if c.IsSet("trace") {
		path := c.String("trace")
		if path == "-" {
			path = ""
		}
		tp, err := tracing.NewProvider("srpsim", runID, path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
		}
		defer tp.Shutdown(context.Background())
		observers = append(observers, tracing.NewObserver(tp.TracerProvider))
	}

	if addr := c.String("metrics-addr"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "addr", addr, "err", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info("serving metrics", "addr", addr)
	}

	// 3. Runtime
	presses := map[uint64]bool{}
	for _, at := range c.Uint64Slice("press") {
		presses[at] = true
	}
	rt := sched.New(cfg,
		sched.WithRunID(runID),
		sched.WithLogger(log),
		sched.WithObserver(observers...),
		sched.WithIdle(func(ctx *sched.Context) {
			if presses[ctx.Now()] {
				ctx.Runtime().Pend(ctx.Runtime().Task(job.TaskButton))
			}
		}),
	)
	demo := job.Install(rt, job.DefaultConfig(), log)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	clock := sched.NewTickClock()
	clock.Start(ctx, time.Duration(cfg.TickMS)*time.Millisecond)
	defer clock.Stop()

	rt.Start(demo.Init)
	if err := rt.Run(ctx, clock, c.Uint64("ticks")); err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	// 4. Summary
	led := demo.LED(rt.Locker())
	log.Info("led", "on", led.On, "toggles", led.Toggles, "presses", led.Presses, "dropped", led.Dropped)
	for _, r := range demo.Reports(rt.Locker()) {
		log.Info("report", "tick", r.At, "samples", r.Total, "mean", r.Mean)
	}
	for _, t := range rt.Tasks() {
		s := rt.Stats(t.ID)
		log.Info("task", "name", t.Name, "kind", t.Kind, "priority", t.Priority,
			"dispatched", events.Dispatched(t.ID), "free", s.Free, "scheduled", s.Scheduled)
	}
	return nil
}
