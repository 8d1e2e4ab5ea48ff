// Command fleetd boots one local fleet of emulated services behind a
// single management port, per spec.md §4.7. Flag parsing and process
// wiring only; every actual behavior lives in the orchestrator and the
// service packages it composes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/cloudfleet/emulator/cmn"
	"github.com/cloudfleet/emulator/orchestrator"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a fleet config YAML file")
	overrides := flag.String("override", "", "comma-separated key=value config overrides")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fleetd: building logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	cfg, err := cmn.Load(*configPath, *overrides)
	if err != nil {
		log.Error("loading config", zap.Error(err))
		return 1
	}

	o, err := orchestrator.New(cfg, log)
	if err != nil {
		log.Error("constructing orchestrator", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := o.Start(ctx); err != nil {
		log.Error("starting fleet", zap.Error(err))
		return 1
	}
	log.Info("fleet started", zap.Int("fleet_port", cfg.FleetPort))

	<-ctx.Done()
	log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.GraceWindow+cmn.DefaultGraceWindow)
	defer cancel()
	if err := o.Stop(stopCtx); err != nil {
		log.Error("stopping fleet", zap.Error(err))
		return 1
	}
	return 0
}
