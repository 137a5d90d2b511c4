package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"basewall.xyz/wallsign/internal/config"
)

// Version will be set during build time
var Version string

func mainAction(_ *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	d, err := newDaemon(cfg)
	if err != nil {
		return err
	}

	log.Infof("wallsign config: %s", cfg)

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, os.Interrupt)
	defer cancel()

	log.Debug("starting service...")
	if err := d.Start(ctx); err != nil {
		d.Stop()
		return err
	}

	<-ctx.Done()

	log.Debug("shutting down service...")
	d.Stop()
	return nil
}

// syncAction runs a single sync pass against the chain and exits.
func syncAction(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := newDaemon(cfg)
	if err != nil {
		return err
	}
	defer d.Stop()

	report, err := d.svc.Sync(c.Context)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"from":    report.From,
		"to":      report.To,
		"batches": report.Batches,
		"events":  report.Events,
	}).Info("sync done")
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %s", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %s", err)
	}
	log.SetLevel(log.Level(cfg.LogLevel))
	return cfg, nil
}

var syncCmd = &cli.Command{
	Name:   "sync",
	Usage:  "Pull new Signed events into the event log once and exit",
	Action: syncAction,
}

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "wallsignd"
	app.Usage = "index, render and serve signature walls"
	app.UsageText = "Run the wall server with:\n\twallsignd\nRun a single sync with:\n\twallsignd sync"
	app.Commands = append(app.Commands, syncCmd)
	app.Action = mainAction

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
