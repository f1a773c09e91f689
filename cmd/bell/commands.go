package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"schoolbell/internal/app"
	"schoolbell/internal/bell"
	"schoolbell/internal/config"
	"schoolbell/internal/notify"
	"schoolbell/internal/playback"
)

const stopTimeout = 10 * time.Second

const scheduleHelp = "Upcoming rings are computed on the controller clock: host time plus the\n" +
	"   network correction saved in storage. Without storage they use host time."

var configFlag = cli.StringFlag{
	Name:   "config, c",
	Usage:  "path to the config file (json or yaml)",
	EnvVar: "BELL_CONFIG",
	Value:  "./config.json",
}

func newCLI() *cli.App {
	a := cli.NewApp()
	a.Name = "bell"
	a.HelpName = "bell"
	a.Usage = "time-triggered school bell controller"
	a.UsageText = "bell [--config path] <command>"
	a.Flags = []cli.Flag{configFlag}
	a.Action = run
	a.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "ring the schedule and serve the control surface",
			Action: run,
		},
		{
			Name:        "schedule",
			Usage:       "print the bell table and the next rings",
			Description: scheduleHelp,
			Action:      schedule,
			Flags: []cli.Flag{
				cli.IntFlag{Name: "next, n", Usage: "number of upcoming rings to list", Value: 5},
			},
		},
		{
			Name:   "check-config",
			Usage:  "validate the config file and exit",
			Action: checkConfig,
		},
	}
	return a
}

func configPath(c *cli.Context) string {
	if p := c.GlobalString("config"); p != "" {
		return p
	}
	return c.String("config")
}

func run(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(config.NewConfigManager(configPath(c)))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}

	stopCtx, stop := context.WithTimeout(context.Background(), stopTimeout)
	defer stop()
	_ = a.Stop(stopCtx)
	return a.Err()
}

func parseConfig(c *cli.Context) (*config.Config, error) {
	return config.NewConfigManager(configPath(c)).Parse()
}

func schedule(c *cli.Context) error {
	cfg, err := parseConfig(c)
	if err != nil {
		return err
	}
	table, err := bell.NewTable(cfg.Schedule)
	if err != nil {
		return err
	}
	now, err := app.ControllerTime(cfg, nil)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintln(w, notify.ScheduleText(table.Events()))
	rings := table.Upcoming(now, c.Int("next"))
	if len(rings) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Next rings:")
	for _, r := range rings {
		fmt.Fprintf(w, "  %s  track=%d %s\n", r.At.Format("Mon 2006-01-02 15:04"), r.Event.Track, r.Event.Label)
	}
	return nil
}

func checkConfig(c *cli.Context) error {
	cfg, err := parseConfig(c)
	if err != nil {
		return err
	}
	storage := "none"
	if cfg.Storage != nil && cfg.Storage.Driver != "" {
		storage = cfg.Storage.Driver
	}
	fmt.Fprintf(c.App.Writer, "config OK: %d bells, playback=%s, storage=%s, http=%s\n",
		len(cfg.Schedule), playback.NormalizeDriver(cfg.Playback.Driver), storage, cfg.HTTP.Addr)
	return nil
}
