package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/fieldsync/fieldsync/internal/app"
	"github.com/fieldsync/fieldsync/internal/utils"
)

// WatchCommand returns the CLI command that keeps syncing in the foreground
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:        "watch",
		Usage:       "Keep syncing until interrupted",
		Description: "Runs the automatic triggers: periodic sync while online, immediate sync on reconnect, and SIGUSR1 as the background-sync hook",
		Action:      watchAction,
	}
}

func watchAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	// SIGUSR1 stands in for an OS background execution slot: a cron entry or
	// supervisor can poke the process to sync without restarting it.
	background := make(chan os.Signal, 1)
	signal.Notify(background, syscall.SIGUSR1)
	defer signal.Stop(background)

	go func() {
		for range background {
			application.Engine.TriggerBackground()
		}
	}()

	utils.PrintInfo("Watching for changes; press Ctrl-C to stop")

	go application.Engine.Run(ctx)

	<-interrupt
	utils.PrintInfo("Stopping")
	cancel()
	return nil
}
