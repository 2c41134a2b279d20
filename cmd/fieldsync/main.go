package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/fieldsync/fieldsync/internal/app"
	"github.com/fieldsync/fieldsync/internal/commands"
)

// Version information - populated at build time
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cliApp := &cli.App{
		Name:  "fieldsync",
		Usage: "Offline-first sync for construction site data",
		Description: "FieldSync keeps site records (cable schedules, budgets, drawings, diaries, messages)\n" +
			"usable without connectivity. Writes land locally first and sync to the server when a\n" +
			"connection is available; conflicting edits are surfaced for explicit resolution.",
		Version: Version,
		Compiled: func() time.Time {
			t, err := time.Parse(time.RFC3339, BuildTime)
			if err != nil {
				return time.Now()
			}
			return t
		}(),
		Before: func(c *cli.Context) error {
			application, err := app.New()
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			c.App.Metadata = map[string]interface{}{
				"app": application,
			}

			return nil
		},
		After: func(c *cli.Context) error {
			if application, ok := c.App.Metadata["app"].(*app.App); ok {
				return application.Shutdown()
			}
			return nil
		},
		Commands: []*cli.Command{
			commands.RecordsCommand(),
			commands.SyncCommand(),
			commands.QueueCommand(),
			commands.ConflictsCommand(),
			commands.StatusCommand(),
			commands.WatchCommand(),
			commands.MigrateCommand(),
		},
		Action: func(c *cli.Context) error {
			// Default action shows the status overview
			return commands.StatusCommand().Action(c)
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
