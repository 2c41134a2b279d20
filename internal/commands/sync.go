package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/fieldsync/fieldsync/internal/app"
	"github.com/fieldsync/fieldsync/internal/queue"
	"github.com/fieldsync/fieldsync/internal/sync"
	"github.com/fieldsync/fieldsync/internal/utils"
)

// SyncCommand returns the CLI command for syncing local data to the server
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:        "sync",
		Usage:       "Sync queued local changes to the server",
		Description: "Drains the pending mutation queue against the remote authority, oldest first",
		Subcommands: []*cli.Command{
			{
				Name:        "status",
				Usage:       "Show sync status",
				Description: "Display connectivity, queue depth, and the outcome of the last sync pass",
				Action:      syncStatusAction,
			},
			{
				Name:  "logs",
				Usage: "Show recent sync history",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of log entries to show",
						Value: 20,
					},
				},
				Action: syncLogsAction,
			},
			{
				Name:        "retry",
				Usage:       "Reset retry counters and sync again",
				Description: "Gives failed queue items a fresh retry budget before draining",
				Action:      syncRetryAction,
			},
		},
		Action: syncAction,
	}
}

// syncAction runs one manual drain pass
func syncAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	application.Monitor.Refresh(c.Context)

	result, err := application.Engine.Sync(c.Context, sync.TypeManual)
	if err != nil {
		if errors.Is(err, sync.ErrOffline) {
			utils.PrintWarning("Offline: changes stay queued and will sync on reconnect")
			return nil
		}
		if errors.Is(err, queue.ErrDrainInProgress) {
			utils.PrintInfo("A sync pass is already running")
			return nil
		}
		utils.PrintError(fmt.Sprintf("Sync failed: %s", err))
		return err
	}

	printDrainResult(result)
	return nil
}

func syncRetryAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	application.Monitor.Refresh(c.Context)

	result, err := application.Engine.RetryAll(c.Context)
	if err != nil {
		if errors.Is(err, sync.ErrOffline) {
			utils.PrintWarning("Offline: retry budgets reset, sync deferred")
			return nil
		}
		return err
	}

	printDrainResult(result)
	return nil
}

func syncStatusAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	application.Monitor.Refresh(c.Context)

	status, err := application.Engine.Status(c.Context)
	if err != nil {
		return err
	}

	utils.PrintHeading("Sync Status")
	utils.PrintKeyValue("Connection", utils.OnlineBadge(status.Connection.Connected))
	if status.Connection.Connected {
		utils.PrintKeyValue("Link", string(status.Connection.Type))
	}
	utils.PrintKeyValue("Queued mutations", fmt.Sprintf("%d", status.QueueDepth))
	utils.PrintKeyValue("Pending conflicts", fmt.Sprintf("%d", status.PendingConflicts))

	if status.DrainInFlight {
		utils.PrintInfo("A sync pass is running right now")
	}

	if len(status.QueueByStore) > 0 {
		t := utils.NewTable("Queue by store", "Store", "Pending")
		for _, name := range application.Registry.StoreNames() {
			if count := status.QueueByStore[name]; count > 0 {
				t.AppendRow([]any{name, count})
			}
		}
		t.Render()
	}

	if status.LastSync != nil {
		utils.PrintKeyValue("Last sync", fmt.Sprintf("%s (%s, %s, %d item(s))",
			utils.FormatTime(status.LastSync.CompletedAt),
			status.LastSync.SyncType,
			utils.OutcomeBadge(status.LastSync.Success),
			status.LastSync.ItemsSynced,
		))
	}

	return nil
}

func syncLogsAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	logs, err := application.SyncLogs.List(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}

	if len(logs) == 0 {
		utils.PrintInfo("No sync history yet")
		return nil
	}

	t := utils.NewTable("Sync history", "When", "Type", "Store", "Outcome", "Items", "Error")
	for _, log := range logs {
		t.AppendRow([]any{
			utils.FormatTime(log.CompletedAt),
			log.SyncType,
			log.StoreName,
			utils.OutcomeBadge(log.Success),
			log.ItemsSynced,
			log.ErrorMessage,
		})
	}
	t.Render()
	return nil
}

func printDrainResult(result *queue.DrainResult) {
	if result.Processed == 0 {
		utils.PrintSuccess("Nothing to sync")
		return
	}

	utils.PrintSuccess(fmt.Sprintf("Synced %d of %d item(s) in %s",
		result.Synced, result.Processed, result.Duration.Round(time.Millisecond)))

	if result.Conflicts > 0 {
		utils.PrintWarning(fmt.Sprintf("%d conflict(s) need resolution; run 'fieldsync conflicts list'", result.Conflicts))
	}
	if result.Failed > 0 {
		utils.PrintWarning(fmt.Sprintf("%d item(s) failed and will be retried", result.Failed))
		for _, failure := range result.Failures {
			if failure.Permanent {
				utils.PrintError(fmt.Sprintf("Dropped %s/%s after repeated failures: %s",
					failure.StoreName, failure.RecordID, failure.Message))
			}
		}
	}
}
