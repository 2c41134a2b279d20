package commands

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/fieldsync/fieldsync/internal/app"
	"github.com/fieldsync/fieldsync/internal/utils"
)

// QueueCommand returns the CLI command for inspecting the sync queue
func QueueCommand() *cli.Command {
	return &cli.Command{
		Name:        "queue",
		Usage:       "Inspect the pending mutation queue",
		Description: "Shows queued offline changes waiting for the next sync pass",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List queued mutations in replay order",
				Action: queueListAction,
			},
			{
				Name:   "retry",
				Usage:  "Reset retry budgets and sync again",
				Action: syncRetryAction,
			},
		},
		Action: queueListAction,
	}
}

func queueListAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	muts, err := application.Engine.Queue(c.Context)
	if err != nil {
		return err
	}

	if len(muts) == 0 {
		utils.PrintSuccess("Queue is empty")
		return nil
	}

	t := utils.NewTable(fmt.Sprintf("%d queued mutation(s)", len(muts)),
		"ID", "Store", "Record", "Action", "Retries", "Enqueued", "Last error")
	for _, mut := range muts {
		t.AppendRow([]any{
			mut.ID,
			mut.StoreName,
			mut.RecordID,
			mut.Action,
			mut.RetryCount,
			utils.FormatTime(mut.EnqueuedAt),
			mut.LastError,
		})
	}
	t.Render()
	return nil
}
