package commands

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/fieldsync/fieldsync/internal/app"
	"github.com/fieldsync/fieldsync/internal/quota"
	"github.com/fieldsync/fieldsync/internal/utils"
)

// StatusCommand returns the CLI command for the overall device status
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:        "status",
		Usage:       "Show connectivity, queue, conflict, and storage status",
		Description: "The at-a-glance view: what is queued, what conflicts, and how full local storage is",
		Action:      statusAction,
	}
}

func statusAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	application.Monitor.Refresh(c.Context)

	status, err := application.Engine.Status(c.Context)
	if err != nil {
		return err
	}

	info, err := application.Quota.Estimate(c.Context)
	if err != nil {
		return err
	}

	utils.PrintHeading("FieldSync Status")
	utils.PrintKeyValue("Device", application.Config.Server.DeviceName)
	utils.PrintKeyValue("Connection", utils.OnlineBadge(status.Connection.Connected))
	utils.PrintKeyValue("Queued mutations", fmt.Sprintf("%d", status.QueueDepth))
	utils.PrintKeyValue("Pending conflicts", fmt.Sprintf("%d", status.PendingConflicts))
	if status.LastSync != nil {
		utils.PrintKeyValue("Last sync", fmt.Sprintf("%s (%s)",
			utils.FormatTime(status.LastSync.CompletedAt), utils.OutcomeBadge(status.LastSync.Success)))
	}

	utils.PrintKeyValue("Storage", fmt.Sprintf("%s of %s (%.1f%%, %s)",
		utils.FormatBytes(info.UsageBytes),
		utils.FormatBytes(info.BudgetBytes),
		info.Percentage,
		info.Level,
	))

	switch info.Level {
	case quota.LevelWarning:
		utils.PrintWarning("Local storage is filling up; sync and clear old data when possible")
	case quota.LevelCritical:
		utils.PrintWarning("Local storage is nearly full; new offline changes may soon be refused")
	case quota.LevelDanger:
		utils.PrintError("Local storage is full; new offline changes are refused until space is freed")
	}

	if len(info.Breakdown) > 0 {
		t := utils.NewTable("Storage by store", "Store", "Usage")
		for _, name := range application.Registry.StoreNames() {
			if bytes := info.Breakdown[name]; bytes > 0 {
				t.AppendRow([]any{name, utils.FormatBytes(bytes)})
			}
		}
		t.Render()
	}

	return nil
}
