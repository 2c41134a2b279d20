package commands

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/fieldsync/fieldsync/internal/app"
	"github.com/fieldsync/fieldsync/internal/conflict"
	"github.com/fieldsync/fieldsync/internal/utils"
)

// ConflictsCommand returns the CLI command for listing and resolving conflicts
func ConflictsCommand() *cli.Command {
	return &cli.Command{
		Name:        "conflicts",
		Usage:       "List and resolve sync conflicts",
		Description: "A conflict blocks its queued change until resolved with use-local, use-server, or merge",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List unresolved conflicts",
				Action: conflictsListAction,
			},
			{
				Name:      "show",
				Usage:     "Show a conflict's field differences",
				ArgsUsage: "<conflict-id>",
				Action:    conflictShowAction,
			},
			{
				Name:      "resolve",
				Usage:     "Resolve a conflict",
				ArgsUsage: "<conflict-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "strategy",
						Aliases:  []string{"s"},
						Usage:    "Resolution strategy: use_local, use_server, or merge",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:    "field",
						Aliases: []string{"f"},
						Usage:   "Field to take from the local version (repeatable, merge only)",
					},
				},
				Action: conflictResolveAction,
			},
		},
		Action: conflictsListAction,
	}
}

func conflictsListAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	conflicts := application.Engine.Conflicts()
	if len(conflicts) == 0 {
		utils.PrintSuccess("No unresolved conflicts")
		return nil
	}

	t := utils.NewTable(fmt.Sprintf("%d unresolved conflict(s)", len(conflicts)),
		"ID", "Store", "Record", "Fields", "Detected")
	for _, rec := range conflicts {
		t.AppendRow([]any{
			rec.ID,
			rec.StoreName,
			rec.RecordID,
			len(rec.FieldDiffs),
			utils.FormatTime(rec.DetectedAt),
		})
	}
	t.Render()

	utils.PrintInfo("Resolve with 'fieldsync conflicts resolve <id> --strategy use_local|use_server|merge'")
	return nil
}

func conflictShowAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("conflict id is required")
	}

	rec, ok := application.Engine.Conflict(id)
	if !ok {
		utils.PrintError(fmt.Sprintf("No unresolved conflict %s", id))
		return fmt.Errorf("conflict %s not found", id)
	}

	utils.PrintHeading(fmt.Sprintf("Conflict %s", rec.ID))
	utils.PrintKeyValue("Store", rec.StoreName)
	utils.PrintKeyValue("Record", rec.RecordID)
	utils.PrintKeyValue("Detected", utils.FormatTime(rec.DetectedAt))

	t := utils.NewTable("Field differences", "Field", "Local", "Server")
	for _, diff := range rec.FieldDiffs {
		t.AppendRow([]any{diff.Field, renderValue(diff.LocalValue), renderValue(diff.ServerValue)})
	}
	t.Render()
	return nil
}

func conflictResolveAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("conflict id is required")
	}

	strategy := conflict.Strategy(c.String("strategy"))
	fields := c.StringSlice("field")

	if strategy == conflict.Merge && len(fields) == 0 {
		return fmt.Errorf("merge requires at least one --field to take from the local version")
	}

	resolved, err := application.Engine.ResolveConflict(c.Context, id, conflict.Resolution{
		Strategy: strategy,
		Fields:   fields,
	})
	if err != nil {
		utils.PrintError(fmt.Sprintf("Resolution failed: %s", err))
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Resolved %s with %s", id, resolved.Strategy))
	if resolved.PushRemote {
		utils.PrintInfo("Result pushed to the server")
	} else {
		utils.PrintInfo("Server version pulled into the local store")
	}
	return nil
}

func renderValue(v any) string {
	if v == nil {
		return "(absent)"
	}
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}
