package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"marginalia/api/internal/mirror"
	"marginalia/api/internal/outline"
)

func newGetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Fetch the workspace of the selected concept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			concept, err := app.concept()
			if err != nil {
				return err
			}
			ws, err := app.remote().GetWorkspace(cmd.Context(), concept)
			if err != nil {
				return err
			}
			return app.printWorkspace(ws)
		},
	}
}

func newOpCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "op <name> [payload]",
		Short: "Send one patch operation to the server",
		Long: `Send one patch operation to the server. The operation is first predicted
locally against the server's current workspace, so an operation the server
would refuse is reported without a round trip.`,
		Example: `
outlinectl op addGroup '{"title":"Counter arguments"}' --concept c-42
outlinectl op deleteItem '{"itemId":"itm_9"}'
`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			concept, err := app.concept()
			if err != nil {
				return err
			}
			payload := "{}"
			if len(args) == 2 {
				payload = args[1]
			}
			op, err := outline.ParseOperation(args[0], json.RawMessage(payload))
			if err != nil {
				return err
			}

			session := mirror.NewSession(concept, app.remote(), nil)
			if _, err := session.Refresh(cmd.Context()); err != nil {
				return err
			}
			ws, err := session.Do(cmd.Context(), op)
			if err != nil {
				return err
			}
			return app.printWorkspace(ws)
		},
	}
}

func newReplaceCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "replace <file|->",
		Short: "Replace the selected concept's workspace with a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			concept, err := app.concept()
			if err != nil {
				return err
			}
			raw, err := app.readRaw(args[0])
			if err != nil {
				return err
			}
			if err := outline.Validate(raw); err != nil {
				return err
			}
			session := mirror.NewSession(concept, app.remote(), nil)
			ws, err := session.Replace(cmd.Context(), outline.Normalize(raw))
			if err != nil {
				return err
			}
			return app.printWorkspace(ws)
		},
	}
}

func newDeleteCmd(app *App) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Discard the selected concept, its workspace and its snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			concept, err := app.concept()
			if err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("refusing to delete %s without --yes", concept)
			}
			if err := app.remote().DeleteConcept(cmd.Context(), concept); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "deleted %s\n", concept)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func newSearchCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find groups by title or description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			concept, err := app.concept()
			if err != nil {
				return err
			}
			hits, err := app.remote().SearchGroups(cmd.Context(), concept, args[0])
			if err != nil {
				return err
			}
			if app.output() == outputTree {
				for _, h := range hits {
					_, _ = groupStyle.Fprint(app.Out, h.Title)
					_, _ = idStyle.Fprintf(app.Out, "  %s\n", h.GroupID)
				}
				return nil
			}
			return app.print(hits)
		},
	}
}

func newSnapshotCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Back up and restore the selected concept's workspace",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Back up the current workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			concept, err := app.concept()
			if err != nil {
				return err
			}
			info, err := app.remote().CreateSnapshot(cmd.Context(), concept)
			if err != nil {
				return err
			}
			return app.print(info)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			concept, err := app.concept()
			if err != nil {
				return err
			}
			infos, err := app.remote().ListSnapshots(cmd.Context(), concept)
			if err != nil {
				return err
			}
			return app.print(infos)
		},
	}

	restore := &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Replace the workspace with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			concept, err := app.concept()
			if err != nil {
				return err
			}
			ws, err := app.remote().RestoreSnapshot(cmd.Context(), concept, args[0])
			if err != nil {
				return err
			}
			return app.printWorkspace(ws)
		},
	}

	cmd.AddCommand(create, list, restore)
	return cmd
}
