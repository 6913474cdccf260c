package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"marginalia/api/internal/outline"
)

var errValidationFailed = errors.New("validation failed")

func newValidateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file|->",
		Short: "Check a workspace document strictly, without repairing it",
		Long: `Check a workspace document the way the API checks a full replacement.
The first violation is reported with the index of the offending entry.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := app.readRaw(args[0])
			if err != nil {
				return err
			}
			if err := outline.Validate(raw); err != nil {
				_, _ = failStyle.Fprint(app.Err, "invalid: ")
				fmt.Fprintln(app.Err, err)
				return errValidationFailed
			}
			_, _ = okStyle.Fprint(app.Out, "valid")
			fmt.Fprintf(app.Out, ": %d groups, %d items\n", len(raw.Groups), len(raw.Items))
			return nil
		},
	}
}

func newNormalizeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <file|->",
		Short: "Repair a workspace document and print the canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := app.readRaw(args[0])
			if err != nil {
				return err
			}
			return app.printWorkspace(outline.Normalize(raw))
		},
	}
}

func newApplyCmd(app *App) *cobra.Command {
	var (
		opName  string
		payload string
		write   bool
	)
	cmd := &cobra.Command{
		Use:   "apply <file|-> --op <name> --payload <json>",
		Short: "Apply one patch operation to a workspace document offline",
		Example: `
outlinectl apply ws.json --op addGroup --payload '{"title":"Evidence"}'
outlinectl apply ws.json --op moveItem --payload '{"itemId":"itm_2","parentId":""}' --write
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if write && args[0] == "-" {
				return errors.New("--write needs a file, not stdin")
			}
			raw, err := app.readRaw(args[0])
			if err != nil {
				return err
			}
			op, err := outline.ParseOperation(opName, json.RawMessage(payload))
			if err != nil {
				return err
			}
			ws, err := outline.NewEngine().Apply(outline.Normalize(raw), op)
			if err != nil {
				return err
			}
			if write {
				encoded, err := json.MarshalIndent(ws, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(args[0], append(encoded, '\n'), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", args[0], err)
				}
			}
			return app.printWorkspace(ws)
		},
	}
	cmd.Flags().StringVar(&opName, "op", "", "operation name, e.g. addItem")
	cmd.Flags().StringVar(&payload, "payload", "{}", "operation payload as JSON")
	cmd.Flags().BoolVar(&write, "write", false, "write the result back to the file")
	_ = cmd.MarkFlagRequired("op")
	return cmd
}

func newShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <file|->",
		Short: "Print a workspace document as an outline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := app.readRaw(args[0])
			if err != nil {
				return err
			}
			printTree(app.Out, outline.Normalize(raw))
			return nil
		},
	}
}
