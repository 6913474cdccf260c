package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "outlinectl",
		Short:         "Inspect and edit concept workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.loadConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.SetOut(app.Out)
	cmd.SetErr(app.Err)

	flags := cmd.PersistentFlags()
	flags.String("server", "http://localhost:8787", "marginalia API base URL")
	flags.String("concept", "", "concept id for remote commands")
	flags.StringP("output", "o", outputJSON, "output format: json, yaml or tree")
	flags.Bool("no-color", false, "disable coloured output")

	cmd.AddCommand(
		newValidateCmd(app),
		newNormalizeCmd(app),
		newApplyCmd(app),
		newShowCmd(app),
		newGetCmd(app),
		newOpCmd(app),
		newReplaceCmd(app),
		newDeleteCmd(app),
		newSearchCmd(app),
		newSnapshotCmd(app),
	)
	return cmd
}
