package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"marginalia/api/internal/client"
	"marginalia/api/internal/outline"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
	outputTree = "tree"
)

// remote is the subset of the API client the commands use.
type remote interface {
	GetWorkspace(ctx context.Context, conceptID string) (outline.Workspace, error)
	ApplyOperation(ctx context.Context, conceptID string, op outline.Operation) (outline.Workspace, error)
	ReplaceWorkspace(ctx context.Context, conceptID string, ws outline.Workspace) (outline.Workspace, error)
	DeleteConcept(ctx context.Context, conceptID string) error
	CreateSnapshot(ctx context.Context, conceptID string) (client.SnapshotInfo, error)
	ListSnapshots(ctx context.Context, conceptID string) ([]client.SnapshotInfo, error)
	RestoreSnapshot(ctx context.Context, conceptID, snapshotID string) (outline.Workspace, error)
	SearchGroups(ctx context.Context, conceptID, query string) ([]client.GroupHit, error)
}

// App holds state shared across commands.
type App struct {
	Out       io.Writer
	Err       io.Writer
	In        io.Reader
	Config    *viper.Viper
	NewRemote func(server string) remote
}

func newApp() *App {
	return &App{
		Out:    os.Stdout,
		Err:    os.Stderr,
		In:     os.Stdin,
		Config: viper.New(),
		NewRemote: func(server string) remote {
			return client.New(server)
		},
	}
}

// loadConfig layers flags over OUTLINECTL_* variables over .outlinectl.yaml in
// the working or home directory.
func (app *App) loadConfig(cmd *cobra.Command) error {
	v := app.Config
	v.SetDefault("server", "http://localhost:8787")
	v.SetDefault("output", outputJSON)
	v.SetConfigName(".outlinectl")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("OUTLINECTL")
	v.AutomaticEnv()

	if override := os.Getenv("OUTLINECTL_CONFIG_PATH"); override != "" {
		v.AddConfigPath(override)
	}
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	for _, name := range []string{"server", "concept", "output", "no-color"} {
		if err := v.BindPFlag(name, cmd.Root().PersistentFlags().Lookup(name)); err != nil {
			return err
		}
	}
	if v.GetBool("no-color") {
		color.NoColor = true
	}
	switch app.output() {
	case outputJSON, outputYAML, outputTree:
		return nil
	default:
		return fmt.Errorf("unsupported output %q (json, yaml or tree)", app.output())
	}
}

func (app *App) output() string {
	return strings.ToLower(app.Config.GetString("output"))
}

func (app *App) concept() (string, error) {
	concept := strings.TrimSpace(app.Config.GetString("concept"))
	if concept == "" {
		return "", errors.New("no concept selected: pass --concept or set OUTLINECTL_CONCEPT")
	}
	return concept, nil
}

func (app *App) remote() remote {
	return app.NewRemote(strings.TrimRight(app.Config.GetString("server"), "/"))
}

// readRaw loads a workspace document from path, or stdin when path is "-".
func (app *App) readRaw(path string) (outline.RawWorkspace, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(app.In)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return outline.RawWorkspace{}, fmt.Errorf("read %s: %w", path, err)
	}
	return outline.DecodeRaw(data)
}

// printWorkspace renders ws in the selected output format.
func (app *App) printWorkspace(ws outline.Workspace) error {
	if app.output() == outputTree {
		printTree(app.Out, ws)
		return nil
	}
	return app.print(ws)
}

// print writes v as JSON or YAML. YAML goes through the JSON encoding so
// field names match the API.
func (app *App) print(v any) error {
	if app.output() == outputYAML {
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(encoded, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(app.Out)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(app.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
