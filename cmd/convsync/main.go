package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/convsync/internal"
	"github.com/starford/convsync/internal/freshness"
	"github.com/starford/convsync/internal/mutation"
	pkgconfig "github.com/starford/convsync/pkg/config"
)

var version = "dev"

func newApp(cmd *cli.Command) (*internal.App, error) {
	cfg := internal.NewDefaultConfig()
	configPath := cmd.String("config")
	if cmd.IsSet("config") {
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if _, err := pkgconfig.LoadIfExists(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cmd.IsSet("base-url") {
		cfg.Remote.BaseURL = cmd.String("base-url")
	}
	if cmd.IsSet("token") {
		cfg.Remote.Token = cmd.String("token")
	}
	if cmd.IsSet("root") {
		cfg.Project.Root = cmd.String("root")
	}
	if cmd.IsSet("log-level") {
		if err := cfg.App.LogLevel.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
			return nil, fmt.Errorf("invalid --log-level: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return internal.New(
		internal.WithConfig(cfg),
		internal.WithLogOutput(cmd.Root().ErrWriter),
		internal.WithVersion(version),
	)
}

func out(cmd *cli.Command) io.Writer {
	return cmd.Root().Writer
}

func runInit(_ context.Context, cmd *cli.Command) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	dir, created, err := app.Init()
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(out(cmd), "Created %s. Run `convsync download` next.\n", dir)
	} else {
		fmt.Fprintf(out(cmd), "%s already exists.\n", dir)
	}
	return nil
}

func runDownload(ctx context.Context, cmd *cli.Command) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	res, err := app.Download(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out(cmd), res.Message)
	return nil
}

func mutate(run func(context.Context, *internal.App, []string, bool) ([]mutation.Outcome, error)) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		refs := cmd.Args().Slice()
		if len(refs) == 0 {
			return fmt.Errorf("%s: at least one file is required", cmd.Name)
		}
		app, err := newApp(cmd)
		if err != nil {
			return err
		}
		outcomes, err := run(ctx, app, refs, cmd.Bool("apply"))
		printOutcomes(cmd, outcomes)
		return err
	}
}

func printOutcomes(cmd *cli.Command, outcomes []mutation.Outcome) {
	w := out(cmd)
	for _, o := range outcomes {
		for _, warning := range o.Warnings {
			fmt.Fprintf(cmd.Root().ErrWriter, "warning: %s\n", warning)
		}
		if o.Diff != "" {
			fmt.Fprint(w, o.Diff)
		}
		if o.Message != "" {
			fmt.Fprintln(w, o.Message)
		}
	}
}

func runList(_ context.Context, cmd *cli.Command) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	entries, err := app.Tracked()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out(cmd), "No conventions tracked.")
		return nil
	}
	tw := tabwriter.NewWriter(out(cmd), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tID\tREVISION")
	for _, e := range entries {
		rev := freshness.KnownToken(&e)
		if rev == "" {
			rev = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.FileRelativePath, e.ConventionID, rev)
	}
	return tw.Flush()
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	report, err := app.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out(cmd), report.String())
	if report.Stale() && cmd.Bool("exit-code") {
		return cli.Exit("", 2)
	}
	return nil
}

func runSearch(_ context.Context, cmd *cli.Command) error {
	query := cmd.Args().First()
	if query == "" {
		return fmt.Errorf("search: a query is required")
	}
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	hits, err := app.Search(query, int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Fprintln(out(cmd), "No matches.")
		return nil
	}
	for _, h := range hits {
		fmt.Fprintf(out(cmd), "%s\t%s\n", h.Path, h.Title)
	}
	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	return app.ServeMCP(ctx)
}

func applyFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "apply",
		Usage: "Perform the change instead of printing the plan",
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "convsync",
		Usage:   "Synchronize markdown conventions with the remote convention service",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "convsync.yaml",
				Value:       "convsync.yaml",
				Sources:     cli.EnvVars("CONVSYNC_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "Convention service URL",
				Sources: cli.EnvVars("CONVSYNC_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "API token",
				Sources: cli.EnvVars("CONVSYNC_TOKEN"),
			},
			&cli.StringFlag{
				Name:  "root",
				Usage: "Project root (default: nearest directory containing .conventions)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Create the .conventions directory here",
				Action: runInit,
			},
			{
				Name:   "download",
				Usage:  "Replace the local tree with the remote catalog",
				Action: runDownload,
			},
			{
				Name:      "create",
				Usage:     "Upload new local convention files",
				ArgsUsage: "<file>...",
				Action: mutate(func(ctx context.Context, app *internal.App, refs []string, _ bool) ([]mutation.Outcome, error) {
					return app.Create(ctx, refs)
				}),
			},
			{
				Name:      "update",
				Usage:     "Diff tracked files against the server, upload with --apply",
				ArgsUsage: "<file>...",
				Flags:     []cli.Flag{applyFlag()},
				Action: mutate(func(ctx context.Context, app *internal.App, refs []string, apply bool) ([]mutation.Outcome, error) {
					return app.Update(ctx, refs, apply)
				}),
			},
			{
				Name:      "delete",
				Usage:     "Plan deletion of tracked conventions, delete with --apply",
				ArgsUsage: "<file>...",
				Flags:     []cli.Flag{applyFlag()},
				Action: mutate(func(ctx context.Context, app *internal.App, refs []string, apply bool) ([]mutation.Outcome, error) {
					return app.Delete(ctx, refs, apply)
				}),
			},
			{
				Name:   "list",
				Usage:  "List tracked conventions",
				Action: runList,
			},
			{
				Name:  "status",
				Usage: "Report drift between the manifest and the remote catalog",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "exit-code", Usage: "Exit with status 2 when drift is found"},
				},
				Action: runStatus,
			},
			{
				Name:      "search",
				Usage:     "Full-text search over the local tree",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum number of hits"},
				},
				Action: runSearch,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: runMCP,
			},
		},
	}
}

func main() {
	cmd := newCommand()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
