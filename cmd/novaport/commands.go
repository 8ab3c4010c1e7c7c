package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/novaport"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	LogLevel    string
	EnvFile     string
	DataDirName string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "novaport",
		Short: "NovaPort - per-project memory for AI agents",
		Long: `NovaPort stores product and active context, decisions, progress,
system patterns and custom data inside each project directory and serves
them over the Model Context Protocol.

Configuration is read from NOVAPORT_* environment variables and an optional
.env file. Flags override the environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setup(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn or error (default NOVAPORT_LOG_LEVEL or info)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load if present")
	cmd.PersistentFlags().StringVar(&opts.DataDirName, "data-dir-name", "", "directory created inside each workspace (default NOVAPORT_DATA_DIRNAME or .novaport_data)")

	serve := newServeCommand(opts)
	cmd.AddCommand(serve)
	cmd.AddCommand(newProvisionCommand(opts))
	cmd.AddCommand(newVersionCommand())

	// Bare "novaport" serves, which is how MCP clients launch it.
	cmd.RunE = serve.RunE
	cmd.Flags().AddFlagSet(serve.Flags())

	return cmd
}

// setup loads the env file and installs the process logger. Logs go to
// stderr: stdout carries the stdio transport.
func setup(cmd *cobra.Command, opts *rootOptions) error {
	if opts.EnvFile != "" {
		// Missing file is fine; production won't have one.
		if err := godotenv.Load(opts.EnvFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", opts.EnvFile, err)
		}
	}

	raw := opts.LogLevel
	if raw == "" {
		raw = os.Getenv("NOVAPORT_LOG_LEVEL")
	}
	level := slog.LevelInfo
	if raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", raw, err)
		}
	}
	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}

func appOptions(opts *rootOptions) []novaport.Option {
	o := []novaport.Option{
		novaport.WithLogger(slog.Default()),
		novaport.WithVersion(version),
	}
	if opts.DataDirName != "" {
		o = append(o, novaport.WithDataDirName(opts.DataDirName))
	}
	return o
}

type serveOptions struct {
	*rootOptions
	HTTPAddr string
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP clients over stdio or HTTP",
		Long: `Serve MCP clients. Stdio is used unless an HTTP address is set.

Example:
  novaport serve
  novaport serve --http-addr 127.0.0.1:8020`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, cmd.Flags().Changed("http-addr"), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.HTTPAddr, "http-addr", "", "serve the streamable HTTP transport on this address (default NOVAPORT_HTTP_ADDR, or stdio)")

	return cmd
}

func runServe(ctx context.Context, opts *serveOptions, addrSet bool, in io.Reader, out io.Writer) error {
	appOpts := append(appOptions(opts.rootOptions), novaport.WithStdio(in, out))
	if addrSet {
		appOpts = append(appOpts, novaport.WithHTTPAddr(opts.HTTPAddr))
	}

	app, err := novaport.New(appOpts...)
	if err != nil {
		return err
	}
	runErr := app.Run(ctx)

	if err := app.Close(context.WithoutCancel(ctx)); err != nil {
		slog.Error("release workspaces", "error", err)
	}
	return runErr
}

func newProvisionCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "provision <workspace>...",
		Short: "Create and migrate workspace storage",
		Long: `Create the data directory of each workspace, open its store and apply
pending schema migrations, then print the layout as JSON. Safe to repeat.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(cmd.Context(), rootOpts, args, cmd.OutOrStdout())
		},
	}
}

func runProvision(ctx context.Context, opts *rootOptions, workspaces []string, out io.Writer) error {
	app, err := novaport.New(appOptions(opts)...)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.WithoutCancel(ctx)) }()

	infos := make([]novaport.WorkspaceInfo, 0, len(workspaces))
	for _, ws := range workspaces {
		info, err := app.Provision(ctx, ws)
		if err != nil {
			return fmt.Errorf("provision %s: %w", ws, err)
		}
		infos = append(infos, info)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(infos)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
