package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"twirlhost/internal/bootstrap"
	compilerdto "twirlhost/internal/modules/compiler/dto"
	"twirlhost/internal/platform/config"
	apperrors "twirlhost/internal/platform/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(apperrors.ExitCode(err))
	}
}

type rootOptions struct {
	project    string
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "twirlhost",
		Short:         "Compile Twirl templates with version-isolated compiler sandboxes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.project, "project", ".", "project root; relative paths in config resolve against it")
	flags.StringVar(&opts.configFile, "config", "", "config file (default <project>/"+config.FileName+")")
	flags.String("twirl-version", config.DefaultVersion, "compiler version key or dependency coordinate")
	flags.String("artifacts", config.DefaultArtifacts, "artifact manifest path")
	flags.String("ledger", config.DefaultLedger, "compile ledger database path")
	flags.Int("cache-size", 4, "maximum live compiler environments")
	flags.Duration("start-timeout", 3*time.Second, "sandbox start timeout")
	flags.Duration("call-timeout", 30*time.Second, "sandbox call timeout when the caller sets none")
	flags.String("log-level", "info", "log level: trace|debug|info|warn|error")

	root.AddCommand(newAdaptersCmd(opts))
	root.AddCommand(newEnvCmd(opts))
	root.AddCommand(newCompileCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newDoctorCmd(opts))
	return root
}

func loadApp(cmd *cobra.Command, opts *rootOptions, logOut io.Writer) (*bootstrap.App, error) {
	cfg, err := config.Load(opts.project, opts.configFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	return bootstrap.New(cfg, logOut)
}

func newAdaptersCmd(opts *rootOptions) *cobra.Command {
	adapters := &cobra.Command{Use: "adapters", Short: "Inspect supported compiler versions"}

	adapters.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List supported compiler versions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(cmd, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()
			infos, err := app.CompilerCLI.ListAdapters(cmd.Context())
			if err != nil {
				return err
			}
			for _, info := range infos {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", info.Version, info.DependencyNotation)
			}
			return nil
		},
	})

	adapters.AddCommand(&cobra.Command{
		Use:   "describe <version>",
		Short: "Show how a compiler version is driven",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()
			info, err := app.CompilerCLI.DescribeAdapter(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "version:    %s\n", info.Version)
			_, _ = fmt.Fprintf(out, "dependency: %s\n", info.DependencyNotation)
			_, _ = fmt.Fprintf(out, "method:     %s\n", info.CompileMethod)
			_, _ = fmt.Fprintf(out, "shared:     %s\n", strings.Join(info.SharedPackages, ", "))
			_, _ = fmt.Fprintln(out, "formats:")
			for _, f := range info.DefaultFormats {
				_, _ = fmt.Fprintf(out, "  %-12s %-12s %s\n", f.Extension, f.ID, f.FormatType)
			}
			return nil
		},
	})
	return adapters
}

func newEnvCmd(opts *rootOptions) *cobra.Command {
	env := &cobra.Command{Use: "env", Short: "Isolated environment operations"}
	env.AddCommand(&cobra.Command{
		Use:   "inspect [version]",
		Short: "Start a compiler environment and list its visible packages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()
			version := app.Config.DefaultVersion
			if len(args) == 1 {
				version = args[0]
			}
			info, err := app.CompilerCLI.InspectEnvironment(cmd.Context(), version)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "environment %s version=%s coordinate=%s\n", info.ID, info.Version, info.Coordinate)
			for _, pkg := range info.Packages {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", pkg)
			}
			return nil
		},
	})
	return env
}

func newCompileCmd(opts *rootOptions) *cobra.Command {
	var (
		sourceRoot, destination, imports, format string
		all, watch, tui                          bool
	)
	compile := &cobra.Command{
		Use:   "compile [template]",
		Short: "Compile one template, or every template under the source root",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batch := all || watch
			if batch == (len(args) == 1) {
				return fmt.Errorf("%w: pass a template path, or --all/--watch", apperrors.ErrInvalidInput)
			}
			if tui && !batch {
				return fmt.Errorf("%w: --tui needs --all or --watch", apperrors.ErrInvalidInput)
			}
			if format != "" && batch {
				return fmt.Errorf("%w: --format applies to a single template, not --all/--watch", apperrors.ErrInvalidInput)
			}
			logOut := cmd.ErrOrStderr()
			if tui {
				// The TUI owns the terminal.
				logOut = nil
			}
			app, err := loadApp(cmd, opts, logOut)
			if err != nil {
				return err
			}
			defer app.Close()
			version := app.Config.DefaultVersion
			out := cmd.OutOrStdout()

			if !batch {
				result, err := app.CompilerCLI.Compile(cmd.Context(), compilerdto.CompileInput{
					Version:         version,
					SourceFile:      args[0],
					SourceRoot:      sourceRoot,
					DestinationRoot: destination,
					Imports:         imports,
					Format:          format,
				})
				if err != nil {
					return err
				}
				printResult(out, result)
				return nil
			}

			input := compilerdto.CompileAllInput{
				Version:         version,
				SourceRoot:      sourceRoot,
				DestinationRoot: destination,
				Imports:         imports,
				Jobs:            app.Config.Jobs,
			}
			run := func(ctx context.Context, results chan<- compilerdto.CompileOutput) error {
				if watch {
					return app.CompilerCLI.Watch(ctx, input, results)
				}
				_, err := app.CompilerCLI.CompileAll(ctx, input, results)
				return err
			}
			if tui {
				title := "twirlhost " + version + " " + filepath.Base(sourceRoot)
				return bootstrap.RunCompileTUI(title, sourceRoot, run)
			}
			return streamResults(cmd.Context(), out, run)
		},
	}
	compile.Flags().StringVar(&sourceRoot, "source-root", "app/views", "template source root")
	compile.Flags().StringVar(&destination, "dest", "target/twirl", "generated sources root")
	compile.Flags().StringVar(&imports, "imports", "SCALA", "default imports: SCALA|JAVA")
	compile.Flags().StringVar(&format, "format", "", "template format extension:id[:formatType] (default: by extension)")
	compile.Flags().BoolVar(&all, "all", false, "compile every template under --source-root")
	compile.Flags().BoolVar(&watch, "watch", false, "compile everything, then recompile on change")
	compile.Flags().BoolVar(&tui, "tui", false, "show progress in a terminal UI")
	compile.Flags().Int("jobs", 4, "concurrent compilations")
	return compile
}

// streamResults prints results while run is producing them.
func streamResults(ctx context.Context, out io.Writer, run func(context.Context, chan<- compilerdto.CompileOutput) error) error {
	results := make(chan compilerdto.CompileOutput)
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, results)
	}()
	failed := 0
	for {
		select {
		case result := <-results:
			printResult(out, result)
			if result.Error != "" {
				failed++
			}
		case err := <-done:
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d templates failed", failed)
			}
			return nil
		}
	}
}

func printResult(out io.Writer, r compilerdto.CompileOutput) {
	switch {
	case r.Error != "":
		_, _ = fmt.Fprintf(out, "failed    %s: %s\n", r.SourceFile, r.Error)
	case r.Changed:
		_, _ = fmt.Fprintf(out, "compiled  %s -> %s (%s, %s)\n", r.SourceFile, r.Output, r.Version, r.Duration.Round(time.Millisecond))
	default:
		_, _ = fmt.Fprintf(out, "unchanged %s\n", r.SourceFile)
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "Show recent compile invocations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(cmd, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()
			entries, err := app.CompilerCLI.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no compilations recorded")
				return nil
			}
			for _, e := range entries {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s %-6s %s %s", e.StartedAt.Format(time.RFC3339), e.ID, e.Status, e.Version, e.SourceFile)
				if e.Error != "" {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), " error=%q", e.Error)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
	history.Flags().IntVar(&limit, "limit", 20, "entries to show")
	return history
}

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check artifacts, sandboxes and compile methods for every version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(cmd, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()
			results, err := app.CompilerCLI.Doctor(cmd.Context())
			if err != nil {
				return err
			}
			unhealthy := 0
			for _, r := range results {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s artifact=%t environment=%t method=%t", r.Version, r.ArtifactResolved, r.EnvironmentOK, r.MethodResolved)
				if r.Error != "" {
					unhealthy++
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), " error=%q", r.Error)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout())
			}
			if unhealthy > 0 {
				return fmt.Errorf("%d of %d compiler versions are unhealthy", unhealthy, len(results))
			}
			return nil
		},
	}
}
