package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/pcodesync/internal/core"
	"github.com/JonMunkholm/pcodesync/internal/history"
	"github.com/JonMunkholm/pcodesync/internal/pipeline"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err == nil {
		slog.Debug("loaded .env file (overwriting existing env vars)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		if msg := core.FormatUserError(err); msg != "" {
			fmt.Fprintln(os.Stderr, "Error:", msg)
		}
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pcodesync",
		Short:         "Build per-country pcode forms and publish them to KoboToolbox",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		runCmd("run", "Download pcodes, generate forms and publish them to every target", (*pipeline.Runner).Run),
		runCmd("generate", "Download pcodes and generate forms without publishing", (*pipeline.Runner).Generate),
		runCmd("publish", "Publish the forms already in XLSFORM_DIR to every target", (*pipeline.Runner).Publish),
		serveCmd(),
		runsCmd(),
	)
	return root
}

type runFunc func(r *pipeline.Runner, ctx context.Context, trigger string) (*history.Run, error)

// runCmd wraps one runner mode as a command that prints the run record as
// JSON on stdout. A partial run exits non-zero.
func runCmd(use, short string, fn runFunc) *cobra.Command {
	var skipDownload bool

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{skipDownload: skipDownload})
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := fn(a.runner, ctx, history.TriggerCLI)
			if run != nil {
				if perr := printJSON(cmd, run); perr != nil && err == nil {
					err = perr
				}
			}
			if err != nil {
				return err
			}
			if run.Status == history.StatusPartial {
				return errPartialRun
			}
			return nil
		},
	}
	if use != "publish" {
		cmd.Flags().BoolVar(&skipDownload, "skip-download", false, "reuse the dataset already at PCODES_PATH")
	}
	return cmd
}

var errPartialRun = errors.New("one or more targets failed to publish")

func runsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first (history outlives the process only with DATABASE_URL)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.runner.Store().List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if runs == nil {
				runs = []*history.Run{}
			}
			return printJSON(cmd, runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
