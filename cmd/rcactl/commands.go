package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"logrca/internal/app"
)

// appLoader builds the application for one command and returns its cleanup.
type appLoader func(ctx context.Context, logLevel string) (*app.App, func(), error)

func newRootCmd(load appLoader) *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "rcactl",
		Short:         "Index source trees and analyze request failures from their logs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to LOG_LEVEL")

	withApp := func(run func(cmd *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := load(cmd.Context(), logLevel)
			if err != nil {
				return err
			}
			defer cleanup()
			return run(cmd, a, args)
		}
	}

	indexCmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Scan a source tree for log calls and store their contexts in the vector index",
		Long:  "Scan a source tree for log calls and store their contexts in the vector index.\nWithout a path, CODE_PATH is indexed.",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			count, err := a.Ingest.IndexPath(cmd.Context(), path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d log contexts.\n", count)
			return nil
		}),
	}

	logsCmd := &cobra.Command{
		Use:   "logs <correlation-id>",
		Short: "Print the log events of one request as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			events, err := a.Analysis.FetchLogs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"logs": events, "count": len(events)})
		}),
	}

	var asJSON bool
	analyzeCmd := &cobra.Command{
		Use:   "analyze <correlation-id>",
		Short: "Produce a root-cause analysis report for one request",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			report, err := a.Analysis.Analyze(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.RCA)
			return nil
		}),
	}
	analyzeCmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")

	rootCmd.AddCommand(indexCmd, logsCmd, analyzeCmd)
	return rootCmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
