package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"vigil/internal/ipc"
	"vigil/internal/preflight"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var checksOnly bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check environment readiness and case database health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			results := preflight.RunAll(cmd.Context(), cfg)
			if ctx.jsonMode() {
				return writeJSON(cmd, results)
			}

			for _, line := range renderSectionHeader("Environment", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, result := range results {
				kind := statusOK
				if !result.Passed {
					kind = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}

			if checksOnly {
				return nil
			}

			err := ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DatabaseHealth()
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
				for _, line := range renderSectionHeader("Case Database", colorize) {
					fmt.Fprintln(out, line)
				}
				printDatabaseHealth(cmd, resp)
				return nil
			})
			if err != nil {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Daemon not reachable; database details shown from preflight only")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&checksOnly, "checks-only", false, "Skip the daemon database health query")
	return cmd
}

func printDatabaseHealth(cmd *cobra.Command, resp *ipc.DatabaseHealthResponse) {
	out := cmd.OutOrStdout()
	health := resp.Health
	fmt.Fprintf(out, "Database path: %s\n", health.DBPath)
	fmt.Fprintf(out, "Database exists: %s\n", yesNo(health.DatabaseExists))
	fmt.Fprintf(out, "Readable: %s\n", yesNo(health.DatabaseReadable))
	fmt.Fprintf(out, "Schema version: %s\n", health.SchemaVersion)
	if len(health.TablesPresent) > 0 {
		tables := append([]string(nil), health.TablesPresent...)
		sort.Strings(tables)
		fmt.Fprintf(out, "Tables: %s\n", strings.Join(tables, ", "))
	}
	if len(health.MissingTables) > 0 {
		missing := append([]string(nil), health.MissingTables...)
		sort.Strings(missing)
		fmt.Fprintf(out, "Missing tables: %s\n", strings.Join(missing, ", "))
	} else {
		fmt.Fprintln(out, "Missing tables: none")
	}
	fmt.Fprintf(out, "Integrity check: %s\n", yesNo(health.IntegrityCheck))
	fmt.Fprintf(out, "Open cases: %d\n", health.OpenCases)
	fmt.Fprintf(out, "Audit records: %d\n", health.AuditRecords)
	if health.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", health.Error)
	}
}
