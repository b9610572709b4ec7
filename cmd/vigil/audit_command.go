package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"vigil/internal/ipc"
)

func newAuditCommand(ctx *commandContext) *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Export the append-only audit trail",
	}

	auditCmd.AddCommand(newAuditExportCommand(ctx))

	return auditCmd
}

func newAuditExportCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var caseID string
	var limit int

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit records for a user or case",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(userID) == "" && strings.TrimSpace(caseID) == "" {
				return errors.New("provide --user or --case")
			}

			req := ipc.AuditExportRequest{
				UserID: strings.TrimSpace(userID),
				CaseID: strings.TrimSpace(caseID),
				Limit:  limit,
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.AuditExport(req)
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Records) == 0 {
					fmt.Fprintln(out, "No audit records found")
					return nil
				}
				for _, record := range resp.Records {
					line := fmt.Sprintf("%s  %-24s user=%s", formatLocalTime(record.CreatedAt), record.Kind, record.UserID)
					if record.CaseID != "" {
						line += " case=" + record.CaseID
					}
					fmt.Fprintln(out, line)
					for _, kv := range sortedPayload(record.Payload) {
						fmt.Fprintf(out, "    %s: %v\n", kv.key, kv.value)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Export records for this user")
	cmd.Flags().StringVar(&caseID, "case", "", "Export records for this case")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum records to export (0 for all)")
	return cmd
}

type payloadEntry struct {
	key   string
	value any
}

func sortedPayload(payload map[string]any) []payloadEntry {
	if len(payload) == 0 {
		return nil
	}
	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	entries := make([]payloadEntry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, payloadEntry{key: key, value: payload[key]})
	}
	return entries
}
