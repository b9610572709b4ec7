package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"vigil/internal/api"
	"vigil/internal/ipc"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display daemon logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			initialLimit := lines
			if initialLimit < 0 {
				initialLimit = 0
			}

			return ctx.withClient(func(client *ipc.Client) error {
				cmdCtx := cmd.Context()
				since := uint64(0)
				limit := initialLimit
				printed := false
				first := true

				for {
					req := ipc.LogTailRequest{
						Since:      since,
						Limit:      limit,
						Follow:     follow && !first,
						WaitMillis: 1000,
					}
					resp, err := client.LogTail(req)
					if err != nil {
						return fmt.Errorf("tail logs: %w", err)
					}
					if resp == nil {
						return errors.New("log tail response missing")
					}
					for _, evt := range resp.Events {
						fmt.Fprintln(cmd.OutOrStdout(), formatLogEvent(evt))
						printed = true
					}
					since = resp.Next
					limit = 200
					first = false
					if !follow {
						if !printed {
							fmt.Fprintln(cmd.OutOrStdout(), "No log entries available")
						}
						return nil
					}
					select {
					case <-cmdCtx.Done():
						return nil
					default:
					}
				}
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 10, "Number of entries to show (0 for all buffered)")
	return cmd
}

func formatLogEvent(evt api.LogEvent) string {
	ts := evt.Timestamp.Format("2006-01-02 15:04:05")
	level := strings.ToUpper(strings.TrimSpace(evt.Level))
	if level == "" {
		level = "INFO"
	}
	parts := []string{ts, level}
	if component := strings.TrimSpace(evt.Component); component != "" {
		parts = append(parts, fmt.Sprintf("[%s]", component))
	}
	subject := composeSubject(evt.UserID, evt.CaseID, evt.Tier)
	line := strings.Join(parts, " ")
	if subject != "" {
		line += " " + subject
	}
	message := strings.TrimSpace(evt.Message)
	if message != "" {
		line += " " + message
	}
	if len(evt.Details) == 0 {
		return line
	}
	builder := strings.Builder{}
	builder.WriteString(line)
	for _, detail := range evt.Details {
		if strings.TrimSpace(detail.Label) == "" || strings.TrimSpace(detail.Value) == "" {
			continue
		}
		builder.WriteString("\n    - ")
		builder.WriteString(detail.Label)
		builder.WriteString(": ")
		builder.WriteString(detail.Value)
	}
	return builder.String()
}

func composeSubject(userID, caseID, tier string) string {
	parts := make([]string, 0, 3)
	if userID = strings.TrimSpace(userID); userID != "" {
		parts = append(parts, "user="+userID)
	}
	if caseID = strings.TrimSpace(caseID); caseID != "" {
		parts = append(parts, "case="+caseID)
	}
	if tier = strings.TrimSpace(tier); tier != "" {
		parts = append(parts, "tier="+tier)
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("(%s)", strings.Join(parts, " "))
}
