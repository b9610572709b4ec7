package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vigil/internal/api"
	"vigil/internal/ipc"
)

func newCaseCommand(ctx *commandContext) *cobra.Command {
	caseCmd := &cobra.Command{
		Use:   "case",
		Short: "Inspect and manage escalation cases",
	}

	caseCmd.AddCommand(newCaseListCommand(ctx))
	caseCmd.AddCommand(newCaseShowCommand(ctx))
	caseCmd.AddCommand(newCaseAckCommand(ctx))

	return caseCmd
}

func newCaseListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List escalation cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.CaseList(statusFilter)
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, resp)
				}
				if len(resp.Cases) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No cases on record")
					return nil
				}
				table := renderTable(
					[]string{"ID", "User", "Tier", "Status", "Opened", "Flags"},
					buildCaseListRows(resp.Cases),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&statusFilter, "status", "s", "", "Filter by case status (open, frozen, resolved)")
	return cmd
}

func newCaseShowCommand(ctx *commandContext) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "show [case-id]",
		Short: "Show one case with delivery attempts and risk state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caseID := ""
			if len(args) > 0 {
				caseID = strings.TrimSpace(args[0])
			}
			if caseID == "" && strings.TrimSpace(userID) == "" {
				return errors.New("provide a case id or --user")
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.CaseDescribe(caseID, strings.TrimSpace(userID))
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, resp)
				}
				printCaseDetail(cmd, resp.Detail)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Look up the user's open case instead of a case id")
	return cmd
}

func newCaseAckCommand(ctx *commandContext) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "ack <case-id>",
		Short: "Record a human acknowledgement of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caseID := strings.TrimSpace(args[0])
			if caseID == "" {
				return errors.New("case id is required")
			}
			if strings.TrimSpace(actor) == "" {
				return errors.New("--by is required; acknowledgements are attributed to a person")
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Acknowledge(caseID, strings.TrimSpace(actor))
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if resp.Resolved {
					fmt.Fprintf(out, "Case %s acknowledged and resolved\n", resp.Case.ID)
				} else {
					fmt.Fprintf(out, "Case %s acknowledged; stays open at tier %s until risk subsides\n", resp.Case.ID, resp.Case.Tier)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&actor, "by", "", "Name or id of the person acknowledging")
	return cmd
}

func buildCaseListRows(cases []api.Case) [][]string {
	rows := make([][]string, 0, len(cases))
	for _, c := range cases {
		flags := make([]string, 0, 2)
		if c.Acknowledged {
			flags = append(flags, "acked")
		}
		if c.NeedsReview {
			flags = append(flags, "needs-review")
		}
		rows = append(rows, []string{
			c.ID,
			c.UserID,
			c.Tier,
			c.Status,
			c.OpenedAt.Local().Format("2006-01-02 15:04"),
			strings.Join(flags, ", "),
		})
	}
	return rows
}

func printCaseDetail(cmd *cobra.Command, detail api.CaseDetail) {
	out := cmd.OutOrStdout()
	c := detail.Case

	fmt.Fprintf(out, "Case %s\n", c.ID)
	fmt.Fprintf(out, "  User:        %s\n", c.UserID)
	fmt.Fprintf(out, "  Tier:        %s (entered %s)\n", c.Tier, formatLocalTime(c.TierEnteredAt))
	fmt.Fprintf(out, "  Status:      %s\n", c.Status)
	fmt.Fprintf(out, "  Opened:      %s\n", formatLocalTime(c.OpenedAt))
	fmt.Fprintf(out, "  Acknowledged: %s", yesNo(c.Acknowledged))
	if c.Acknowledged && c.AckBy != "" {
		fmt.Fprintf(out, " (by %s", c.AckBy)
		if c.AckAt != nil {
			fmt.Fprintf(out, " at %s", formatLocalTime(*c.AckAt))
		}
		fmt.Fprint(out, ")")
	}
	fmt.Fprintln(out)
	if c.NeedsReview {
		reason := c.ReviewReason
		if reason == "" {
			reason = "unspecified"
		}
		fmt.Fprintf(out, "  Needs review: %s\n", reason)
	}

	if len(c.TierHistory) > 0 {
		fmt.Fprintln(out, "  Tier history:")
		for _, change := range c.TierHistory {
			line := fmt.Sprintf("    %s  %s", formatLocalTime(change.At), change.Tier)
			if change.Reason != "" {
				line += fmt.Sprintf("  (%s)", change.Reason)
			}
			fmt.Fprintln(out, line)
		}
	}

	if detail.Risk != nil {
		risk := detail.Risk
		fmt.Fprintf(out, "  Risk:        %.3f (%s) as of %s\n", risk.Composite, risk.Trend, formatLocalTime(risk.LastUpdated))
	}

	if len(detail.Attempts) == 0 {
		fmt.Fprintln(out, "  No delivery attempts recorded")
		return
	}
	fmt.Fprintln(out, "  Delivery attempts:")
	table := renderTable(
		[]string{"Channel", "Target", "Tier", "Status", "Tries", "Last Error"},
		buildAttemptRows(detail.Attempts),
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
	fmt.Fprintln(out, table)
}

func buildAttemptRows(attempts []api.Attempt) [][]string {
	rows := make([][]string, 0, len(attempts))
	for _, a := range attempts {
		rows = append(rows, []string{
			a.Channel,
			a.Target,
			a.Tier,
			a.Status,
			fmt.Sprintf("%d", a.AttemptCount),
			truncate(a.LastError, 60),
		})
	}
	return rows
}

func truncate(value string, max int) string {
	value = strings.TrimSpace(value)
	if len(value) <= max {
		return value
	}
	return value[:max-3] + "..."
}

func formatLocalTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
