package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"vigil/internal/api"
	"vigil/internal/ipc"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Inspect and maintain safety plans",
	}

	planCmd.AddCommand(newPlanShowCommand(ctx))
	planCmd.AddCommand(newPlanSetCommand(ctx))

	return planCmd
}

func newPlanShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user's safety plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := strings.TrimSpace(args[0])
			if userID == "" {
				return errors.New("user id is required")
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.PlanGet(userID)
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if !resp.Found {
					fmt.Fprintf(out, "No safety plan on file for %s\n", userID)
					return nil
				}
				printSafetyPlan(cmd, resp.Plan)
				return nil
			})
		},
	}
}

func newPlanSetCommand(ctx *commandContext) *cobra.Command {
	var fromFile string
	var updatedBy string

	cmd := &cobra.Command{
		Use:   "set <user-id>",
		Short: "Create or replace a user's safety plan from JSON",
		Long: `Create or replace a user's safety plan. The plan document is read as JSON
from --file, or from stdin when --file is omitted. Versioning is handled by
the daemon; each set produces a new plan version.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := strings.TrimSpace(args[0])
			if userID == "" {
				return errors.New("user id is required")
			}

			payload, err := readPlanPayload(cmd, fromFile)
			if err != nil {
				return err
			}

			var planReq api.SafetyPlanRequest
			if err := json.Unmarshal(payload, &planReq); err != nil {
				return fmt.Errorf("parse plan document: %w", err)
			}
			if strings.TrimSpace(updatedBy) != "" {
				planReq.UpdatedBy = strings.TrimSpace(updatedBy)
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.PlanSet(ipc.PlanSetRequest{UserID: userID, Plan: planReq})
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Safety plan for %s stored (version %d)\n", userID, resp.Plan.Version)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "Read the plan document from this JSON file instead of stdin")
	cmd.Flags().StringVar(&updatedBy, "by", "", "Name or id of the clinician making the change")
	return cmd
}

func readPlanPayload(cmd *cobra.Command, fromFile string) ([]byte, error) {
	if path := strings.TrimSpace(fromFile); path != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read plan file: %w", err)
		}
		return payload, nil
	}
	payload, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("read plan from stdin: %w", err)
	}
	if len(strings.TrimSpace(string(payload))) == 0 {
		return nil, errors.New("empty plan document; pass --file or pipe JSON on stdin")
	}
	return payload, nil
}

func printSafetyPlan(cmd *cobra.Command, plan api.SafetyPlan) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Safety plan for %s (version %d", plan.UserID, plan.Version)
	if plan.UpdatedBy != "" {
		fmt.Fprintf(out, ", updated by %s", plan.UpdatedBy)
	}
	fmt.Fprintf(out, ", %s)\n", formatLocalTime(plan.UpdatedAt))

	if len(plan.CopingSteps) > 0 {
		fmt.Fprintln(out, "  Coping steps:")
		for i, step := range plan.CopingSteps {
			fmt.Fprintf(out, "    %d. %s\n", i+1, step)
		}
	}
	if len(plan.TrustedContacts) > 0 {
		fmt.Fprintln(out, "  Trusted contacts:")
		for _, contact := range plan.TrustedContacts {
			fmt.Fprintf(out, "    - %s via %s (%s)\n", contact.Name, contact.Channel, contact.Address)
		}
	}
	if len(plan.PreferredResources) > 0 {
		fmt.Fprintf(out, "  Preferred resources: %s\n", strings.Join(plan.PreferredResources, ", "))
	}
}
