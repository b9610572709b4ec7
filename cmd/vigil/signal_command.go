package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vigil/internal/api"
	"vigil/internal/ipc"
	"vigil/internal/signals"
)

func newSignalCommand(ctx *commandContext) *cobra.Command {
	signalCmd := &cobra.Command{
		Use:   "signal",
		Short: "Inject signals into the running engine",
	}

	signalCmd.AddCommand(newSignalSendCommand(ctx))

	return signalCmd
}

func newSignalSendCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var source string
	var confidence float64
	var timestamp string
	var features []string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one signal observation to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(userID) == "" {
				return errors.New("--user is required")
			}
			if _, ok := signals.ParseSource(source); !ok {
				return fmt.Errorf("unknown source %q (expected one of %s)", source, sourceNames())
			}

			ts := time.Now().UTC()
			if trimmed := strings.TrimSpace(timestamp); trimmed != "" {
				parsed, err := time.Parse(time.RFC3339, trimmed)
				if err != nil {
					return fmt.Errorf("parse --timestamp: %w", err)
				}
				ts = parsed
			}

			featureMap, err := parseFeatures(features)
			if err != nil {
				return err
			}

			req := ipc.SignalSendRequest{Signal: api.SignalRequest{
				UserID:        strings.TrimSpace(userID),
				Source:        strings.ToLower(strings.TrimSpace(source)),
				Timestamp:     ts,
				Features:      featureMap,
				RawConfidence: confidence,
			}}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SignalSend(req)
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, resp)
				}
				if resp.Accepted {
					fmt.Fprintf(cmd.OutOrStdout(), "Signal accepted for %s\n", req.Signal.UserID)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User the observation is about")
	cmd.Flags().StringVarP(&source, "source", "s", "", "Signal source (text, voice, biometric, behavioral)")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "Raw confidence in [0,1]")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "Observation time as RFC3339 (defaults to now)")
	cmd.Flags().StringSliceVar(&features, "feature", nil, "Feature value as name=number (repeatable)")
	return cmd
}

func parseFeatures(values []string) (map[string]float64, error) {
	if len(values) == 0 {
		return nil, nil
	}
	features := make(map[string]float64, len(values))
	for _, raw := range values {
		name, value, ok := strings.Cut(raw, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid feature %q (expected name=number)", raw)
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid feature value in %q: %w", raw, err)
		}
		features[name] = parsed
	}
	return features, nil
}

func sourceNames() string {
	sources := signals.AllSources()
	names := make([]string, len(sources))
	for i, source := range sources {
		names[i] = string(source)
	}
	return strings.Join(names, ", ")
}
