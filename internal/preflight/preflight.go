// Package preflight verifies that the environment can support the daemon
// before it starts taking signals: directory access, database integrity, and
// outreach endpoint reachability.
package preflight

import (
	"context"

	"vigil/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Endpoint checks run only for configured channels.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	results = append(results, CheckDatabase(ctx, cfg))

	for _, endpoint := range []struct {
		name string
		url  string
	}{
		{name: "Push channel", url: cfg.Channels.Push.URL},
		{name: "SMS channel", url: cfg.Channels.SMS.URL},
		{name: "Voice channel", url: cfg.Channels.Voice.URL},
		{name: "Email channel", url: cfg.Channels.Email.URL},
		{name: "Counselor channel", url: cfg.Channels.Counselor.URL},
		{name: "Emergency channel", url: cfg.Channels.Emergency.URL},
	} {
		if endpoint.url == "" {
			continue
		}
		results = append(results, CheckEndpoint(ctx, endpoint.name, endpoint.url))
	}

	results = append(results, CheckOperatorAlerts(cfg))

	return results
}
