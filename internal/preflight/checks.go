package preflight

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"vigil/internal/config"
	"vigil/internal/crisis"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDatabase opens the case store and runs its integrity diagnostics.
func CheckDatabase(ctx context.Context, cfg *config.Config) Result {
	const name = "Case database"

	store, err := crisis.Open(cfg)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("open failed: %v", err)}
	}
	defer store.Close()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := store.CheckHealth(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed: %v", err)}
	}
	if health.Error != "" {
		return Result{Name: name, Detail: health.Error}
	}
	if !health.IntegrityCheck {
		return Result{Name: name, Detail: "integrity check failed"}
	}
	if len(health.MissingTables) > 0 {
		return Result{Name: name, Detail: fmt.Sprintf("missing tables: %s", strings.Join(health.MissingTables, ", "))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d open cases)", health.DBPath, health.OpenCases)}
}

// CheckEndpoint verifies that a delivery webhook answers at all. Any HTTP
// response counts as reachable; auth and payload problems surface at dispatch
// time with their own classification.
func CheckEndpoint(ctx context.Context, name, url string) Result {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return Result{Name: name, Detail: "not configured"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodHead, trimmed, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid url (%v)", err)}
	}
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("unreachable (%v)", err)}
	}
	resp.Body.Close()
	return Result{Name: name, Passed: true, Detail: "reachable"}
}

// CheckOperatorAlerts reports whether operator paging is configured. Without
// it, state corruption and mandatory-review flags only reach the logs.
func CheckOperatorAlerts(cfg *config.Config) Result {
	const name = "Operator alerts"
	if strings.TrimSpace(cfg.Operators.AlertURL) == "" {
		return Result{Name: name, Detail: "not configured (corruption alerts reach logs only)"}
	}
	return Result{Name: name, Passed: true, Detail: "configured"}
}
