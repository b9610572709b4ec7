package daemon

import (
	"context"
	"testing"

	"vigil/internal/engine"
	"vigil/internal/logging"
)

func TestDaemonEnforcesSingleInstance(t *testing.T) {
	env := newAPIEnv(t, nil)
	ctx := context.Background()

	if err := env.daemon.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := env.daemon.Start(ctx); err == nil {
		t.Fatal("second Start on a running daemon succeeded")
	}

	mgr, err := engine.NewManager(env.cfg, env.store, logging.NewNop())
	if err != nil {
		t.Fatalf("engine.NewManager: %v", err)
	}
	rival, err := New(env.cfg, env.store, logging.NewNop(), mgr, "", "", nil, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := rival.Start(ctx); err == nil {
		rival.Stop()
		t.Fatal("rival daemon acquired a held lock")
	}

	env.daemon.Stop()
	if err := rival.Start(ctx); err != nil {
		t.Fatalf("Start after lock release: %v", err)
	}
	rival.Stop()
}
