package services_test

import (
	"context"
	"testing"

	"vigil/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithUserID(ctx, "user-7")
	ctx = services.WithCaseID(ctx, "case-42")
	ctx = services.WithComponent(ctx, "dispatch")
	ctx = services.WithWorker(ctx, 3)
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.UserIDFromContext(ctx); !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %v %v", id, ok)
	}
	if id, ok := services.CaseIDFromContext(ctx); !ok || id != "case-42" {
		t.Fatalf("unexpected case id: %v %v", id, ok)
	}
	if component, ok := services.ComponentFromContext(ctx); !ok || component != "dispatch" {
		t.Fatalf("unexpected component: %v %v", component, ok)
	}
	if worker, ok := services.WorkerFromContext(ctx); !ok || worker != 3 {
		t.Fatalf("unexpected worker: %v %v", worker, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithComponent(ctx, "")
	if _, ok := services.ComponentFromContext(ctx); ok {
		t.Fatal("expected no component value")
	}
	ctx = services.WithUserID(ctx, "")
	if _, ok := services.UserIDFromContext(ctx); ok {
		t.Fatal("expected no user id value")
	}
}
