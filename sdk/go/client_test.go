package coordsdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"coordline/internal/config"
	"coordline/internal/engine"
	"coordline/internal/lock"
	"coordline/internal/server"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	dir := t.TempDir()
	sel, err := lock.Select(lock.ModeAuto, dir)
	if err != nil {
		t.Fatalf("select lock: %v", err)
	}
	handler, err := server.New(server.Config{Engine: engine.New(dir, config.Default(), sel.Locker, nil)})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c := New(ts.URL)
	c.HTTPClient = ts.Client()
	return c
}

func TestClientLifecycle(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	capacity := 2
	agent, err := c.Register(ctx, RegisterRequest{AgentID: "sdk-agent", Team: "core", Capacity: &capacity})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if agent.Capacity != 2 {
		t.Fatalf("capacity = %d", agent.Capacity)
	}
	points := 5
	item, err := c.Claim(ctx, ClaimRequest{AgentID: "sdk-agent", WorkType: "feature", Description: "sdk", StoryPoints: &points})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := c.Progress(ctx, item.ID, 50, "halfway"); err != nil {
		t.Fatalf("progress: %v", err)
	}
	items, err := c.ListWork(ctx, WorkFilter{Agent: "sdk-agent"})
	if err != nil || len(items) != 1 {
		t.Fatalf("list work = %v, %v", items, err)
	}
	entry, err := c.Complete(ctx, item.ID, "success", nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if entry.StoryPointsEarned != 5 || entry.Status != "completed" {
		t.Fatalf("entry = %+v", entry)
	}
	if _, err := c.Dashboard(ctx); err != nil {
		t.Fatalf("dashboard: %v", err)
	}
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	c := newClient(t)
	_, err := c.GetWork(context.Background(), "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}
