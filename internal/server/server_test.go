package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"coordline/internal/config"
	"coordline/internal/domain"
	"coordline/internal/engine"
	"coordline/internal/lock"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	dir := t.TempDir()
	sel, err := lock.Select(lock.ModeAuto, dir)
	if err != nil {
		t.Fatalf("select lock: %v", err)
	}
	e := engine.New(dir, config.Default(), sel.Locker, nil)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth, StaleAfter: time.Hour})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{Timeout: 10 * time.Second},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope %s: %v", data, err)
	}
	return env.Error
}

func TestWorkLifecycle(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/agents", map[string]any{
		"agent_id": "agent-1",
		"team":     "core",
		"capacity": 5,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("register status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work", map[string]any{
		"agent_id":     "agent-1",
		"work_type":    "feature",
		"description":  "Add login",
		"priority":     "high",
		"story_points": 3,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("claim status %d: %s", res.StatusCode, data)
	}
	var item domain.WorkItem
	if err := json.Unmarshal(data, &item); err != nil {
		t.Fatalf("unmarshal work: %v", err)
	}
	if item.Status != domain.StatusActive || item.Team != "core" || item.TraceID == "" {
		t.Fatalf("unexpected claimed item %+v", item)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work/"+item.ID+"/progress", map[string]any{
		"percentage": 60,
		"label":      "testing",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("progress status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/work?agent=agent-1", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var list WorkListResponse
	_ = json.Unmarshal(data, &list)
	if len(list.Items) != 1 || list.Items[0].Progress != 60 || list.Items[0].Status != domain.StatusInProgress {
		t.Fatalf("unexpected list %s", data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work/"+item.ID+"/complete", map[string]any{
		"result": "success",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, data)
	}
	var entry domain.LogEntry
	_ = json.Unmarshal(data, &entry)
	if entry.StoryPointsEarned != 3 || entry.Result != domain.ResultSuccess {
		t.Fatalf("unexpected log entry %+v", entry)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/dashboard", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status %d: %s", res.StatusCode, data)
	}
	var report map[string]any
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal dashboard: %v", err)
	}
	if _, ok := report["agents"]; !ok {
		t.Fatalf("dashboard missing agents: %s", data)
	}
}

func TestErrorEnvelopes(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/work/missing/progress", map[string]any{"percentage": 10}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, data)
	}
	if body := decodeError(t, data); body.Code != domain.KindNotFound {
		t.Fatalf("expected not_found code, got %+v", body)
	}

	srv.Engine.Config.Agents.AutoRegister = false
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work", map[string]any{
		"agent_id":    "ghost",
		"work_type":   "bug",
		"description": "nobody home",
	}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown agent, got %d %s", res.StatusCode, data)
	}
	if body := decodeError(t, data); body.Code != domain.KindAgentNotFound {
		t.Fatalf("expected agent_not_found, got %+v", body)
	}
	srv.Engine.Config.Agents.AutoRegister = true

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/agents", map[string]any{"agent_id": "a", "capacity": 500}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for capacity, got %d %s", res.StatusCode, data)
	}
	if body := decodeError(t, data); body.Code != domain.KindValidation {
		t.Fatalf("expected validation code, got %+v", body)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work", map[string]any{"work_type": "bug"}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d %s", res.StatusCode, data)
	}

	item, err := srv.Engine.Claim(context.Background(), engine.ClaimOptions{AgentID: "", WorkType: "bug", Description: "auto"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := srv.Engine.Complete(context.Background(), engine.CompleteOptions{ID: item.ID, Result: "failed"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work/"+item.ID+"/complete", map[string]any{"result": "success"}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, data)
	}
	if body := decodeError(t, data); body.Code != domain.KindAlreadyTerminal {
		t.Fatalf("expected already_terminal, got %+v", body)
	}
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestJWTAuth(t *testing.T) {
	const secret = "s3cret"
	srv := newTestServer(t, AuthConfig{JWTSecret: secret})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/agents", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, data)
	}
	if body := decodeError(t, data); body.Code != "unauthorized" {
		t.Fatalf("unexpected code %+v", body)
	}

	bad := signToken(t, "other", "agent-9")
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/agents", nil, map[string]string{"Authorization": "Bearer " + bad})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d", res.StatusCode)
	}

	headers := map[string]string{"Authorization": "Bearer " + signToken(t, secret, "agent-9")}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/agents", map[string]any{"team": "ops"}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("register as subject: %d %s", res.StatusCode, data)
	}
	var agent domain.Agent
	_ = json.Unmarshal(data, &agent)
	if agent.ID != "agent-9" {
		t.Fatalf("expected subject as agent id, got %q", agent.ID)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work", map[string]any{
		"work_type":   "ops",
		"description": "rotate certs",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("claim as subject: %d %s", res.StatusCode, data)
	}
	var item domain.WorkItem
	_ = json.Unmarshal(data, &item)
	if item.AgentID != "agent-9" || item.Team != "ops" {
		t.Fatalf("unexpected item %+v", item)
	}
}

func TestDeregisterRequiresForceWhileOwningWork(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()
	ctx := context.Background()
	if _, err := srv.Engine.Register(ctx, engine.RegisterOptions{AgentID: "busy"}); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.Engine.Claim(ctx, engine.ClaimOptions{AgentID: "busy", WorkType: "bug", Description: "x"}); err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/agents/busy", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/agents/busy?force=true", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("forced deregister: %d %s", res.StatusCode, data)
	}
}

type openAPIDoc struct {
	Paths      map[string]map[string]json.RawMessage `json:"paths"`
	Components struct {
		SecuritySchemes map[string]any `json:"securitySchemes"`
	} `json:"components"`
}

func fetchOpenAPI(t *testing.T, srv *testServer) openAPIDoc {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d: %s", res.StatusCode, data)
	}
	var doc openAPIDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal openapi: %v", err)
	}
	return doc
}

func TestOpenAPISpec(t *testing.T) {
	doc := fetchOpenAPI(t, newTestServer(t, AuthConfig{}))
	for _, p := range []string{"/v0/agents", "/v0/agents/{agent_id}", "/v0/work", "/v0/work/{work_id}/complete", "/v0/dashboard", "/v0/health"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Fatalf("openapi missing %s", p)
		}
	}
	if _, ok := doc.Paths["/v0/work"]["post"]; !ok {
		t.Fatalf("openapi missing claim operation")
	}
	if len(doc.Components.SecuritySchemes) != 0 {
		t.Fatalf("security schemes advertised without auth: %v", doc.Components.SecuritySchemes)
	}

	secured := fetchOpenAPI(t, newTestServer(t, AuthConfig{JWTSecret: "k"}))
	if _, ok := secured.Components.SecuritySchemes["bearerAuth"]; !ok {
		t.Fatalf("openapi missing bearerAuth scheme")
	}
}

func TestHealthReportsLockMode(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	var h HealthResponse
	if err := json.Unmarshal(data, &h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" || h.LockMode != string(srv.Engine.Locker.Mode()) {
		t.Fatalf("health = %+v", h)
	}
}

func TestJWTTeamClaimDefaultsTeam(t *testing.T) {
	const secret = "team-secret"
	srv := newTestServer(t, AuthConfig{JWTSecret: secret})
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, agentClaims{
		Team:             "infra",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "agent-7"},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	headers := map[string]string{"Authorization": "Bearer " + signed}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/agents", map[string]any{}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("register: %d %s", res.StatusCode, data)
	}
	var agent domain.Agent
	_ = json.Unmarshal(data, &agent)
	if agent.ID != "agent-7" || agent.Team != "infra" {
		t.Fatalf("agent = %+v", agent)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi should not need a token: %d %s", res.StatusCode, data)
	}
}
