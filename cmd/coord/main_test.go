package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"coordline/internal/config"
	"coordline/internal/domain"
	"coordline/internal/state"
)

var workIDPattern = regexp.MustCompile(`^[0-9]+_[0-9a-f]{12}$`)

// run executes the CLI against dir and returns stdout.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"-w", dir}, args...))
	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := run(t, dir, args...)
	if err != nil {
		t.Fatalf("coord %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestClaimPrintsIDAndCompletes(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "--agent-id", "a1", "--team", "core", "register", "3")
	id := strings.TrimSpace(mustRun(t, dir, "--agent-id", "a1", "claim", "feature", "login page", "high", "--story-points", "5"))
	if !workIDPattern.MatchString(id) {
		t.Fatalf("claim printed %q", id)
	}
	mustRun(t, dir, "progress", id, "50", "testing")

	out := mustRun(t, dir, "--json", "list-work", "--agent", "a1")
	var items []domain.WorkItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode list-work: %v\n%s", err, out)
	}
	if len(items) != 1 || items[0].StatusLabel != "testing" || items[0].Team != "core" {
		t.Fatalf("unexpected items %+v", items)
	}

	mustRun(t, dir, "complete", id, "success")
	log, err := state.New(dir).LoadLog()
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 1 || log[0].StoryPointsEarned != 5 {
		t.Fatalf("unexpected log %+v", log)
	}
}

func TestExitCodes(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "progress", "missing_000000000000", "10")
	if code := exitCode(err); code != exitNotFound {
		t.Fatalf("unknown id exit = %d (%v), want %d", code, err, exitNotFound)
	}
	if _, statErr := os.Stat(filepath.Join(dir, state.WorkFile)); !os.IsNotExist(statErr) {
		t.Fatalf("failed progress must not create %s", state.WorkFile)
	}

	_, err = run(t, dir, "progress", "x", "ten")
	if code := exitCode(err); code != exitGeneral {
		t.Fatalf("bad percentage exit = %d, want %d", code, exitGeneral)
	}

	id := strings.TrimSpace(mustRun(t, dir, "--agent-id", "a1", "claim", "bug", "crash"))
	mustRun(t, dir, "complete", id, "failed")
	_, err = run(t, dir, "complete", id, "success")
	if code := exitCode(err); code != exitTerminal {
		t.Fatalf("second complete exit = %d (%v), want %d", code, err, exitTerminal)
	}
}

func TestExitCodesFromConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "agents:\n  auto_register: false\n  enforce_capacity: true\n")

	_, err := run(t, dir, "--agent-id", "ghost", "claim", "bug", "x")
	if code := exitCode(err); code != exitAgentNotFound {
		t.Fatalf("unregistered exit = %d (%v), want %d", code, err, exitAgentNotFound)
	}

	mustRun(t, dir, "--agent-id", "small", "register", "1")
	mustRun(t, dir, "--agent-id", "small", "claim", "bug", "first")
	_, err = run(t, dir, "--agent-id", "small", "claim", "bug", "second")
	if code := exitCode(err); code != exitCapacity {
		t.Fatalf("capacity exit = %d (%v), want %d", code, err, exitCapacity)
	}
}

func TestCorruptStateIsGeneralError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, state.WorkFile), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := run(t, dir, "--agent-id", "a1", "claim", "bug", "x")
	if code := exitCode(err); code != exitGeneral || domain.Kind(err) != domain.KindCorruptState {
		t.Fatalf("corrupt exit = %d kind %s", code, domain.Kind(err))
	}
	data, _ := os.ReadFile(filepath.Join(dir, state.WorkFile))
	if string(data) != "{not json" {
		t.Fatalf("corrupt file was rewritten: %q", data)
	}
}

func TestReportErrorJSON(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "--json", "progress", "nope", "5")
	if err == nil {
		t.Fatal("expected error")
	}
	var stdout, stderr bytes.Buffer
	code := reportError(&stdout, &stderr, err)
	if code != exitNotFound {
		t.Fatalf("code = %d", code)
	}
	var env errorEnvelope
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v\n%s", err, stdout.String())
	}
	if env.Error.Kind != domain.KindNotFound || env.Error.ExitCode != exitNotFound {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if !strings.HasPrefix(stderr.String(), "error:") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestLegacyEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("COORDINATION_DIR", dir)
	t.Setenv("AGENT_ID", "env-agent")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"register"})
	if err := root.Execute(); err != nil {
		t.Fatalf("register: %v", err)
	}
	if strings.TrimSpace(out.String()) != "env-agent" {
		t.Fatalf("register printed %q", out.String())
	}
	agents, err := state.New(dir).LoadAgents()
	if err != nil || len(agents) != 1 || agents[0].ID != "env-agent" {
		t.Fatalf("agents = %+v, %v", agents, err)
	}
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "config", "init")
	if _, err := config.Load(dir); err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if _, err := run(t, dir, "config", "init"); exitCode(err) != exitGeneral {
		t.Fatalf("second init should refuse, got %v", err)
	}
	mustRun(t, dir, "config", "init", "--force")
}

func TestTelemetryTailAndStats(t *testing.T) {
	dir := t.TempDir()
	id := strings.TrimSpace(mustRun(t, dir, "--agent-id", "a1", "claim", "bug", "x"))
	mustRun(t, dir, "complete", id, "success")

	out := mustRun(t, dir, "--json", "telemetry", "tail", "-n", "1")
	var spans []map[string]any
	if err := json.Unmarshal([]byte(out), &spans); err != nil || len(spans) != 1 {
		t.Fatalf("tail = %s (%v)", out, err)
	}
	if spans[0]["operation_name"] != "work.complete" {
		t.Fatalf("last span = %v", spans[0]["operation_name"])
	}

	out = mustRun(t, dir, "--json", "telemetry", "trace", id)
	if err := json.Unmarshal([]byte(out), &spans); err != nil || len(spans) < 2 {
		t.Fatalf("trace = %s (%v)", out, err)
	}

	out = mustRun(t, dir, "telemetry", "stats")
	if !strings.Contains(out, "work.claim") {
		t.Fatalf("stats missing work.claim:\n%s", out)
	}
	viper.Reset()
}

func TestTelemetryReindex(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "--agent-id", "a1", "register")
	mustRun(t, dir, "telemetry", "stats")
	out := mustRun(t, dir, "telemetry", "reindex")
	if strings.TrimSpace(out) != "indexed 1 spans" {
		t.Fatalf("reindex printed %q", out)
	}
	viper.Reset()
}
