package db

import (
	"os"
	"testing"
)

func TestOpenCreatesIndexAndRemoveDeletesIt(t *testing.T) {
	ws := t.TempDir()
	conn, err := Open(Config{Workspace: ws})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := conn.Exec(`CREATE TABLE probe (id INTEGER)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	var mode string
	if err := conn.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
	conn.Close()
	if _, err := os.Stat(Path(ws)); err != nil {
		t.Fatalf("index missing: %v", err)
	}
	if err := Remove(ws); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(Path(ws)); !os.IsNotExist(err) {
		t.Fatalf("index still present: %v", err)
	}
	if err := Remove(ws); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}
