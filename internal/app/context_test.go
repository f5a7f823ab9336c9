package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"casework/internal/app"
	"casework/internal/config"
	"casework/internal/jsonstore"
	"casework/internal/repo"
)

func TestOpenDefaultsToJSONStore(t *testing.T) {
	dir := t.TempDir()
	ws, err := app.Open(context.Background(), dir, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ws.Close()
	s, ok := ws.Store.(jsonstore.Store)
	if !ok {
		t.Fatalf("expected json store, got %T", ws.Store)
	}
	if s.Dir != filepath.Join(dir, "data") {
		t.Fatalf("unexpected data dir %s", s.Dir)
	}
}

func TestOpenHonoursConfigAndOverride(t *testing.T) {
	dir := t.TempDir()
	yml := "store:\n  driver: sqlite\n"
	if err := os.WriteFile(config.Path(dir), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	ws, err := app.Open(context.Background(), dir, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := ws.Store.(repo.Repo); !ok {
		t.Fatalf("expected sqlite store, got %T", ws.Store)
	}
	ws.Close()

	ws, err = app.Open(context.Background(), dir, app.DriverJSON)
	if err != nil {
		t.Fatalf("open with override: %v", err)
	}
	defer ws.Close()
	if _, ok := ws.Store.(jsonstore.Store); !ok {
		t.Fatalf("override ignored, got %T", ws.Store)
	}
	if _, err := app.Open(context.Background(), dir, "postgres"); err == nil {
		t.Fatalf("expected invalid driver error")
	}
}
