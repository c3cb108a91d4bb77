package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeDescriptor(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDirSourceList(t *testing.T) {
	dir := t.TempDir()

	writeDescriptor(t, dir, "whoami.yaml", `
upstream: http://10.0.0.5:8000
env:
  VIRTUAL_HOST: domaina.de,domainb.com
  AUTO_CERT: "true"
`)
	writeDescriptor(t, dir, "whoami2.yaml", `
id: whoami2
upstream: http://10.0.0.6:8000
env:
  VIRTUAL_HOST: bla.bbo.ovh
  CERT_NAME: domain.de
`)
	// Broken descriptors are skipped, not fatal.
	writeDescriptor(t, dir, "broken.yaml", "upstream: [")
	// Non-descriptor files are ignored.
	writeDescriptor(t, dir, "notes.txt", "ignore me")
	writeDescriptor(t, dir, ".hidden.yaml", "upstream: http://x\nenv:\n  VIRTUAL_HOST: h.de\n")

	src := NewDirSource(dir, nil)
	endpoints, err := src.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if len(endpoints) != 2 {
		t.Fatalf("List() returned %d endpoints, want 2", len(endpoints))
	}
	// Sorted by ID; file name stem is the default ID.
	if endpoints[0].ID != "whoami" || endpoints[1].ID != "whoami2" {
		t.Errorf("endpoint IDs = %q, %q; want whoami, whoami2", endpoints[0].ID, endpoints[1].ID)
	}
	if !endpoints[0].WantsAutoCert {
		t.Error("whoami should want auto cert")
	}
	if endpoints[1].CertName != "domain.de" {
		t.Errorf("whoami2 CertName = %q, want domain.de", endpoints[1].CertName)
	}
}

func TestDirSourceListMissingDir(t *testing.T) {
	src := NewDirSource(filepath.Join(t.TempDir(), "missing"), nil)
	if _, err := src.List(context.Background()); err == nil {
		t.Fatal("List() expected error for missing directory")
	}
}

func TestDirSourceWatch(t *testing.T) {
	dir := t.TempDir()
	src := NewDirSource(dir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _, err := src.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	writeDescriptor(t, dir, "svc.yaml", `
upstream: http://10.0.0.9:8000
env:
  VIRTUAL_HOST: svc.example.com
`)

	select {
	case ev := <-events:
		if ev.EndpointID != "svc" {
			t.Errorf("event endpoint = %q, want svc", ev.EndpointID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for descriptor event")
	}

	cancel()
	// The event channel closes after cancellation.
	select {
	case _, ok := <-events:
		if ok {
			// Drain any trailing event; closure follows.
			for range events {
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch shutdown")
	}
}
