package reload

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"mercator-hq/janus/pkg/registry"
	"mercator-hq/janus/pkg/routes"
)

// recordingTarget counts Apply calls and remembers the last table.
type recordingTarget struct {
	mu      sync.Mutex
	applies int
	last    *routes.Table
}

func (r *recordingTarget) Apply(table *routes.Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applies++
	r.last = table
}

func (r *recordingTarget) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applies
}

func buildTable(t *testing.T, eps ...registry.ServiceEndpoint) *routes.Table {
	t.Helper()
	table, err := routes.Build(eps)
	if err != nil && !errors.Is(err, routes.ErrNoEndpoints) {
		t.Fatal(err)
	}
	return table
}

func webEndpoint(id, upstream, host string) registry.ServiceEndpoint {
	return registry.ServiceEndpoint{
		ID:          id,
		Upstream:    upstream,
		HostAliases: []string{host},
	}
}

func TestApplyWritesArtifactAndPublishes(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "routes.conf")
	target := &recordingTarget{}
	c := NewController(target, artifact, nil)

	table := buildTable(t, webEndpoint("web", "http://10.0.0.2:80", "example.com"))
	if err := c.Apply(table); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if target.count() != 1 {
		t.Fatalf("target applied %d times, want 1", target.count())
	}

	data, err := os.ReadFile(artifact)
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	if !strings.Contains(string(data), "route example.com") {
		t.Errorf("artifact missing route block:\n%s", data)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	target := &recordingTarget{}
	c := NewController(target, filepath.Join(t.TempDir(), "routes.conf"), nil)

	table := buildTable(t, webEndpoint("web", "http://10.0.0.2:80", "example.com"))

	if err := c.Apply(table); err != nil {
		t.Fatal(err)
	}
	// The same table again: no observable change.
	if err := c.Apply(table); err != nil {
		t.Fatal(err)
	}
	if target.count() != 1 {
		t.Errorf("target applied %d times, want 1 (second apply must be a no-op)", target.count())
	}

	// An equal-but-rebuilt table is also a no-op.
	rebuilt := buildTable(t, webEndpoint("web", "http://10.0.0.2:80", "example.com"))
	if err := c.Apply(rebuilt); err != nil {
		t.Fatal(err)
	}
	if target.count() != 1 {
		t.Errorf("rebuilt identical table triggered a reload")
	}
}

func TestApplyRejectsInvalidTableKeepsPrevious(t *testing.T) {
	target := &recordingTarget{}
	c := NewController(target, filepath.Join(t.TempDir(), "routes.conf"), nil)

	good := buildTable(t, webEndpoint("web", "http://10.0.0.2:80", "example.com"))
	if err := c.Apply(good); err != nil {
		t.Fatal(err)
	}

	bad := buildTable(t, webEndpoint("bad", "ftp://10.0.0.3", "bad.example.com"))
	err := c.Apply(bad)
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("Apply(bad) error = %v, want ErrConfigInvalid", err)
	}

	// The previous configuration remains active.
	if target.count() != 1 {
		t.Errorf("invalid table reached the target")
	}
	target.mu.Lock()
	last := target.last
	target.mu.Unlock()
	if _, ok := last.Lookup("example.com"); !ok {
		t.Error("previous table lost after failed reload")
	}
}

func TestRenderDeterministic(t *testing.T) {
	table := buildTable(t,
		webEndpoint("b", "http://10.0.0.3:80", "b.example.com"),
		webEndpoint("a", "http://10.0.0.2:80", "a.example.com"),
	)

	first, err := Render(table)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Render(table)
	if err != nil {
		t.Fatal(err)
	}
	if Fingerprint(first) != Fingerprint(second) {
		t.Error("same table rendered different artifacts")
	}

	// Hosts appear in sorted order.
	a := strings.Index(string(first), "route a.example.com")
	b := strings.Index(string(first), "route b.example.com")
	if a == -1 || b == -1 || a > b {
		t.Errorf("artifact not sorted by host:\n%s", first)
	}
}

func TestValidateTable(t *testing.T) {
	tests := []struct {
		name     string
		upstream string
		wantErr  bool
	}{
		{"http upstream", "http://10.0.0.2:80", false},
		{"https upstream", "https://10.0.0.2:443", false},
		{"bad scheme", "ftp://10.0.0.2", true},
		{"no host", "http://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := buildTable(t, webEndpoint("svc", tt.upstream, "svc.example.com"))
			err := ValidateTable(table)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTable() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequestSupersedesPending(t *testing.T) {
	target := &recordingTarget{}
	c := NewController(target, "", nil)

	first := buildTable(t, webEndpoint("one", "http://10.0.0.2:80", "one.example.com"))
	second := buildTable(t, webEndpoint("two", "http://10.0.0.3:80", "two.example.com"))

	// Without a running loop both requests land in the pending slot;
	// the second supersedes the first.
	if err := c.Request(first); err != nil {
		t.Fatal(err)
	}
	if err := c.Request(second); err != nil {
		t.Fatal(err)
	}

	pending := <-c.pending
	if _, ok := pending.Lookup("two.example.com"); !ok {
		t.Error("pending slot holds superseded table")
	}
	select {
	case <-c.pending:
		t.Error("more than one pending reload queued")
	default:
	}
}
