package reload

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"text/template"

	"mercator-hq/janus/pkg/routes"
)

// artifactTemplate is the generated routing artifact. The format is an
// implementation detail; what matters is that the same table always renders
// byte-identical output so reloads can be diffed and deduplicated.
const artifactTemplate = `# janus routing table
# entries: {{len .Entries}}
{{- range .Entries}}

route {{.Host}} {
    upstream {{.Upstream}}
    endpoint {{.EndpointID}}
{{- if .CertName}}
    tls {{.CertName}}
{{- end}}
}
{{- end}}
`

var artifactTmpl = template.Must(template.New("artifact").Parse(artifactTemplate))

// Render produces the deterministic configuration artifact for a table.
// Entries are already sorted by host, so equal tables render equal bytes.
func Render(table *routes.Table) ([]byte, error) {
	var buf bytes.Buffer
	if err := artifactTmpl.Execute(&buf, struct{ Entries []routes.Entry }{table.Entries()}); err != nil {
		return nil, fmt.Errorf("failed to render routing artifact: %w", err)
	}
	return buf.Bytes(), nil
}

// Fingerprint returns the hex SHA-256 of a rendered artifact. Two reloads
// with the same fingerprint are the same reload.
func Fingerprint(artifact []byte) string {
	sum := sha256.Sum256(artifact)
	return hex.EncodeToString(sum[:])
}

// ValidateTable checks a table before it may be swapped in. A table that
// fails here aborts the reload; the previous configuration stays active.
func ValidateTable(table *routes.Table) error {
	seen := make(map[string]struct{}, table.Len())
	for _, e := range table.Entries() {
		if e.Host == "" {
			return &ValidationError{Reason: "entry with empty host"}
		}
		if _, dup := seen[e.Host]; dup {
			return &ValidationError{Host: e.Host, Reason: "duplicate host"}
		}
		seen[e.Host] = struct{}{}

		u, err := url.Parse(e.Upstream)
		if err != nil {
			return &ValidationError{Host: e.Host, Reason: fmt.Sprintf("unparseable upstream %q", e.Upstream)}
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return &ValidationError{Host: e.Host, Reason: fmt.Sprintf("unsupported upstream scheme %q", u.Scheme)}
		}
		if u.Host == "" {
			return &ValidationError{Host: e.Host, Reason: "upstream has no host"}
		}
	}
	return nil
}
