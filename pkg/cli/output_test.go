package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(FormatJSON)

	data := map[string]string{"name": "web.example.com"}
	if err := f.FormatTo(&buf, data); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"name": "web.example.com"`) {
		t.Errorf("output = %q", buf.String())
	}
}

func TestTextFormatterFallback(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter("bogus")

	if err := f.FormatTo(&buf, "hello"); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "hello\n" {
		t.Errorf("output = %q", buf.String())
	}
}
