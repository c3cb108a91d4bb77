package cli

import (
	"errors"
	"testing"
)

func TestConfigError(t *testing.T) {
	err := &ConfigError{
		Field:   "acme.email",
		Message: "missing required field",
	}

	expected := "config error in acme.email: missing required field"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}

	bare := &ConfigError{Message: "unreadable file"}
	if bare.Error() != "config error: unreadable file" {
		t.Errorf("Error() = %q", bare.Error())
	}
}

func TestCommandError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := NewCommandError("run", underlying)

	if err.Error() != "command run failed: underlying error" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, underlying) {
		t.Error("Unwrap() lost the underlying error")
	}
}
