package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/danmuck/memexd/internal/admin"
)

func TestVersionCommandPrintsVersion(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute version: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "ingestctl "+admin.Version {
		t.Fatalf("unexpected version output: %q", got)
	}
}

func TestVersionCommandRejectsArgs(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"version", "extra"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected version to reject positional args")
	}
}
