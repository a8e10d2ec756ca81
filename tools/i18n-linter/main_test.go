package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestFlattenYAML(t *testing.T) {
	keys := make(map[string]struct{})
	flattenYAML("", map[string]interface{}{
		"flat.key": "x",
		"nested":   map[string]interface{}{"sub": "y"},
	}, keys)
	for _, want := range []string{"flat.key", "nested.sub"} {
		if _, ok := keys[want]; !ok {
			t.Fatalf("expected %q in %v", want, keys)
		}
	}
}

func TestLint(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "cmd", "a.go"), "package cmd\nfunc f() {\n\t_ = i18n.T(\"greet.hello\")\n\t_ = i18n.T(\"greet.gone\", 1)\n}\n")
	writeFile(t, filepath.Join(root, "cmd", "a_test.go"), "package cmd\nvar _ = i18n.T(\"only.in.tests\")\n")
	writeFile(t, filepath.Join(root, "_examples", "x.go"), "package x\nvar _ = i18n.T(\"pack.key\")\n")
	writeFile(t, filepath.Join(root, localesDir, "en.yaml"), "greet.hello: Hello\nunused.key: Nobody\n")
	writeFile(t, filepath.Join(root, localesDir, "de.yaml"), "greet.hello: Hallo\n")

	r, err := lint(root)
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(r.Undefined) != 1 || r.Undefined["greet.gone"][0] != "cmd/a.go:4" {
		t.Fatalf("undefined = %v", r.Undefined)
	}
	if len(r.Orphaned) != 1 || r.Orphaned[0] != "unused.key" {
		t.Fatalf("orphaned = %v", r.Orphaned)
	}
	if got := r.Missing["de.yaml"]; len(got) != 1 || got[0] != "unused.key" {
		t.Fatalf("missing = %v", r.Missing)
	}

	var out bytes.Buffer
	if code := run(root, &out); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out.String(), "undefined: greet.gone (cmd/a.go:4)") {
		t.Fatalf("unexpected report:\n%s", out.String())
	}
}

func TestRun_Consistent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.go"), "package a\nvar _ = i18n.T(\"k.one\")\n")
	writeFile(t, filepath.Join(root, localesDir, "en.yaml"), "k.one: one\n")
	writeFile(t, filepath.Join(root, localesDir, "de.yaml"), "k.one: eins\n")

	var out bytes.Buffer
	if code := run(root, &out); code != 0 {
		t.Fatalf("expected exit 0, got %d:\n%s", code, out.String())
	}
}

func TestRun_MissingPrimaryLocale(t *testing.T) {
	var out bytes.Buffer
	if code := run(t.TempDir(), &out); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}
