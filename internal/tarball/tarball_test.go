package tarball

import (
	"archive/tar"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCleanName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"opt/app/data/x", "opt/app/data/x", false},
		{"opt/app/../app/x", "opt/app/x", false},
		{"./etc/app/", "etc/app", false},
		{"/etc/passwd", "", true},
		{"../escape", "", true},
		{"a/../../escape", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanName(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsafePath) {
					t.Fatalf("expected ErrUnsafePath, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("CleanName(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestUnderAndRelPath(t *testing.T) {
	if RelPath("/opt/app/data/") != "opt/app/data" {
		t.Fatalf("RelPath: %q", RelPath("/opt/app/data/"))
	}
	if !Under("opt/app/data/db.sqlite", "opt/app/data") || !Under("opt/app/data/", "opt/app/data") {
		t.Fatalf("expected members under prefix")
	}
	if Under("opt/app/database", "opt/app/data") {
		t.Fatalf("sibling with common prefix must not match")
	}
}

func TestAddTreeAndExtract(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "etc", "app"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "etc", "app", "app.conf"), []byte("port=80\n"), 0o640); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := AddTree(tw, src, "etc/app"); err != nil {
		t.Fatalf("AddTree: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	names, err := Extract(&buf, dst)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(names) != 2 || names[0] != "etc/app" || names[1] != "etc/app/app.conf" {
		t.Fatalf("unexpected members %v", names)
	}
	data, err := os.ReadFile(filepath.Join(dst, "etc", "app", "app.conf"))
	if err != nil || string(data) != "port=80\n" {
		t.Fatalf("content mismatch: %q %v", data, err)
	}
	info, _ := os.Stat(filepath.Join(dst, "etc", "app", "app.conf"))
	if info.Mode().Perm() != 0o640 {
		t.Fatalf("mode not kept: %v", info.Mode().Perm())
	}
}

func TestExtract_RejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := AddBytes(tw, "../../evil", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_ = tw.Close()

	dst := t.TempDir()
	if _, err := Extract(&buf, dst); !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("expected ErrUnsafePath, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(filepath.Dir(dst)), "evil")); !os.IsNotExist(err) {
		t.Fatalf("file escaped destination")
	}
}

func TestExtract_RejectsWriteThroughSymlink(t *testing.T) {
	outside := t.TempDir()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Typeflag: tar.TypeSymlink, Name: "link", Linkname: outside, Mode: 0o777}); err != nil {
		t.Fatal(err)
	}
	if err := AddBytes(tw, "link/owned", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_ = tw.Close()

	if _, err := Extract(&buf, t.TempDir()); !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("expected ErrUnsafePath, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(outside, "owned")); !os.IsNotExist(err) {
		t.Fatalf("file written through symlink")
	}
}

func TestCopy_Filter(t *testing.T) {
	var in bytes.Buffer
	tw := tar.NewWriter(&in)
	for _, n := range []string{"opt/app/data/a", "etc/app/b", "opt/app/config/c"} {
		if err := AddBytes(tw, n, []byte(n), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	_ = tw.Close()

	var out bytes.Buffer
	ow := tar.NewWriter(&out)
	n, err := Copy(ow, tar.NewReader(&in), func(name string) bool { return Under(name, "opt/app") })
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	_ = ow.Close()
	if n != 2 {
		t.Fatalf("expected 2 members, got %d", n)
	}

	tr := tar.NewReader(&out)
	var got []string
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		got = append(got, hdr.Name)
	}
	if len(got) != 2 || got[0] != "opt/app/data/a" || got[1] != "opt/app/config/c" {
		t.Fatalf("unexpected members %v", got)
	}
}
