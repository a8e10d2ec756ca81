// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

package backup

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/stagehand-ops/stagehand/internal/logging"
	"github.com/stagehand-ops/stagehand/internal/remote"
	"github.com/stagehand-ops/stagehand/internal/tarball"
)

// ErrUnknownPath is returned when --only names a path the archive lacks.
var ErrUnknownPath = errors.New("path not in archive")

// PassphraseFunc supplies the passphrase for an encrypted archive. It is
// only called when one is needed.
type PassphraseFunc func() ([]byte, error)

// StaticPassphrase returns a PassphraseFunc for a known passphrase.
func StaticPassphrase(p []byte) PassphraseFunc {
	return func() ([]byte, error) { return p, nil }
}

// RestoreOptions configures Restore.
type RestoreOptions struct {
	Passphrase PassphraseFunc
	// Only limits the restore to these archived paths. Entries may be the
	// full path or its last element ("data" for /opt/app/data).
	Only   []string
	DryRun bool
	// WorkDir holds the decrypted copy of an encrypted archive. A dry run
	// decrypts in memory and ignores it.
	WorkDir string
}

// RestorePlan reports what was (or would be) restored.
type RestorePlan struct {
	Manifest Manifest
	Paths    []string
	// Members counts the archive members per selected path.
	Members map[string]int
}

// opened is a readable, decrypted, decompressed archive.
type opened struct {
	tr       *tar.Reader
	manifest *Manifest
	closers  []func()
}

func (o *opened) close() {
	for i := len(o.closers) - 1; i >= 0; i-- {
		o.closers[i]()
	}
}

// openArchive reads the manifest member of archive. An encrypted archive
// (name ending in .gpg) is decrypted into a file in workDir, or streamed
// when workDir is empty. Extraction uses the file so the whole message is
// authenticated before anything reaches the host.
func openArchive(archive string, pass PassphraseFunc, workDir string) (*opened, error) {
	o := &opened{}
	var p []byte
	if IsEncrypted(archive) {
		if pass == nil {
			return nil, ErrNoPassphrase
		}
		var err error
		if p, err = pass(); err != nil {
			return nil, err
		}
	}

	src := archive
	if p != nil && workDir != "" {
		tmp, err := os.CreateTemp(workDir, ".stagehand-restore-*")
		if err != nil {
			return nil, fmt.Errorf("create decryption workspace: %w", err)
		}
		_ = tmp.Close()
		o.closers = append(o.closers, func() { _ = os.Remove(tmp.Name()) })
		if err := DecryptFile(tmp.Name(), archive, p); err != nil {
			o.close()
			return nil, err
		}
		src = tmp.Name()
		p = nil
	}

	f, err := os.Open(src)
	if err != nil {
		o.close()
		return nil, err
	}
	o.closers = append(o.closers, func() { _ = f.Close() })

	var in io.Reader = f
	if p != nil {
		if in, err = decryptReader(f, p); err != nil {
			o.close()
			return nil, err
		}
	}

	dr, err := decompressReader(in)
	if err != nil {
		o.close()
		return nil, err
	}
	o.closers = append(o.closers, func() { _ = dr.Close() })

	o.tr = tar.NewReader(dr)
	hdr, err := o.tr.Next()
	if err != nil {
		o.close()
		return nil, fmt.Errorf("%w: %v", ErrNotBackup, err)
	}
	if hdr.Name != ManifestName {
		o.close()
		return nil, fmt.Errorf("%w: first member is %q", ErrNotBackup, hdr.Name)
	}
	if o.manifest, err = decodeManifest(o.tr); err != nil {
		o.close()
		return nil, err
	}
	return o, nil
}

// Inspect returns the manifest of an archive without writing to disk.
func Inspect(archive string, pass PassphraseFunc) (*Manifest, error) {
	o, err := openArchive(archive, pass, "")
	if err != nil {
		return nil, err
	}
	defer o.close()
	return o.manifest, nil
}

// SelectPaths resolves only against the archived paths. An empty only
// selects everything.
func SelectPaths(m Manifest, only []string) ([]string, error) {
	if len(only) == 0 {
		return append([]string(nil), m.Paths...), nil
	}
	var out []string
	seen := map[string]bool{}
	for _, want := range only {
		want = strings.TrimSpace(want)
		if want == "" {
			continue
		}
		match := ""
		for _, p := range m.Paths {
			if p == path.Clean("/"+want) || path.Base(p) == want {
				match = p
				break
			}
		}
		if match == "" {
			return nil, fmt.Errorf("%w: %q (archive holds %s)", ErrUnknownPath, want, strings.Join(m.Paths, ", "))
		}
		if !seen[match] {
			seen[match] = true
			out = append(out, match)
		}
	}
	return out, nil
}

// Restore pushes the selected trees of archive to host. Member names are
// validated before anything is sent. In dry-run mode the archive is read
// but nothing is pushed.
func Restore(ctx context.Context, host remote.Host, archive string, opts RestoreOptions) (*RestorePlan, error) {
	workDir := opts.WorkDir
	switch {
	case opts.DryRun:
		workDir = ""
	case workDir == "":
		workDir = os.TempDir()
	}
	o, err := openArchive(archive, opts.Passphrase, workDir)
	if err != nil {
		return nil, err
	}
	defer o.close()

	paths, err := SelectPaths(*o.manifest, opts.Only)
	if err != nil {
		return nil, err
	}
	plan := &RestorePlan{Manifest: *o.manifest, Paths: paths, Members: map[string]int{}}
	owner := func(name string) (string, bool) {
		for _, p := range paths {
			if tarball.Under(name, tarball.RelPath(p)) {
				return p, true
			}
		}
		return "", false
	}
	keep := func(name string) bool {
		p, ok := owner(name)
		if ok {
			plan.Members[p]++
		}
		return ok
	}

	if opts.DryRun {
		_, err := tarball.Copy(tar.NewWriter(io.Discard), o.tr, keep)
		if err != nil {
			return nil, err
		}
		return plan, nil
	}

	logging.Infof("restoring %s to %s", strings.Join(paths, ", "), host.Name())
	pr, pw := io.Pipe()
	copied := make(chan error, 1)
	go func() {
		tw := tar.NewWriter(pw)
		_, err := tarball.Copy(tw, o.tr, keep)
		if err == nil {
			err = tw.Close()
		}
		_ = pw.CloseWithError(err)
		copied <- err
	}()
	pushErr := host.Push(ctx, pr)
	_ = pr.CloseWithError(pushErr)
	copyErr := <-copied
	if pushErr != nil {
		return nil, fmt.Errorf("push to %s: %w", host.Name(), pushErr)
	}
	if copyErr != nil {
		return nil, fmt.Errorf("read %s: %w", archive, copyErr)
	}
	return plan, nil
}

// ArchiveInfo describes one archive file on disk.
type ArchiveInfo struct {
	Path      string
	Instance  string
	Size      int64
	ModTime   time.Time
	Encrypted bool
}

// List returns the archives in dir, newest first.
func List(dir string) ([]ArchiveInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []ArchiveInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.TrimSuffix(e.Name(), EncryptedSuffix)
		if !strings.HasSuffix(name, ".tar.gz") && !strings.HasSuffix(name, ".tar.zst") {
			continue
		}
		inst, ok := InstanceFromName(name)
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, ArchiveInfo{
			Path:      filepath.Join(dir, e.Name()),
			Instance:  inst,
			Size:      info.Size(),
			ModTime:   info.ModTime(),
			Encrypted: IsEncrypted(e.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Path > out[j].Path
	})
	return out, nil
}
