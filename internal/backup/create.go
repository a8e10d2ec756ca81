// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

package backup

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/stagehand-ops/stagehand/internal/instance"
	"github.com/stagehand-ops/stagehand/internal/logging"
	"github.com/stagehand-ops/stagehand/internal/remote"
	"github.com/stagehand-ops/stagehand/internal/tarball"
)

// ErrNothingToBackUp is returned when none of the configured paths exist.
var ErrNothingToBackUp = errors.New("none of the backup paths exist on the instance")

// Options configures Create.
type Options struct {
	Instance string
	// Paths are absolute paths on the instance. Missing ones are skipped.
	Paths       []string
	Dir         string
	Compression string
	// Passphrase enables encryption when non-empty.
	Passphrase []byte
	DryRun     bool
	Version    string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Result describes a finished (or, in dry-run mode, planned) archive.
type Result struct {
	Path      string
	Size      int64
	SHA256    string
	Encrypted bool
	Manifest  Manifest
}

// Create archives the configured paths of host into opts.Dir.
func Create(ctx context.Context, host remote.Host, opts Options) (*Result, error) {
	if err := instance.ValidateName(opts.Instance); err != nil {
		return nil, err
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	started := now().UTC()
	name, err := ArchiveName(opts.Instance, started, opts.Compression)
	if err != nil {
		return nil, err
	}
	if len(opts.Passphrase) > 0 {
		name += EncryptedSuffix
	}

	m := Manifest{
		Format:      manifestFormat,
		Instance:    opts.Instance,
		Host:        host.Name(),
		CreatedAt:   started.Truncate(time.Second),
		Compression: opts.Compression,
		Version:     opts.Version,
	}
	if m.Compression == "" {
		m.Compression = CompressionGzip
	}
	for _, p := range opts.Paths {
		if !path.IsAbs(p) {
			return nil, fmt.Errorf("backup path %q is not absolute", p)
		}
		p = path.Clean(p)
		ok, err := host.Exists(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("check %s on %s: %w", p, host.Name(), err)
		}
		if !ok {
			logging.Warnf("skipping %s: not present on %s", p, host.Name())
			m.Skipped = append(m.Skipped, p)
			continue
		}
		m.Paths = append(m.Paths, p)
	}
	if len(m.Paths) == 0 {
		return nil, ErrNothingToBackUp
	}

	res := &Result{
		Path:      filepath.Join(opts.Dir, name),
		Encrypted: len(opts.Passphrase) > 0,
		Manifest:  m,
	}
	if opts.DryRun {
		return res, nil
	}

	b, err := newBuilder(opts.Dir)
	if err != nil {
		return nil, err
	}
	defer b.cleanUp()

	if err := b.fetchAll(ctx, host, m.Paths); err != nil {
		return nil, err
	}
	if err := b.writeArchive(m); err != nil {
		return nil, err
	}
	final := b.archivePath
	if res.Encrypted {
		if err := EncryptFile(b.archivePath+EncryptedSuffix, b.archivePath, opts.Passphrase); err != nil {
			return nil, err
		}
		if err := os.Remove(b.archivePath); err != nil {
			return nil, fmt.Errorf("remove plaintext archive: %w", err)
		}
		final = b.archivePath + EncryptedSuffix
	}

	res.Size, res.SHA256, err = fileDigest(final)
	if err != nil {
		return nil, err
	}
	if err := os.Rename(final, res.Path); err != nil {
		return nil, fmt.Errorf("move archive into place: %w", err)
	}
	return res, nil
}

// builder owns the temporary workspace an archive is assembled in. The
// workspace lives inside the output directory so the final rename stays on
// one filesystem.
type builder struct {
	workDir     string
	parts       []string
	archivePath string
}

func newBuilder(dir string) (*builder, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create backup directory %s: %w", dir, err)
	}
	work, err := os.MkdirTemp(dir, ".stagehand-backup-")
	if err != nil {
		return nil, fmt.Errorf("create backup workspace: %w", err)
	}
	return &builder{workDir: work, archivePath: filepath.Join(work, "archive")}, nil
}

func (b *builder) cleanUp() {
	if err := os.RemoveAll(b.workDir); err != nil {
		logging.Errorf("remove backup workspace %s: %v", b.workDir, err)
	}
}

// fetchAll stages one tar stream per path.
func (b *builder) fetchAll(ctx context.Context, host remote.Host, paths []string) error {
	for i, p := range paths {
		logging.Infof("fetching %s from %s", p, host.Name())
		part := filepath.Join(b.workDir, fmt.Sprintf("part-%03d.tar", i))
		f, err := os.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return err
		}
		err = host.Fetch(ctx, p, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("fetch %s: %w", p, err)
		}
		b.parts = append(b.parts, part)
	}
	return nil
}

// writeArchive writes the manifest followed by the members of every part
// that lie below their path.
func (b *builder) writeArchive(m Manifest) error {
	out, err := os.OpenFile(b.archivePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	cw, err := compressWriter(out, m.Compression)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(cw)

	data, err := m.encode()
	if err != nil {
		return err
	}
	if err := tarball.AddBytes(tw, ManifestName, data, 0o644); err != nil {
		return err
	}

	for i, part := range b.parts {
		prefix := tarball.RelPath(m.Paths[i])
		if err := copyPart(tw, part, prefix); err != nil {
			return fmt.Errorf("add %s: %w", m.Paths[i], err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}
	return out.Close()
}

func copyPart(tw *tar.Writer, part, prefix string) error {
	f, err := os.Open(part)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = tarball.Copy(tw, tar.NewReader(f), func(name string) bool {
		return tarball.Under(name, prefix)
	})
	return err
}

func fileDigest(p string) (int64, string, error) {
	f, err := os.Open(p)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
