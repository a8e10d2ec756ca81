// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

package remote

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/stagehand-ops/stagehand/internal/tarball"
)

// LocalHost serves the Host contract from a directory tree. Root "/" means
// the machine stagehand runs on.
type LocalHost struct {
	Root string
}

var _ Host = (*LocalHost)(nil)

func (h *LocalHost) root() string {
	if h.Root == "" {
		return string(filepath.Separator)
	}
	return h.Root
}

func (h *LocalHost) Name() string { return "local:" + h.root() }

func (h *LocalHost) Exists(_ context.Context, p string) (bool, error) {
	_, err := os.Lstat(filepath.Join(h.root(), filepath.FromSlash(tarball.RelPath(p))))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (h *LocalHost) Fetch(ctx context.Context, p string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tw := tar.NewWriter(w)
	if err := tarball.AddTree(tw, h.root(), tarball.RelPath(p)); err != nil {
		return err
	}
	return tw.Close()
}

func (h *LocalHost) Push(ctx context.Context, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := tarball.Extract(r, h.root())
	return err
}

func (h *LocalHost) Close() error { return nil }
