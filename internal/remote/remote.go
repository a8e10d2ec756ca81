// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// Package remote moves application state to and from an instance as tar
// streams, either over SSH or against a local directory tree.
package remote // import "github.com/stagehand-ops/stagehand/internal/remote"

import (
	"context"
	"io"
)

// Host is a machine whose files can be archived and restored.
type Host interface {
	// Exists reports whether the absolute path is present.
	Exists(ctx context.Context, path string) (bool, error)
	// Fetch writes a tar stream of the absolute path to w. Member names
	// are relative to "/".
	Fetch(ctx context.Context, path string, w io.Writer) error
	// Push extracts the tar stream r at "/".
	Push(ctx context.Context, r io.Reader) error
	// Name identifies the host in logs and manifests.
	Name() string
	Close() error
}
