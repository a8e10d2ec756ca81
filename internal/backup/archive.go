// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// Package backup builds, encrypts, inspects and restores archives of an
// instance's application state.
//
// An archive is a compressed tar stream. Its first member is
// stagehand-manifest.json; the remaining members are the backed up trees
// with names relative to "/" on the instance. Archives may be encrypted
// with a passphrase as OpenPGP symmetric messages, readable by gpg.
package backup

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression names accepted in backup.compression.
const (
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// ManifestName is the first member of every archive.
const ManifestName = "stagehand-manifest.json"

// EncryptedSuffix is appended to encrypted archives.
const EncryptedSuffix = ".gpg"

const manifestFormat = 1

// ErrNotBackup is returned for files that do not look like a Stagehand archive.
var ErrNotBackup = errors.New("not a stagehand backup archive")

// Manifest describes the content of an archive.
type Manifest struct {
	Format      int       `json:"format"`
	Instance    string    `json:"instance"`
	Host        string    `json:"host"`
	CreatedAt   time.Time `json:"created_at"`
	Paths       []string  `json:"paths"`
	Skipped     []string  `json:"skipped,omitempty"`
	Compression string    `json:"compression"`
	Version     string    `json:"stagehand_version,omitempty"`
}

func (m Manifest) encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func decodeManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: bad manifest: %v", ErrNotBackup, err)
	}
	if m.Format == 0 || m.Format > manifestFormat {
		return nil, fmt.Errorf("%w: unsupported manifest format %d", ErrNotBackup, m.Format)
	}
	return &m, nil
}

// Extension returns the file suffix for a compression.
func Extension(compression string) (string, error) {
	switch compression {
	case "", CompressionGzip:
		return ".tar.gz", nil
	case CompressionZstd:
		return ".tar.zst", nil
	default:
		return "", fmt.Errorf("unknown compression %q (want %s or %s)", compression, CompressionGzip, CompressionZstd)
	}
}

// ArchiveName builds <instance>-backup-<UTC yyyymmdd-hhmmss><ext>.
func ArchiveName(instance string, t time.Time, compression string) (string, error) {
	ext, err := Extension(compression)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-backup-%s%s", instance, t.UTC().Format("20060102-150405"), ext), nil
}

// InstanceFromName recovers the instance name from an archive file name.
func InstanceFromName(name string) (string, bool) {
	base := filepath.Base(name)
	i := strings.LastIndex(base, "-backup-")
	if i <= 0 {
		return "", false
	}
	return base[:i], true
}

// IsEncrypted reports whether path names an encrypted archive.
func IsEncrypted(path string) bool {
	return strings.HasSuffix(path, EncryptedSuffix)
}

func compressWriter(w io.Writer, compression string) (io.WriteCloser, error) {
	switch compression {
	case "", CompressionGzip:
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case CompressionZstd:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// decompressReader detects the compression from the leading magic bytes.
func decompressReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return gzip.NewReader(br)
	case bytes.HasPrefix(head, zstdMagic):
		d, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("%w: unknown compression", ErrNotBackup)
	}
}
