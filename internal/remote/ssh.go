// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/stagehand-ops/stagehand/internal/execx"
	"github.com/stagehand-ops/stagehand/internal/logging"
	"github.com/stagehand-ops/stagehand/internal/tarball"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes how to reach an instance.
type SSHConfig struct {
	Host       string
	Port       int
	User       string
	KeyPath    string
	KnownHosts string
	// HostKeyAlias is looked up in KnownHosts instead of Host when set.
	// gcloud records instance keys as "compute.<id>".
	HostKeyAlias string
	// Sudo prefixes remote tar invocations with "sudo -n".
	Sudo bool
	// TempDir receives restore uploads; "/tmp" when empty.
	TempDir string
	Timeout time.Duration
}

// SSHHost runs tar on the instance over an SSH connection.
type SSHHost struct {
	cfg    SSHConfig
	client *ssh.Client
	sftp   *sftp.Client
}

var _ Host = (*SSHHost)(nil)

// DialSSH connects to the instance. The private key at KeyPath is tried
// first; if it is missing, encrypted or rejected the ssh-agent is used.
func DialSSH(ctx context.Context, cfg SSHConfig) (*SSHHost, error) {
	hostKeyCallback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	var finalErr error
	if signer, err := loadSigner(cfg.KeyPath); err == nil {
		client, err := dial(ctx, addr, &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.Timeout,
		})
		if err == nil {
			return &SSHHost{cfg: cfg, client: client}, nil
		}
		if !strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("connect to %s: %w", addr, err)
		}
		finalErr = err
	} else {
		logging.Debugf("ssh key %s not usable: %v", cfg.KeyPath, err)
	}

	agentClient := getSSHAgent()
	if agentClient == nil {
		if finalErr != nil {
			return nil, fmt.Errorf("key authentication failed and no ssh agent available: %w", finalErr)
		}
		return nil, fmt.Errorf("no authentication method available (no usable key at %s and no ssh agent found)", cfg.KeyPath)
	}
	client, err := dial(ctx, addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(agentClient.Signers)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s with ssh agent: %w", addr, err)
	}
	return &SSHHost{cfg: cfg, client: client}, nil
}

func dial(ctx context.Context, addr string, cc *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cc.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cc)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func loadSigner(keyPath string) (ssh.Signer, error) {
	if keyPath == "" {
		return nil, errors.New("no key path configured")
	}
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(data)
}

func hostKeyCallback(cfg SSHConfig) (ssh.HostKeyCallback, error) {
	if cfg.KnownHosts == "" {
		return nil, errors.New("no known_hosts file configured")
	}
	cb, err := knownhosts.New(cfg.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", cfg.KnownHosts, err)
	}
	if cfg.HostKeyAlias == "" {
		return cb, nil
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		return cb(cfg.HostKeyAlias, remote, key)
	}, nil
}

func (h *SSHHost) Name() string { return h.cfg.User + "@" + h.cfg.Host }

func (h *SSHHost) sudo(cmd string) string {
	if h.cfg.Sudo {
		return "sudo -n " + cmd
	}
	return cmd
}

// run executes cmd in a new session. A non-zero exit becomes an
// *execx.ExitError carrying the remote stderr.
func (h *SSHHost) run(ctx context.Context, cmd string, stdin io.Reader, stdout io.Writer) error {
	sess, err := h.client.NewSession()
	if err != nil {
		return fmt.Errorf("open ssh session: %w", err)
	}
	defer func() { _ = sess.Close() }()

	var stderr bytes.Buffer
	sess.Stdin = stdin
	sess.Stdout = stdout
	sess.Stderr = &stderr

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = sess.Signal(ssh.SIGTERM)
			_ = sess.Close()
		case <-done:
		}
	}()

	err = sess.Run(cmd)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ee *ssh.ExitError
	if errors.As(err, &ee) {
		return &execx.ExitError{Command: h.Name() + ": " + cmd, Code: ee.ExitStatus(), Stderr: stderr.String()}
	}
	if err != nil {
		return fmt.Errorf("%s: %s: %w", h.Name(), cmd, err)
	}
	return nil
}

// Exists reports whether p is present. test(1) exits 1 silently for a
// missing path; sudo -n also exits 1 when it wants a password, but says so
// on stderr.
func (h *SSHHost) Exists(ctx context.Context, p string) (bool, error) {
	err := h.run(ctx, h.sudo("test -e "+execx.Quote(p)), nil, io.Discard)
	var ee *execx.ExitError
	if errors.As(err, &ee) && ee.Code == 1 {
		if msg := strings.TrimSpace(ee.Stderr); msg != "" {
			return false, fmt.Errorf("check %s on %s: %s", p, h.Name(), msg)
		}
		return false, nil
	}
	return err == nil, err
}

func (h *SSHHost) Fetch(ctx context.Context, p string, w io.Writer) error {
	return h.run(ctx, h.sudo("tar -C / -cpf - "+execx.Quote(tarball.RelPath(p))), nil, w)
}

// Push uploads the stream to a temporary file through SFTP and extracts it
// at "/" with the configured privileges.
func (h *SSHHost) Push(ctx context.Context, r io.Reader) error {
	if h.sftp == nil {
		c, err := sftp.NewClient(h.client)
		if err != nil {
			return fmt.Errorf("failed to create sftp client: %w", err)
		}
		h.sftp = c
	}

	dir := h.cfg.TempDir
	if dir == "" {
		dir = "/tmp"
	}
	tmp := path.Join(dir, fmt.Sprintf("stagehand-restore.%d.tar", time.Now().UnixNano()))
	f, err := h.sftp.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temporary file on remote: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = h.sftp.Remove(tmp)
		return fmt.Errorf("failed to upload restore archive: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = h.sftp.Remove(tmp)
		return fmt.Errorf("failed to upload restore archive: %w", err)
	}
	if err := h.sftp.Chmod(tmp, 0o600); err != nil {
		_ = h.sftp.Remove(tmp)
		return fmt.Errorf("failed to chmod temporary file: %w", err)
	}
	defer func() { _ = h.sftp.Remove(tmp) }()

	return h.run(ctx, h.sudo("tar -C / -xpf "+execx.Quote(tmp)), nil, io.Discard)
}

// Close closes the underlying SSH and SFTP clients.
func (h *SSHHost) Close() error {
	if h.sftp != nil {
		_ = h.sftp.Close()
	}
	if h.client != nil {
		return h.client.Close()
	}
	return nil
}
