// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/stagehand-ops/stagehand/internal/backup"
	"github.com/stagehand-ops/stagehand/internal/cloud"
	"github.com/stagehand-ops/stagehand/internal/config"
	"github.com/stagehand-ops/stagehand/internal/execx"
	"github.com/stagehand-ops/stagehand/internal/i18n"
	"github.com/stagehand-ops/stagehand/internal/logging"
	"github.com/stagehand-ops/stagehand/internal/remote"
	"github.com/stagehand-ops/stagehand/internal/state"
	"golang.org/x/term"
)

// PassphraseEnv holds the backup passphrase for non-interactive runs.
const PassphraseEnv = "STAGEHAND_BACKUP_PASSPHRASE"

// hostFlags select where backup and restore read and write.
type hostFlags struct {
	local     bool
	localRoot string
}

func addHostFlags(cmd *cobra.Command, hf *hostFlags) {
	cmd.Flags().BoolVar(&hf.local, "local", false, "Operate on this machine instead of connecting over SSH")
	cmd.Flags().StringVar(&hf.localRoot, "local-root", "/", "With --local, the directory treated as /")
}

// passphraseSource resolves the passphrase: --passphrase-file, then the
// environment, then an interactive prompt.
type passphraseSource struct {
	file   string
	getenv func(string) string
	// prompt is nil when stdin is not a terminal.
	prompt func(label string) ([]byte, error)
}

func newPassphraseSource(file string) *passphraseSource {
	ps := &passphraseSource{file: file, getenv: os.Getenv}
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		ps.prompt = func(label string) ([]byte, error) {
			fmt.Fprint(os.Stderr, label)
			defer fmt.Fprintln(os.Stderr)
			return term.ReadPassword(fd)
		}
	}
	return ps
}

func (ps *passphraseSource) get(label string, confirmEntry bool) ([]byte, error) {
	if ps.file != "" {
		data, err := os.ReadFile(ps.file)
		if err != nil {
			return nil, fmt.Errorf("read passphrase file: %w", err)
		}
		p := bytes.TrimRight(data, "\r\n")
		if len(p) == 0 {
			return nil, fmt.Errorf("passphrase file %s is empty", ps.file)
		}
		return p, nil
	}
	if v := ps.getenv(PassphraseEnv); v != "" {
		return []byte(v), nil
	}
	if ps.prompt == nil {
		return nil, fmt.Errorf("%w: use --passphrase-file or %s", backup.ErrNoPassphrase, PassphraseEnv)
	}
	p, err := ps.prompt(label)
	if err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return nil, backup.ErrNoPassphrase
	}
	if confirmEntry {
		again, err := ps.prompt(i18n.T("backup.passphrase_repeat"))
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(p, again) {
			return nil, errors.New(i18n.T("backup.passphrase_mismatch"))
		}
	}
	return p, nil
}

// openHost connects to the instance, or returns the local filesystem.
func (a *app) openHost(ctx context.Context, name string, hf *hostFlags) (remote.Host, error) {
	if hf.local {
		return &remote.LocalHost{Root: hf.localRoot}, nil
	}
	if err := execx.RequireTools("gcloud"); err != nil {
		return nil, err
	}
	inst, err := cloud.New(a.runner(false), a.cfg.Cloud.Project).Describe(ctx, name, a.cfg.Cloud.Zone)
	if err != nil {
		return nil, err
	}
	if inst.ExternalIP == "" {
		return nil, fmt.Errorf("instance %s has no external IP (status %s)", name, inst.Status)
	}
	cfg := remote.SSHConfig{
		Host:       inst.ExternalIP,
		Port:       a.cfg.SSH.Port,
		User:       a.cfg.SSH.User,
		KeyPath:    a.cfg.SSH.KeyPath,
		KnownHosts: a.cfg.SSH.KnownHosts,
		Sudo:       a.cfg.SSH.Sudo,
	}
	if inst.ID != "" {
		cfg.HostKeyAlias = "compute." + inst.ID
	}
	return remote.DialSSH(ctx, cfg)
}

func newBackupCmd(a *app) *cobra.Command {
	hf := &hostFlags{}
	var encrypt, dryRun bool
	var passFile string
	cmd := &cobra.Command{
		Use:   "backup <name>",
		Short: "Archive the application state of an instance",
		Long: `Copies the configured backup paths from the instance into a compressed
tar archive named <name>-backup-<UTC timestamp>.tar.gz (or .tar.zst).
Paths missing on the instance are skipped. With --encrypt the archive is
encrypted with a passphrase and only the .gpg file is kept.`,
		Args: nameArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			opts := backup.Options{
				Instance:    name,
				Paths:       a.cfg.Backup.Paths,
				Dir:         a.cfg.Backup.Dir,
				Compression: a.cfg.Backup.Compression,
				DryRun:      dryRun,
				Version:     toolVersion(),
			}
			if _, err := backup.Extension(opts.Compression); err != nil {
				return err
			}
			if encrypt || a.cfg.Backup.Encrypt {
				if passFile == "" {
					passFile = a.cfg.Backup.PassphraseFile
				}
				if dryRun {
					opts.Passphrase = []byte("dry-run")
				} else {
					p, err := newPassphraseSource(passFile).get(i18n.T("backup.passphrase_prompt"), true)
					if err != nil {
						return err
					}
					opts.Passphrase = p
					defer state.Wipe(p)
				}
			}

			if dryRun && !hf.local {
				// Nothing is contacted in a dry run; show the plan.
				archive, _ := backup.ArchiveName(name, time.Now(), opts.Compression)
				if len(opts.Passphrase) > 0 {
					archive += backup.EncryptedSuffix
				}
				fmt.Fprintln(a.out, i18n.T("backup.plan", strings.Join(opts.Paths, ", "), name, filepath.Join(opts.Dir, archive)))
				fmt.Fprintln(a.out, i18n.T("create.dry_run_notice"))
				return nil
			}

			host, err := a.openHost(cmd.Context(), name, hf)
			if err != nil {
				return err
			}
			defer func() { _ = host.Close() }()

			res, err := backup.Create(cmd.Context(), host, opts)
			if err != nil {
				return err
			}
			for _, p := range res.Manifest.Skipped {
				fmt.Fprintln(a.out, i18n.T("backup.skipped", p))
			}
			if dryRun {
				fmt.Fprintln(a.out, i18n.T("backup.plan", strings.Join(res.Manifest.Paths, ", "), host.Name(), res.Path))
				fmt.Fprintln(a.out, i18n.T("create.dry_run_notice"))
				return nil
			}
			fmt.Fprintln(a.out, i18n.T("backup.success", name, res.Path, humanize.IBytes(uint64(res.Size)), res.SHA256))
			return nil
		},
	}
	cmd.Flags().String("output", "", "Directory the archive is written to")
	cmd.Flags().String("compression", "", "gzip or zstd")
	config.BindFlag(cmd, "output", "backup.dir")
	config.BindFlag(cmd, "compression", "backup.compression")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "Encrypt the archive with a passphrase")
	cmd.Flags().StringVar(&passFile, "passphrase-file", "", "Read the passphrase from this file (env "+PassphraseEnv+")")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be archived without writing anything")
	addHostFlags(cmd, hf)

	cmd.AddCommand(newBackupListCmd(a))
	return cmd
}

func newBackupListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list [dir]",
		Short: "List backup archives",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Backup.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			list, err := backup.List(dir)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(a.out, i18n.T("backup.list_empty", dir))
				return nil
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INSTANCE\tFILE\tSIZE\tAGE\tENCRYPTED")
			for _, info := range list {
				enc := "-"
				if info.Encrypted {
					enc = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					info.Instance, filepath.Base(info.Path), humanize.IBytes(uint64(info.Size)), humanize.Time(info.ModTime), enc)
			}
			return w.Flush()
		},
	}
}

func newRestoreCmd(a *app) *cobra.Command {
	hf := &hostFlags{}
	var only []string
	var passFile string
	var dryRun, yes bool
	cmd := &cobra.Command{
		Use:   "restore <name> <file>",
		Short: "Restore a backup archive onto an instance",
		Long: `Writes the archived paths back onto the instance, preserving ownership
and permissions. --only restricts the restore to some of the archived
paths, given in full or by their last element.`,
		Args: nameArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, archive := args[0], args[1]
			if _, err := os.Stat(archive); err != nil {
				return err
			}
			if passFile == "" {
				passFile = a.cfg.Backup.PassphraseFile
			}
			ps := newPassphraseSource(passFile)
			var secret state.Passphrase
			defer secret.Clear()
			pass := func() ([]byte, error) {
				return secret.Resolve(func() ([]byte, error) {
					return ps.get(i18n.T("restore.passphrase_prompt", filepath.Base(archive)), false)
				})
			}

			m, err := backup.Inspect(archive, pass)
			if err != nil {
				return err
			}
			if m.Instance != name {
				logging.Warnf("%s", i18n.T("restore.instance_mismatch", m.Instance, name))
			}
			paths, err := backup.SelectPaths(*m, only)
			if err != nil {
				return err
			}

			if !dryRun && !yes {
				ok, err := confirm(cmd.InOrStdin(), a.out, i18n.T("restore.confirm", strings.Join(paths, ", "), name))
				if err != nil {
					return err
				}
				if !ok {
					return errAborted
				}
			}

			var host remote.Host = &remote.LocalHost{Root: hf.localRoot}
			if !dryRun {
				host, err = a.openHost(cmd.Context(), name, hf)
				if err != nil {
					return err
				}
			}
			defer func() { _ = host.Close() }()

			plan, err := backup.Restore(cmd.Context(), host, archive, backup.RestoreOptions{
				Passphrase: pass,
				Only:       only,
				DryRun:     dryRun,
				WorkDir:    filepath.Dir(archive),
			})
			if err != nil {
				return err
			}
			for _, p := range plan.Paths {
				fmt.Fprintln(a.out, i18n.T("restore.plan", p, plan.Members[p]))
			}
			if dryRun {
				fmt.Fprintln(a.out, i18n.T("create.dry_run_notice"))
				return nil
			}
			fmt.Fprintln(a.out, i18n.T("restore.success", filepath.Base(archive), name))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&only, "only", nil, "Restore only these archived paths (comma separated)")
	cmd.Flags().StringVar(&passFile, "passphrase-file", "", "Read the passphrase from this file (env "+PassphraseEnv+")")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Read the archive and show what would be restored")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	addHostFlags(cmd, hf)
	return cmd
}
