// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/stagehand-ops/stagehand/internal/ansible"
	"github.com/stagehand-ops/stagehand/internal/cloud"
	"github.com/stagehand-ops/stagehand/internal/config"
	"github.com/stagehand-ops/stagehand/internal/execx"
	"github.com/stagehand-ops/stagehand/internal/i18n"
	"github.com/stagehand-ops/stagehand/internal/instance"
	"github.com/stagehand-ops/stagehand/internal/provision"
)

// errAborted is returned when a confirmation prompt is declined.
var errAborted = errors.New("aborted")

// nameArgs validates the instance name before any hook runs, so a
// malformed name never reaches configuration loading or an external tool.
func nameArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return err
		}
		return instance.ValidateName(args[0])
	}
}

// provisionFlags are shared by create and update.
type provisionFlags struct {
	tailscaleKey string
	dryRun       bool
}

func addProvisionFlags(cmd *cobra.Command, pf *provisionFlags, forUpdate bool) {
	f := cmd.Flags()
	f.String("zone", "", "Compute Engine zone (env STAGEHAND_CLOUD_ZONE, CLOUDSDK_COMPUTE_ZONE)")
	f.String("project", "", "Google Cloud project (env STAGEHAND_CLOUD_PROJECT, CLOUDSDK_CORE_PROJECT)")
	f.String("install-mode", "", "How the application is installed: "+strings.Join(instance.InstallModes, ", "))
	f.String("app-version", "", "Application version to install")
	f.String("playbook", "", "Ansible playbook to run")
	f.StringVar(&pf.tailscaleKey, "tailscale-key", "", "Tailscale auth key (env STAGEHAND_TAILSCALE_KEY)")
	f.BoolVar(&pf.dryRun, "dry-run", false, "Print the commands and files instead of running or writing them")
	config.BindFlag(cmd, "zone", "cloud.zone")
	config.BindFlag(cmd, "project", "cloud.project")
	config.BindFlag(cmd, "install-mode", "app.install_mode")
	config.BindFlag(cmd, "app-version", "app.version")
	config.BindFlag(cmd, "playbook", "app.playbook")

	// The VM shape is fixed once created; update accepts the flags so
	// scripts can pass the same set to both, but ignores them.
	f.String("machine-type", "", "Machine type, e.g. e2-small")
	f.Int("disk-size", 0, "Boot disk size in GB")
	f.String("disk-type", "", "Boot disk type: "+strings.Join(instance.DiskTypes, ", "))
	config.BindFlag(cmd, "machine-type", "cloud.machine_type")
	config.BindFlag(cmd, "disk-size", "cloud.disk_size_gb")
	config.BindFlag(cmd, "disk-type", "cloud.disk_type")
	if forUpdate {
		for _, name := range []string{"machine-type", "disk-size", "disk-type"} {
			_ = f.MarkHidden(name)
		}
	}
}

// options builds instance.Options from the resolved configuration.
func (a *app) options(pf *provisionFlags) instance.Options {
	key := pf.tailscaleKey
	if key == "" {
		key = os.Getenv("STAGEHAND_TAILSCALE_KEY")
	}
	return instance.Options{
		Project:      a.cfg.Cloud.Project,
		Zone:         a.cfg.Cloud.Zone,
		MachineType:  a.cfg.Cloud.MachineType,
		DiskSizeGB:   a.cfg.Cloud.DiskSizeGB,
		DiskType:     a.cfg.Cloud.DiskType,
		ImageFamily:  a.cfg.Cloud.ImageFamily,
		ImageProject: a.cfg.Cloud.ImageProject,
		NetworkTags:  a.cfg.Cloud.NetworkTags,
		InstallMode:  a.cfg.App.InstallMode,
		AppVersion:   a.cfg.App.Version,
		Playbook:     a.cfg.App.Playbook,
		TailscaleKey: key,
		DryRun:       pf.dryRun,
		Verbose:      a.verbose,
	}
}

func (a *app) provisioner(ctx context.Context, dryRun bool) (*provision.Provisioner, func()) {
	r := a.runner(dryRun)
	p := &provision.Provisioner{
		Cloud:    cloud.New(r, a.cfg.Cloud.Project),
		Playbook: &ansible.Playbook{Runner: r},
		StateDir: a.cfg.StateDir,
		SSH: provision.SSH{
			User:    a.cfg.SSH.User,
			KeyPath: a.cfg.SSH.KeyPath,
			Port:    a.cfg.SSH.Port,
		},
		BackupPaths: a.cfg.Backup.Paths,
	}
	cleanup := func() {}
	if store := a.optionalStore(ctx, dryRun); store != nil {
		p.Store = store
		cleanup = func() { _ = store.Close() }
	}
	return p, cleanup
}

func newCreateCmd(a *app) *cobra.Command {
	pf := &provisionFlags{}
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an instance and configure it with Ansible",
		Long: `Creates a Compute Engine instance with gcloud, waits for SSH, writes the
inventory and vars files under the state directory and runs the playbook.
Existing inventory and vars files are kept as they are.`,
		Args: nameArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := a.options(pf)
			if err := opts.Validate(false); err != nil {
				return err
			}
			if !pf.dryRun {
				if err := execx.RequireTools("gcloud", "ansible-playbook"); err != nil {
					return err
				}
			}
			p, cleanup := a.provisioner(cmd.Context(), pf.dryRun)
			defer cleanup()

			res, err := p.Create(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			a.reportFiles(res)
			if pf.dryRun {
				fmt.Fprintln(a.out, i18n.T("create.dry_run_notice"))
				return nil
			}
			fmt.Fprintln(a.out, i18n.T("create.success", args[0], res.Instance.ExternalIP))
			return nil
		},
	}
	addProvisionFlags(cmd, pf, false)
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	pf := &provisionFlags{}
	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Re-run the playbook against an existing instance",
		Long: `Starts the instance if it is stopped and runs the playbook with the
"update" tag. Inventory and vars files are only written when missing.`,
		Args: nameArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := a.options(pf)
			if err := opts.Validate(true); err != nil {
				return err
			}
			if !pf.dryRun {
				if err := execx.RequireTools("gcloud", "ansible-playbook"); err != nil {
					return err
				}
			}
			p, cleanup := a.provisioner(cmd.Context(), pf.dryRun)
			defer cleanup()

			res, err := p.Update(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			a.reportFiles(res)
			if pf.dryRun {
				fmt.Fprintln(a.out, i18n.T("create.dry_run_notice"))
				return nil
			}
			fmt.Fprintln(a.out, i18n.T("update.success", args[0]))
			return nil
		},
	}
	addProvisionFlags(cmd, pf, true)
	return cmd
}

func (a *app) reportFiles(res *provision.Result) {
	for _, f := range []struct {
		path    string
		written bool
	}{
		{res.Files.Inventory, res.InventoryWritten},
		{res.Files.Vars, res.VarsWritten},
	} {
		if f.written {
			fmt.Fprintln(a.out, i18n.T("create.file_written", f.path))
		} else {
			fmt.Fprintln(a.out, i18n.T("create.file_kept", f.path))
		}
	}
}

func newDestroyCmd(a *app) *cobra.Command {
	var yes, keepState, dryRun bool
	cmd := &cobra.Command{
		Use:   "destroy <name>",
		Short: "Delete an instance and its generated files",
		Args:  nameArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, zone := args[0], a.cfg.Cloud.Zone
			if err := instance.ValidateZone(zone); err != nil {
				return err
			}
			if !dryRun && !yes {
				ok, err := confirm(cmd.InOrStdin(), a.out, i18n.T("destroy.confirm", name, zone))
				if err != nil {
					return err
				}
				if !ok {
					return errAborted
				}
			}
			if !dryRun {
				if err := execx.RequireTools("gcloud"); err != nil {
					return err
				}
			}
			p, cleanup := a.provisioner(cmd.Context(), dryRun)
			defer cleanup()
			if err := p.Destroy(cmd.Context(), name, zone, keepState, dryRun); err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintln(a.out, i18n.T("create.dry_run_notice"))
				return nil
			}
			fmt.Fprintln(a.out, i18n.T("destroy.success", name))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	cmd.Flags().BoolVar(&keepState, "keep-state", false, "Keep the inventory and vars files")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the commands instead of running them")
	cmd.Flags().String("zone", "", "Compute Engine zone")
	config.BindFlag(cmd, "zone", "cloud.zone")
	return cmd
}

// confirm prints prompt and reads one line from in. Anything but y/yes,
// including end of input, declines.
func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	fmt.Fprintln(out)
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "j", "ja":
		return true, nil
	}
	return false, nil
}
