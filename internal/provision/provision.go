// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// Package provision drives instance creation, update and removal: gcloud for
// the VM, generated inventory and vars files, then ansible-playbook.
package provision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/stagehand-ops/stagehand/internal/ansible"
	"github.com/stagehand-ops/stagehand/internal/cloud"
	"github.com/stagehand-ops/stagehand/internal/execx"
	"github.com/stagehand-ops/stagehand/internal/instance"
	"github.com/stagehand-ops/stagehand/internal/logging"
	"github.com/stagehand-ops/stagehand/internal/model"
)

// ErrAlreadyExists is returned by Create when the VM is already present.
var ErrAlreadyExists = errors.New("instance already exists")

// DryRunAddress stands in for the external IP in dry-run output.
const DryRunAddress = "<external-ip>"

// Recorder receives instance outcomes. *db.BunStore satisfies it.
type Recorder interface {
	UpsertInstance(ctx context.Context, i *model.Instance) error
}

// SSH is the login used in the generated inventory.
type SSH struct {
	User    string
	KeyPath string
	Port    int
}

// Provisioner runs the create, update and destroy flows.
type Provisioner struct {
	Cloud    *cloud.GCloud
	Playbook *ansible.Playbook
	StateDir string
	SSH      SSH
	// BackupPaths end up in the vars file so the playbook knows what to keep.
	BackupPaths []string
	// Store is optional.
	Store Recorder
	// SSHTimeout bounds the wait for a freshly created VM. Zero means 5m.
	SSHTimeout time.Duration
	// Dial is used by the SSH wait; nil means net.DialTimeout.
	Dial cloud.DialFunc
}

// Result describes what a create or update did.
type Result struct {
	Instance         *cloud.Instance
	Files            ansible.Files
	InventoryWritten bool
	VarsWritten      bool
}

// Create provisions a new VM named name and installs the application.
// Every step aborts the run on failure.
func (p *Provisioner) Create(ctx context.Context, name string, opts instance.Options) (*Result, error) {
	if err := instance.ValidateName(name); err != nil {
		return nil, err
	}
	if err := opts.Validate(false); err != nil {
		return nil, err
	}

	exists, err := p.Cloud.Exists(ctx, name, opts.Zone)
	if err != nil && !errors.Is(err, execx.ErrDryRun) {
		return nil, fmt.Errorf("check instance %s: %w", name, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s in %s", ErrAlreadyExists, name, opts.Zone)
	}

	p.record(ctx, opts, model.Instance{
		Name:        name,
		Zone:        opts.Zone,
		MachineType: opts.MachineType,
		DiskSizeGB:  opts.DiskSizeGB,
		DiskType:    opts.DiskType,
		InstallMode: opts.InstallMode,
		Status:      model.StatusProvisioning,
	})

	res, err := p.create(ctx, name, opts)
	if err != nil {
		p.record(ctx, opts, model.Instance{Name: name, Status: model.StatusFailed})
		return nil, err
	}
	p.record(ctx, opts, model.Instance{Name: name, ExternalIP: res.Instance.ExternalIP, Status: model.StatusRunning})
	return res, nil
}

func (p *Provisioner) create(ctx context.Context, name string, opts instance.Options) (*Result, error) {
	logging.Infof("creating instance %s in %s (%s, %dGB %s)", name, opts.Zone, opts.MachineType, opts.DiskSizeGB, opts.DiskType)
	err := p.Cloud.Create(ctx, cloud.Spec{
		Name:         name,
		Zone:         opts.Zone,
		MachineType:  opts.MachineType,
		DiskSizeGB:   opts.DiskSizeGB,
		DiskType:     opts.DiskType,
		ImageFamily:  opts.ImageFamily,
		ImageProject: opts.ImageProject,
		NetworkTags:  opts.NetworkTags,
	})
	if err != nil {
		return nil, err
	}

	inst, err := p.describe(ctx, name, opts.Zone)
	if err != nil {
		return nil, err
	}

	if !opts.DryRun {
		addr := net.JoinHostPort(inst.ExternalIP, strconv.Itoa(p.sshPort()))
		logging.Infof("waiting for ssh on %s", addr)
		if err := cloud.WaitForSSH(ctx, addr, p.sshTimeout(), 0, p.Dial); err != nil {
			return nil, err
		}
	}

	return p.configure(ctx, name, inst, opts, nil)
}

// Update re-runs the playbook against an existing VM with the update tag.
// Generated files that already exist are used as they are.
func (p *Provisioner) Update(ctx context.Context, name string, opts instance.Options) (*Result, error) {
	if err := instance.ValidateName(name); err != nil {
		return nil, err
	}
	if err := opts.Validate(true); err != nil {
		return nil, err
	}

	// A stopped VM has no ephemeral address yet, so the first lookup
	// must not insist on one.
	inst, err := p.lookup(ctx, name, opts.Zone)
	if err != nil {
		return nil, err
	}
	if inst.Status != "" && inst.Status != "RUNNING" && !opts.DryRun {
		logging.Infof("instance %s is %s, starting it", name, inst.Status)
		if err := p.Cloud.Start(ctx, name, opts.Zone); err != nil {
			return nil, err
		}
		if inst, err = p.describe(ctx, name, opts.Zone); err != nil {
			return nil, err
		}
	} else if inst.ExternalIP == "" {
		return nil, fmt.Errorf("instance %s has no external IP", name)
	}

	res, err := p.configure(ctx, name, inst, opts, []string{"update"})
	if err != nil {
		p.record(ctx, opts, model.Instance{Name: name, Zone: opts.Zone, Status: model.StatusFailed})
		return nil, err
	}
	p.record(ctx, opts, model.Instance{Name: name, Zone: opts.Zone, InstallMode: opts.InstallMode, ExternalIP: inst.ExternalIP, Status: model.StatusRunning})
	return res, nil
}

// Destroy deletes the VM and, unless keepState is set, its generated files.
func (p *Provisioner) Destroy(ctx context.Context, name, zone string, keepState, dryRun bool) error {
	if err := instance.ValidateName(name); err != nil {
		return err
	}
	if err := instance.ValidateZone(zone); err != nil {
		return err
	}
	if err := p.Cloud.Delete(ctx, name, zone); err != nil {
		return err
	}
	files := ansible.Paths(p.StateDir, name)
	switch {
	case dryRun:
	case keepState:
		logging.Infof("keeping %s", files.Dir)
	default:
		if err := os.RemoveAll(files.Dir); err != nil {
			return fmt.Errorf("remove %s: %w", files.Dir, err)
		}
	}
	p.record(ctx, instance.Options{DryRun: dryRun}, model.Instance{Name: name, Zone: zone, Status: model.StatusDeleted})
	return nil
}

// configure writes missing inventory and vars files and runs the playbook.
func (p *Provisioner) configure(ctx context.Context, name string, inst *cloud.Instance, opts instance.Options, tags []string) (*Result, error) {
	files := ansible.Paths(p.StateDir, name)
	res := &Result{Instance: inst, Files: files}

	var err error
	res.InventoryWritten, err = ansible.WriteInventory(files, ansible.Host{
		Name:    name,
		Address: inst.ExternalIP,
		User:    p.SSH.User,
		KeyPath: p.SSH.KeyPath,
		Port:    p.sshPort(),
	}, opts.DryRun)
	if err != nil {
		return nil, err
	}
	res.VarsWritten, err = ansible.WriteVars(files, ansible.Vars{
		InstanceName:     name,
		Project:          opts.Project,
		Zone:             opts.Zone,
		InstallMode:      opts.InstallMode,
		AppVersion:       opts.AppVersion,
		TailscaleAuthKey: opts.TailscaleKey,
		BackupPaths:      p.BackupPaths,
	}, opts.DryRun)
	if err != nil {
		return nil, err
	}
	if !opts.DryRun {
		if !res.InventoryWritten {
			logging.Infof("keeping existing %s", files.Inventory)
		}
		if !res.VarsWritten {
			logging.Infof("keeping existing %s", files.Vars)
		}
	}

	err = p.Playbook.Run(ctx, ansible.RunOptions{
		Files:    files,
		Playbook: opts.Playbook,
		Tags:     tags,
		Verbose:  opts.Verbose,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// lookup returns the instance state. In dry-run mode a placeholder is
// returned since nothing was created.
func (p *Provisioner) lookup(ctx context.Context, name, zone string) (*cloud.Instance, error) {
	inst, err := p.Cloud.Describe(ctx, name, zone)
	if errors.Is(err, execx.ErrDryRun) {
		return &cloud.Instance{Name: name, Zone: zone, ExternalIP: DryRunAddress}, nil
	}
	return inst, err
}

// describe is lookup for an instance that must be reachable.
func (p *Provisioner) describe(ctx context.Context, name, zone string) (*cloud.Instance, error) {
	inst, err := p.lookup(ctx, name, zone)
	if err != nil {
		return nil, err
	}
	if inst.ExternalIP == "" {
		return nil, fmt.Errorf("instance %s has no external IP", name)
	}
	return inst, nil
}

func (p *Provisioner) record(ctx context.Context, opts instance.Options, i model.Instance) {
	if p.Store == nil || opts.DryRun {
		return
	}
	if err := p.Store.UpsertInstance(ctx, &i); err != nil {
		logging.Warnf("could not record instance %s: %v", i.Name, err)
	}
}

func (p *Provisioner) sshPort() int {
	if p.SSH.Port > 0 {
		return p.SSH.Port
	}
	return 22
}

func (p *Provisioner) sshTimeout() time.Duration {
	if p.SSHTimeout > 0 {
		return p.SSHTimeout
	}
	return 5 * time.Minute
}
