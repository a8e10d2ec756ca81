// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// Package cloud drives the gcloud CLI to create, inspect and delete
// Compute Engine instances.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/stagehand-ops/stagehand/internal/execx"
)

// ManagedLabel is attached to every instance Stagehand creates.
const ManagedLabel = "managed-by=stagehand"

// ErrNotFound is returned by Describe when the instance does not exist.
var ErrNotFound = errors.New("instance not found")

// Spec is the shape of a new instance.
type Spec struct {
	Name         string
	Zone         string
	MachineType  string
	DiskSizeGB   int
	DiskType     string
	ImageFamily  string
	ImageProject string
	NetworkTags  []string
}

// Instance is the subset of `gcloud compute instances describe` we use.
type Instance struct {
	// ID is the numeric instance id gcloud uses in known_hosts aliases.
	ID          string
	Name        string
	Zone        string
	Status      string
	MachineType string
	ExternalIP  string
	InternalIP  string
}

// describeJSON mirrors the relevant parts of the gcloud JSON output.
type describeJSON struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Status            string `json:"status"`
	MachineType       string `json:"machineType"`
	Zone              string `json:"zone"`
	NetworkInterfaces []struct {
		NetworkIP     string `json:"networkIP"`
		AccessConfigs []struct {
			NatIP string `json:"natIP"`
		} `json:"accessConfigs"`
	} `json:"networkInterfaces"`
}

func (d describeJSON) toInstance() Instance {
	inst := Instance{
		ID:          d.ID,
		Name:        d.Name,
		Status:      d.Status,
		MachineType: path.Base(d.MachineType),
		Zone:        path.Base(d.Zone),
	}
	if len(d.NetworkInterfaces) > 0 {
		ni := d.NetworkInterfaces[0]
		inst.InternalIP = ni.NetworkIP
		for _, ac := range ni.AccessConfigs {
			if ac.NatIP != "" {
				inst.ExternalIP = ac.NatIP
				break
			}
		}
	}
	return inst
}

// GCloud wraps the gcloud binary.
type GCloud struct {
	Runner  execx.Runner
	Project string
	// Binary defaults to "gcloud".
	Binary string
}

// New returns a GCloud bound to project.
func New(r execx.Runner, project string) *GCloud {
	return &GCloud{Runner: r, Project: project}
}

func (g *GCloud) cmd(args ...string) execx.Cmd {
	bin := g.Binary
	if bin == "" {
		bin = "gcloud"
	}
	if g.Project != "" {
		args = append(args, "--project="+g.Project)
	}
	return execx.Command(bin, args...)
}

// CreateCmd builds the instance creation command for s.
func (g *GCloud) CreateCmd(s Spec) execx.Cmd {
	args := []string{
		"compute", "instances", "create", s.Name,
		"--zone=" + s.Zone,
		"--machine-type=" + s.MachineType,
		"--boot-disk-size=" + strconv.Itoa(s.DiskSizeGB) + "GB",
		"--boot-disk-type=" + s.DiskType,
	}
	if s.ImageFamily != "" {
		args = append(args, "--image-family="+s.ImageFamily)
	}
	if s.ImageProject != "" {
		args = append(args, "--image-project="+s.ImageProject)
	}
	if len(s.NetworkTags) > 0 {
		args = append(args, "--tags="+strings.Join(s.NetworkTags, ","))
	}
	args = append(args, "--labels="+ManagedLabel, "--quiet")
	return g.cmd(args...)
}

// Create creates the instance described by s.
func (g *GCloud) Create(ctx context.Context, s Spec) error {
	if err := g.Runner.Run(ctx, g.CreateCmd(s)); err != nil {
		return fmt.Errorf("create instance %s: %w", s.Name, err)
	}
	return nil
}

// Describe fetches the current state of an instance. A missing instance
// yields ErrNotFound. In dry-run mode execx.ErrDryRun is passed through.
func (g *GCloud) Describe(ctx context.Context, name, zone string) (*Instance, error) {
	out, err := g.Runner.Output(ctx, g.cmd("compute", "instances", "describe", name, "--zone="+zone, "--format=json"))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, name, zone)
		}
		return nil, err
	}
	var d describeJSON
	if err := json.Unmarshal(out, &d); err != nil {
		return nil, fmt.Errorf("parse gcloud describe output: %w", err)
	}
	inst := d.toInstance()
	return &inst, nil
}

// Exists reports whether name is present in zone.
func (g *GCloud) Exists(ctx context.Context, name, zone string) (bool, error) {
	_, err := g.Describe(ctx, name, zone)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// List returns all instances carrying the Stagehand label.
func (g *GCloud) List(ctx context.Context) ([]Instance, error) {
	out, err := g.Runner.Output(ctx, g.cmd("compute", "instances", "list", "--filter=labels."+ManagedLabel, "--format=json"))
	if err != nil {
		return nil, err
	}
	var raw []describeJSON
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parse gcloud list output: %w", err)
	}
	res := make([]Instance, 0, len(raw))
	for _, d := range raw {
		res = append(res, d.toInstance())
	}
	return res, nil
}

// Start boots a stopped instance.
func (g *GCloud) Start(ctx context.Context, name, zone string) error {
	if err := g.Runner.Run(ctx, g.cmd("compute", "instances", "start", name, "--zone="+zone, "--quiet")); err != nil {
		return fmt.Errorf("start instance %s: %w", name, err)
	}
	return nil
}

// Delete removes the instance and its boot disk.
func (g *GCloud) Delete(ctx context.Context, name, zone string) error {
	if err := g.Runner.Run(ctx, g.cmd("compute", "instances", "delete", name, "--zone="+zone, "--delete-disks=all", "--quiet")); err != nil {
		return fmt.Errorf("delete instance %s: %w", name, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var ee *execx.ExitError
	if !errors.As(err, &ee) {
		return false
	}
	s := strings.ToLower(ee.Stderr)
	return strings.Contains(s, "was not found") || strings.Contains(s, "notfound")
}

// DialFunc matches net.DialTimeout and exists so tests can fake reachability.
type DialFunc func(network, address string, timeout time.Duration) (net.Conn, error)

// WaitForSSH blocks until addr accepts TCP connections, the timeout elapses
// or ctx is cancelled. This waits for a booting VM; it does not retry
// failed commands.
func WaitForSSH(ctx context.Context, addr string, timeout, interval time.Duration, dial DialFunc) error {
	if dial == nil {
		dial = net.DialTimeout
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		conn, err := dial("tcp", addr, interval)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("ssh on %s not reachable after %s: %w", addr, timeout, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
