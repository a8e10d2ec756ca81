// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// Package instance validates instance names and the provisioning options
// accepted by the create and update commands.
package instance

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidName is wrapped by every name validation failure.
	ErrInvalidName = errors.New("invalid instance name")
	// ErrInvalidOption is wrapped by every option validation failure.
	ErrInvalidOption = errors.New("invalid option")
)

// Compute Engine naming rule: lowercase letter first, then up to 62 of
// lowercase letters, digits or dashes, no trailing dash.
var nameRE = regexp.MustCompile(`^[a-z]([-a-z0-9]{0,61}[a-z0-9])?$`)

var zoneRE = regexp.MustCompile(`^[a-z]+-[a-z]+[0-9]+-[a-z]$`)

var machineTypeRE = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)+$`)

// Install modes understood by the playbook.
const (
	InstallRelease   = "release"
	InstallSource    = "source"
	InstallContainer = "container"
)

// InstallModes lists the accepted --install-mode values.
var InstallModes = []string{InstallRelease, InstallSource, InstallContainer}

// DiskTypes lists the accepted --disk-type values.
var DiskTypes = []string{"pd-standard", "pd-balanced", "pd-ssd", "pd-extreme", "hyperdisk-balanced"}

const (
	MinDiskSizeGB = 10
	MaxDiskSizeGB = 65536
)

// ValidateName checks name against the Compute Engine naming rule.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name must not be empty", ErrInvalidName)
	case len(name) > 63:
		return fmt.Errorf("%w: %q is longer than 63 characters", ErrInvalidName, name)
	case !nameRE.MatchString(name):
		return fmt.Errorf("%w: %q must start with a lowercase letter, contain only lowercase letters, digits and dashes, and not end with a dash", ErrInvalidName, name)
	}
	return nil
}

// Options carries everything create and update need.
type Options struct {
	Project      string
	Zone         string
	MachineType  string
	DiskSizeGB   int
	DiskType     string
	ImageFamily  string
	ImageProject string
	NetworkTags  []string
	InstallMode  string
	AppVersion   string
	Playbook     string
	TailscaleKey string
	DryRun       bool
	Verbose      bool
}

// ValidateZone checks that zone looks like a Compute Engine zone.
func ValidateZone(zone string) error {
	if !zoneRE.MatchString(zone) {
		return fmt.Errorf("%w: zone %q is not of the form region-zone (e.g. europe-west1-b)", ErrInvalidOption, zone)
	}
	return nil
}

// Validate checks the option values. Empty machine-level fields are only
// accepted when forUpdate is set, since update never touches the VM shape.
func (o Options) Validate(forUpdate bool) error {
	if err := ValidateZone(o.Zone); err != nil {
		return err
	}
	if !contains(InstallModes, o.InstallMode) {
		return fmt.Errorf("%w: install mode %q (want one of %s)", ErrInvalidOption, o.InstallMode, strings.Join(InstallModes, ", "))
	}
	if o.TailscaleKey != "" && !strings.HasPrefix(o.TailscaleKey, "tskey-") {
		return fmt.Errorf("%w: tailscale key must start with \"tskey-\"", ErrInvalidOption)
	}
	if forUpdate {
		return nil
	}
	if !machineTypeRE.MatchString(o.MachineType) {
		return fmt.Errorf("%w: machine type %q", ErrInvalidOption, o.MachineType)
	}
	if o.DiskSizeGB < MinDiskSizeGB || o.DiskSizeGB > MaxDiskSizeGB {
		return fmt.Errorf("%w: disk size %dGB outside %d..%d", ErrInvalidOption, o.DiskSizeGB, MinDiskSizeGB, MaxDiskSizeGB)
	}
	if !contains(DiskTypes, o.DiskType) {
		return fmt.Errorf("%w: disk type %q (want one of %s)", ErrInvalidOption, o.DiskType, strings.Join(DiskTypes, ", "))
	}
	return nil
}

// Redact masks a secret for display, keeping a short recognizable prefix.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	const keep = 6
	if len(secret) <= keep {
		return strings.Repeat("*", len(secret))
	}
	return secret[:keep] + strings.Repeat("*", 8)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
