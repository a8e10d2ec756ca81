// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// Package ansible generates the per-instance inventory and variables files
// and runs ansible-playbook against them.
package ansible

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/goccy/go-yaml"
)

// Files locates the generated files of one instance.
type Files struct {
	Dir       string
	Inventory string
	Vars      string
}

// Paths returns the file layout for name under stateDir.
func Paths(stateDir, name string) Files {
	dir := filepath.Join(stateDir, "instances", name)
	return Files{
		Dir:       dir,
		Inventory: filepath.Join(dir, "inventory.ini"),
		Vars:      filepath.Join(dir, "vars.yml"),
	}
}

// Host is one inventory entry.
type Host struct {
	Name    string
	Address string
	User    string
	KeyPath string
	Port    int
}

// Vars is the variables file handed to the playbook with -e @vars.yml.
type Vars struct {
	InstanceName     string   `yaml:"instance_name"`
	Project          string   `yaml:"gcp_project,omitempty"`
	Zone             string   `yaml:"gcp_zone"`
	InstallMode      string   `yaml:"install_mode"`
	AppVersion       string   `yaml:"app_version"`
	TailscaleAuthKey string   `yaml:"tailscale_auth_key,omitempty"`
	BackupPaths      []string `yaml:"backup_paths,omitempty"`
}

// RenderInventory produces the INI inventory for h.
func RenderInventory(h Host) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Generated by stagehand for %s. Local edits are kept; delete this file to regenerate it.\n", h.Name)
	b.WriteString("[app]\n")
	fmt.Fprintf(&b, "%s ansible_host=%s", h.Name, h.Address)
	if h.User != "" {
		fmt.Fprintf(&b, " ansible_user=%s", h.User)
	}
	if h.KeyPath != "" {
		fmt.Fprintf(&b, " ansible_ssh_private_key_file=%s", h.KeyPath)
	}
	if h.Port != 0 && h.Port != 22 {
		b.WriteString(" ansible_port=" + strconv.Itoa(h.Port))
	}
	b.WriteString("\n\n[app:vars]\nansible_python_interpreter=/usr/bin/python3\n")
	return b.Bytes()
}

// RenderVars produces the YAML variables file.
func RenderVars(v Vars) ([]byte, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("render vars: %w", err)
	}
	header := []byte("# Generated by stagehand. Local edits are kept; delete this file to regenerate it.\n")
	return append(header, data...), nil
}

// WriteInventory writes the inventory unless it already exists. written is
// false when an existing file was left untouched or dryRun is set.
func WriteInventory(f Files, h Host, dryRun bool) (written bool, err error) {
	return writeExclusive(f.Inventory, RenderInventory(h), 0o644, dryRun)
}

// WriteVars writes the variables file unless it already exists. The file
// may hold the Tailscale auth key, so it is created with mode 0600.
func WriteVars(f Files, v Vars, dryRun bool) (written bool, err error) {
	data, err := RenderVars(v)
	if err != nil {
		return false, err
	}
	return writeExclusive(f.Vars, data, 0o600, dryRun)
}

// ReadVars loads a previously generated variables file.
func ReadVars(path string) (*Vars, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v Vars
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &v, nil
}

func writeExclusive(path string, data []byte, perm os.FileMode, dryRun bool) (bool, error) {
	if dryRun {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", path, err)
	}
	return true, nil
}

// Exists reports whether both generated files are present.
func (f Files) Exists() bool {
	if _, err := os.Stat(f.Inventory); err != nil {
		return false
	}
	_, err := os.Stat(f.Vars)
	return err == nil
}
