// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

package ansible

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/stagehand-ops/stagehand/internal/execx"
)

// Playbook runs ansible-playbook through an execx.Runner.
type Playbook struct {
	Runner execx.Runner
	// Binary defaults to "ansible-playbook".
	Binary string
}

// RunOptions selects the playbook and what to pass to it.
type RunOptions struct {
	Files     Files
	Playbook  string
	Tags      []string
	ExtraVars map[string]string
	Verbose   bool
}

// Command builds the ansible-playbook invocation for o.
func (p *Playbook) Command(o RunOptions) execx.Cmd {
	bin := p.Binary
	if bin == "" {
		bin = "ansible-playbook"
	}
	args := []string{"-i", o.Files.Inventory, "-e", "@" + o.Files.Vars}
	keys := make([]string, 0, len(o.ExtraVars))
	for k := range o.ExtraVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+o.ExtraVars[k])
	}
	if len(o.Tags) > 0 {
		args = append(args, "--tags", strings.Join(o.Tags, ","))
	}
	if o.Verbose {
		args = append(args, "-v")
	}
	args = append(args, o.Playbook)
	c := execx.Command(bin, args...)
	c.Env = []string{"ANSIBLE_RETRY_FILES_ENABLED=False"}
	return c
}

// Run executes the playbook.
func (p *Playbook) Run(ctx context.Context, o RunOptions) error {
	if o.Playbook == "" {
		return fmt.Errorf("no playbook configured")
	}
	if err := p.Runner.Run(ctx, p.Command(o)); err != nil {
		return fmt.Errorf("ansible-playbook %s: %w", o.Playbook, err)
	}
	return nil
}
