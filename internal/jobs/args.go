// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

package jobs

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/stagehand-ops/stagehand/internal/instance"
)

// ErrArgNotAllowed is returned for job arguments outside the per-action
// allow-list.
var ErrArgNotAllowed = errors.New("argument not allowed")

type flagSpec struct {
	value  bool // takes a value
	secret bool
}

var (
	commonFlags = map[string]flagSpec{
		"dry-run": {},
		"verbose": {},
	}
	provisionFlags = map[string]flagSpec{
		"zone":          {value: true},
		"project":       {value: true},
		"install-mode":  {value: true},
		"app-version":   {value: true},
		"tailscale-key": {value: true, secret: true},
	}
	shapeFlags = map[string]flagSpec{
		"machine-type": {value: true},
		"disk-size":    {value: true},
		"disk-type":    {value: true},
	}
	backupFlags = map[string]flagSpec{
		"encrypt":     {},
		"compression": {value: true},
	}
)

// actionFlags lists what a job may pass per action. Anything that points
// the child at other files or hosts (--config, --playbook, --local,
// --output and the like) stays on the command line.
var actionFlags = map[string][]map[string]flagSpec{
	"create": {commonFlags, provisionFlags, shapeFlags},
	"update": {commonFlags, provisionFlags},
	"backup": {commonFlags, backupFlags},
}

func lookupFlag(action, name string) (flagSpec, bool) {
	for _, set := range actionFlags[action] {
		if spec, ok := set[name]; ok {
			return spec, true
		}
	}
	return flagSpec{}, false
}

// jobArgs is a vetted argument list.
type jobArgs struct {
	argv    []string // every flag as --name or --name=value
	shown   []string // argv with secret values redacted
	secrets []string
}

// CheckArgs reports whether args may be passed to a job running action.
func CheckArgs(action string, args []string) error {
	_, err := parseArgs(action, args)
	return err
}

func parseArgs(action string, args []string) (*jobArgs, error) {
	if !slices.Contains(Actions, action) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	ja := &jobArgs{}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") || arg == "--" {
			return nil, fmt.Errorf("%w: %q", ErrArgNotAllowed, arg)
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		spec, ok := lookupFlag(action, name)
		if !ok {
			return nil, fmt.Errorf("%w: --%s for %s", ErrArgNotAllowed, name, action)
		}
		if !spec.value {
			if hasValue {
				if _, err := strconv.ParseBool(value); err != nil {
					return nil, fmt.Errorf("%w: --%s=%q", ErrArgNotAllowed, name, value)
				}
				ja.add("--"+name+"="+value, "--"+name+"="+value)
			} else {
				ja.add("--"+name, "--"+name)
			}
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%w: --%s needs a value", ErrArgNotAllowed, name)
			}
			i++
			value = args[i]
		}
		if value == "" || strings.HasPrefix(value, "-") {
			return nil, fmt.Errorf("%w: --%s value %q", ErrArgNotAllowed, name, value)
		}
		shown := value
		if spec.secret {
			ja.secrets = append(ja.secrets, value)
			shown = instance.Redact(value)
		}
		ja.add("--"+name+"="+value, "--"+name+"="+shown)
	}
	return ja, nil
}

func (ja *jobArgs) add(arg, shown string) {
	ja.argv = append(ja.argv, arg)
	ja.shown = append(ja.shown, shown)
}
