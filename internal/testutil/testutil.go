// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/stagehand-ops/stagehand/internal/execx"
)

// Response is a canned reply for commands whose rendered form contains Match.
type Response struct {
	Match string
	Out   []byte
	Err   error
	// Once responses are consumed by their first match.
	Once bool
	used bool
}

// FakeRunner records commands and answers them from Responses. The first
// matching response wins; unmatched commands succeed with empty output.
type FakeRunner struct {
	mu        sync.Mutex
	Calls     []execx.Cmd
	Responses []Response
}

// OnOnce registers a response that answers a single matching command.
func (f *FakeRunner) OnOnce(match string, out string, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses = append(f.Responses, Response{Match: match, Out: []byte(out), Err: err, Once: true})
	return f
}

// On registers a response and returns the runner for chaining.
func (f *FakeRunner) On(match string, out string, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses = append(f.Responses, Response{Match: match, Out: []byte(out), Err: err})
	return f
}

func (f *FakeRunner) record(c execx.Cmd) Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, c)
	line := c.String()
	for i := range f.Responses {
		r := &f.Responses[i]
		if r.used || !strings.Contains(line, r.Match) {
			continue
		}
		if r.Once {
			r.used = true
		}
		return *r
	}
	return Response{}
}

// Run implements execx.Runner.
func (f *FakeRunner) Run(_ context.Context, c execx.Cmd) error {
	return f.record(c).Err
}

// Output implements execx.Runner.
func (f *FakeRunner) Output(_ context.Context, c execx.Cmd) ([]byte, error) {
	r := f.record(c)
	return r.Out, r.Err
}

// Lines returns every recorded command rendered as a string.
func (f *FakeRunner) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		out = append(out, c.String())
	}
	return out
}

// Ran reports whether any recorded command contains substr.
func (f *FakeRunner) Ran(substr string) bool {
	for _, l := range f.Lines() {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

// NotFound is the error gcloud describe produces for a missing instance.
func NotFound(name string) error {
	return &execx.ExitError{
		Command: "gcloud compute instances describe " + name,
		Code:    1,
		Stderr:  "ERROR: (gcloud.compute.instances.describe) Could not fetch resource:\n - The resource '" + name + "' was not found",
	}
}

// DescribeJSON renders a minimal gcloud describe payload.
func DescribeJSON(name, zone, status, natIP string) string {
	return `{"name":"` + name + `","status":"` + status + `",` +
		`"machineType":"https://www.googleapis.com/compute/v1/projects/p/zones/` + zone + `/machineTypes/e2-small",` +
		`"zone":"https://www.googleapis.com/compute/v1/projects/p/zones/` + zone + `",` +
		`"networkInterfaces":[{"networkIP":"10.0.0.2","accessConfigs":[{"natIP":"` + natIP + `"}]}]}`
}
