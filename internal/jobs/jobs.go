// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// Package jobs runs stagehand subcommands on behalf of the dashboard and
// relays their output line by line through a pubsub hub.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/pubsub/v2"
	"github.com/stagehand-ops/stagehand/internal/execx"
	"github.com/stagehand-ops/stagehand/internal/instance"
	"github.com/stagehand-ops/stagehand/internal/logging"
	"github.com/stagehand-ops/stagehand/internal/model"
)

// TopicOutput is the hub topic every job line is published on.
const TopicOutput = "job.output"

// MaxOutputLines bounds the output kept per job.
const MaxOutputLines = 500

var (
	// ErrBusy is returned when the instance already has a running job.
	ErrBusy = errors.New("a job is already running for this instance")
	// ErrUnknownAction is returned for actions the dashboard may not start.
	ErrUnknownAction = errors.New("unknown action")
)

// Actions lists the subcommands a job may run. Restore needs an archive on
// the server and stays on the command line.
var Actions = []string{"create", "update", "backup"}

// Event is the payload published on TopicOutput. The final event of a job
// has Done set and carries the status and exit code.
type Event struct {
	Job      string `json:"job"`
	Instance string `json:"instance"`
	Seq      int    `json:"seq"`
	Line     string `json:"line,omitempty"`
	Done     bool   `json:"done,omitempty"`
	Status   string `json:"status,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
}

// Recorder persists job records.
type Recorder interface {
	CreateJob(ctx context.Context, j *model.Job) error
	FinishJob(ctx context.Context, id, status string, exitCode int, output string) error
}

// Manager starts and tracks jobs.
type Manager struct {
	Store Recorder
	Hub   *pubsub.SimpleHub
	// Binary is the executable to run; empty means os.Executable.
	Binary string
	// BaseArgs go before the action, e.g. a --config flag.
	BaseArgs []string
	Env      []string

	mu      sync.Mutex
	running map[string]*run // by instance
	byID    map[string]*run
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

type run struct {
	job  model.Job
	mu   sync.Mutex
	tail []string
	seq  int
}

// NewManager returns a manager recording into store and publishing on hub.
func NewManager(store Recorder, hub *pubsub.SimpleHub) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		Store:   store,
		Hub:     hub,
		running: map[string]*run{},
		byID:    map[string]*run{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches action for name with args checked against the action's
// allowed flags. The job runs detached from ctx, which only bounds the
// initial record write. Secret values are masked in the log and the record.
func (m *Manager) Start(ctx context.Context, name, action string, args []string) (*model.Job, error) {
	if err := instance.ValidateName(name); err != nil {
		return nil, err
	}
	ja, err := parseArgs(action, args)
	if err != nil {
		return nil, err
	}
	bin := m.Binary
	if bin == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate stagehand binary: %w", err)
		}
		bin = exe
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.running[name]; ok {
		return nil, fmt.Errorf("%w: %s (job %s)", ErrBusy, name, r.job.ID)
	}

	r := &run{job: model.Job{
		ID:        uuid.NewString(),
		Instance:  name,
		Action:    action,
		Args:      ja.shown,
		Status:    model.JobRunning,
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}}
	if err := m.Store.CreateJob(ctx, &r.job); err != nil {
		return nil, err
	}
	m.running[name] = r
	m.byID[r.job.ID] = r

	cmdArgs := append(append(append([]string(nil), m.BaseArgs...), action, name), ja.argv...)
	c := execx.Cmd{Name: bin, Args: cmdArgs, Env: m.Env, Secrets: ja.secrets}
	logging.Infof("job %s: %s", r.job.ID, c.String())

	m.wg.Add(1)
	go m.execute(r, c)

	j := r.job
	return &j, nil
}

func (m *Manager) execute(r *run, c execx.Cmd) {
	defer m.wg.Done()

	w := &lineWriter{emit: func(line string) { m.emit(r, line) }}
	runner := &execx.ExecRunner{Stdout: w, Stderr: w}
	err := runner.Run(m.ctx, c)
	w.flush()

	code := execx.ExitCode(err)
	status := model.JobSucceeded
	if err != nil {
		status = model.JobFailed
		logging.Warnf("job %s failed: %v", r.job.ID, err)
		var ee *execx.ExitError
		if !errors.As(err, &ee) {
			m.emit(r, err.Error())
		}
	}

	r.mu.Lock()
	output := strings.Join(r.tail, "\n")
	seq := r.seq + 1
	r.mu.Unlock()

	// The record is finalized even when the manager is shutting down.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Store.FinishJob(ctx, r.job.ID, status, code, output); err != nil {
		logging.Errorf("record job %s: %v", r.job.ID, err)
	}

	m.mu.Lock()
	delete(m.running, r.job.Instance)
	delete(m.byID, r.job.ID)
	m.mu.Unlock()

	_ = m.Hub.Publish(TopicOutput, Event{
		Job:      r.job.ID,
		Instance: r.job.Instance,
		Seq:      seq,
		Done:     true,
		Status:   status,
		ExitCode: code,
	})
}

func (m *Manager) emit(r *run, line string) {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.tail = append(r.tail, line)
	if len(r.tail) > MaxOutputLines {
		r.tail = r.tail[len(r.tail)-MaxOutputLines:]
	}
	r.mu.Unlock()
	_ = m.Hub.Publish(TopicOutput, Event{Job: r.job.ID, Instance: r.job.Instance, Seq: seq, Line: line})
}

// Tail returns the buffered output of a running job and the sequence
// number of its last line.
func (m *Manager) Tail(id string) ([]string, int, bool) {
	m.mu.Lock()
	r, ok := m.byID[id]
	m.mu.Unlock()
	if !ok {
		return nil, 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tail...), r.seq, true
}

// Running returns the jobs still in progress.
func (m *Manager) Running() []model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Job, 0, len(m.running))
	for _, r := range m.running {
		out = append(out, r.job)
	}
	slices.SortFunc(out, func(a, b model.Job) int { return strings.Compare(a.Instance, b.Instance) })
	return out
}

// Wait blocks until every started job has finished.
func (m *Manager) Wait() { m.wg.Wait() }

// Close kills running jobs and waits for them to be recorded.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// lineWriter splits a byte stream into lines. exec.Cmd serializes writes
// when Stdout and Stderr are the same writer.
type lineWriter struct {
	buf  []byte
	emit func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := slices.Index(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(strings.TrimRight(string(w.buf[:i]), "\r"))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if len(w.buf) > 0 {
		w.emit(strings.TrimRight(string(w.buf), "\r"))
		w.buf = nil
	}
}
