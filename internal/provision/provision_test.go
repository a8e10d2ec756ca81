package provision

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stagehand-ops/stagehand/internal/ansible"
	"github.com/stagehand-ops/stagehand/internal/cloud"
	"github.com/stagehand-ops/stagehand/internal/execx"
	"github.com/stagehand-ops/stagehand/internal/instance"
	"github.com/stagehand-ops/stagehand/internal/model"
	"github.com/stagehand-ops/stagehand/internal/testutil"
)

type fakeRecorder struct {
	mu      sync.Mutex
	records []model.Instance
}

func (f *fakeRecorder) UpsertInstance(_ context.Context, i *model.Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *i)
	return nil
}

func (f *fakeRecorder) last() model.Instance {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.records) == 0 {
		return model.Instance{}
	}
	return f.records[len(f.records)-1]
}

func okDial(string, string, time.Duration) (net.Conn, error) {
	c1, c2 := net.Pipe()
	_ = c2.Close()
	return c1, nil
}

func validOptions() instance.Options {
	return instance.Options{
		Zone:         "europe-west1-b",
		MachineType:  "e2-small",
		DiskSizeGB:   20,
		DiskType:     "pd-balanced",
		ImageFamily:  "debian-12",
		ImageProject: "debian-cloud",
		InstallMode:  instance.InstallRelease,
		AppVersion:   "1.4.0",
		Playbook:     "ansible/site.yml",
		TailscaleKey: "tskey-auth-secret",
	}
}

func newProvisioner(t *testing.T, r execx.Runner, rec Recorder) *Provisioner {
	t.Helper()
	return &Provisioner{
		Cloud:      cloud.New(r, "proj"),
		Playbook:   &ansible.Playbook{Runner: r},
		StateDir:   t.TempDir(),
		SSH:        SSH{User: "deploy", KeyPath: "/keys/id"},
		Store:      rec,
		SSHTimeout: time.Second,
		Dial:       okDial,
	}
}

func TestCreate_RunsStepsInOrder(t *testing.T) {
	r := &testutil.FakeRunner{}
	r.OnOnce("instances describe web-1", "", testutil.NotFound("web-1"))
	r.On("instances describe web-1", testutil.DescribeJSON("web-1", "europe-west1-b", "RUNNING", "34.1.2.3"), nil)
	rec := &fakeRecorder{}
	p := newProvisioner(t, r, rec)

	res, err := p.Create(context.Background(), "web-1", validOptions())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Instance.ExternalIP != "34.1.2.3" {
		t.Fatalf("unexpected IP %q", res.Instance.ExternalIP)
	}
	if !res.InventoryWritten || !res.VarsWritten {
		t.Fatalf("expected both files written: %+v", res)
	}

	lines := r.Lines()
	wantPrefixes := []string{
		"gcloud compute instances describe web-1",
		"gcloud compute instances create web-1",
		"gcloud compute instances describe web-1",
		"ansible-playbook -i",
	}
	if len(lines) != len(wantPrefixes) {
		t.Fatalf("unexpected commands:\n%s", strings.Join(lines, "\n"))
	}
	for i, w := range wantPrefixes {
		if !strings.HasPrefix(lines[i], w) {
			t.Errorf("command %d = %q, want prefix %q", i, lines[i], w)
		}
	}
	for _, l := range lines {
		if strings.Contains(l, "tskey-auth-secret") {
			t.Fatalf("tailscale key leaked on a command line: %s", l)
		}
	}

	inv, err := os.ReadFile(res.Files.Inventory)
	if err != nil {
		t.Fatalf("read inventory: %v", err)
	}
	if !strings.Contains(string(inv), "ansible_host=34.1.2.3") {
		t.Fatalf("inventory missing host: %s", inv)
	}

	got := rec.last()
	if got.Status != model.StatusRunning || got.ExternalIP != "34.1.2.3" {
		t.Fatalf("unexpected recorded outcome: %+v", got)
	}
}

func TestCreate_RefusesExistingInstance(t *testing.T) {
	r := &testutil.FakeRunner{}
	r.On("instances describe web-1", testutil.DescribeJSON("web-1", "europe-west1-b", "RUNNING", "34.1.2.3"), nil)
	p := newProvisioner(t, r, nil)

	_, err := p.Create(context.Background(), "web-1", validOptions())
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if r.Ran("instances create") {
		t.Fatalf("create must not run for an existing instance")
	}
}

func TestCreate_RejectsBadInputBeforeAnyCommand(t *testing.T) {
	tests := []struct {
		name string
		vm   string
		mut  func(*instance.Options)
		want error
	}{
		{"uppercase name", "Web-1", nil, instance.ErrInvalidName},
		{"underscore", "web_1", nil, instance.ErrInvalidName},
		{"trailing dash", "web-", nil, instance.ErrInvalidName},
		{"tiny disk", "web-1", func(o *instance.Options) { o.DiskSizeGB = 5 }, instance.ErrInvalidOption},
		{"bad mode", "web-1", func(o *instance.Options) { o.InstallMode = "magic" }, instance.ErrInvalidOption},
		{"bad key", "web-1", func(o *instance.Options) { o.TailscaleKey = "abc" }, instance.ErrInvalidOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &testutil.FakeRunner{}
			p := newProvisioner(t, r, nil)
			o := validOptions()
			if tt.mut != nil {
				tt.mut(&o)
			}
			_, err := p.Create(context.Background(), tt.vm, o)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(r.Calls) != 0 {
				t.Fatalf("no command should run, got %v", r.Lines())
			}
		})
	}
}

func TestCreate_DryRunHasNoSideEffects(t *testing.T) {
	var out bytes.Buffer
	dry := execx.NewDryRunRunner(&out)
	rec := &fakeRecorder{}
	p := newProvisioner(t, dry, rec)
	p.Dial = func(string, string, time.Duration) (net.Conn, error) {
		t.Fatalf("dry-run must not wait for ssh")
		return nil, nil
	}

	o := validOptions()
	o.DryRun = true
	res, err := p.Create(context.Background(), "web-1", o)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.InventoryWritten || res.VarsWritten {
		t.Fatalf("dry-run must not write files: %+v", res)
	}
	entries, _ := os.ReadDir(p.StateDir)
	if len(entries) != 0 {
		t.Fatalf("state dir should be empty, has %d entries", len(entries))
	}
	if len(rec.records) != 0 {
		t.Fatalf("dry-run must not touch the store: %+v", rec.records)
	}
	text := out.String()
	for _, want := range []string{"[dry-run] gcloud compute instances create web-1", "[dry-run] ansible-playbook"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in dry-run output:\n%s", want, text)
		}
	}
}

func TestCreate_FailsFastWithExitCode(t *testing.T) {
	r := &testutil.FakeRunner{}
	r.On("instances describe web-1", "", testutil.NotFound("web-1"))
	r.On("instances create", "", &execx.ExitError{Command: "gcloud compute instances create", Code: 2, Stderr: "quota exceeded"})
	rec := &fakeRecorder{}
	p := newProvisioner(t, r, rec)

	_, err := p.Create(context.Background(), "web-1", validOptions())
	if err == nil {
		t.Fatalf("expected failure")
	}
	if code := execx.ExitCode(err); code != 2 {
		t.Fatalf("expected exit code 2, got %d (%v)", code, err)
	}
	if r.Ran("ansible-playbook") {
		t.Fatalf("playbook must not run after a failed create")
	}
	if rec.last().Status != model.StatusFailed {
		t.Fatalf("expected failed outcome, got %+v", rec.last())
	}
}

func TestUpdate_KeepsExistingFilesAndUsesUpdateTag(t *testing.T) {
	r := &testutil.FakeRunner{}
	r.On("instances describe web-1", testutil.DescribeJSON("web-1", "europe-west1-b", "RUNNING", "34.1.2.3"), nil)
	p := newProvisioner(t, r, nil)

	files := ansible.Paths(p.StateDir, "web-1")
	if err := os.MkdirAll(files.Dir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(files.Vars, []byte("install_mode: source\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	res, err := p.Update(context.Background(), "web-1", validOptions())
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.VarsWritten {
		t.Fatalf("existing vars must be kept")
	}
	if !res.InventoryWritten {
		t.Fatalf("missing inventory should be generated")
	}
	data, _ := os.ReadFile(files.Vars)
	if string(data) != "install_mode: source\n" {
		t.Fatalf("vars overwritten: %q", data)
	}
	if !r.Ran("--tags update") {
		t.Fatalf("expected playbook run with update tag: %v", r.Lines())
	}
	if r.Ran("instances create") {
		t.Fatalf("update must not create instances")
	}
}

func TestUpdate_MissingInstance(t *testing.T) {
	r := &testutil.FakeRunner{}
	r.On("instances describe web-9", "", testutil.NotFound("web-9"))
	p := newProvisioner(t, r, nil)

	_, err := p.Update(context.Background(), "web-9", validOptions())
	if !errors.Is(err, cloud.ErrNotFound) {
		t.Fatalf("expected cloud.ErrNotFound, got %v", err)
	}
	if r.Ran("ansible-playbook") {
		t.Fatalf("playbook must not run")
	}
}

func TestUpdate_StartsStoppedInstance(t *testing.T) {
	r := &testutil.FakeRunner{}
	r.OnOnce("instances describe web-1", testutil.DescribeJSON("web-1", "europe-west1-b", "TERMINATED", ""), nil)
	r.On("instances describe web-1", testutil.DescribeJSON("web-1", "europe-west1-b", "RUNNING", "34.1.2.4"), nil)
	p := newProvisioner(t, r, nil)

	res, err := p.Update(context.Background(), "web-1", validOptions())
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !r.Ran("instances start web-1") {
		t.Fatalf("expected start: %v", r.Lines())
	}
	if res.Instance.ExternalIP != "34.1.2.4" {
		t.Fatalf("expected refreshed IP, got %q", res.Instance.ExternalIP)
	}
}

func TestUpdate_RunningInstanceWithoutAddress(t *testing.T) {
	r := &testutil.FakeRunner{}
	r.On("instances describe web-1", testutil.DescribeJSON("web-1", "europe-west1-b", "RUNNING", ""), nil)
	p := newProvisioner(t, r, nil)

	_, err := p.Update(context.Background(), "web-1", validOptions())
	if err == nil || !strings.Contains(err.Error(), "no external IP") {
		t.Fatalf("expected missing address error, got %v", err)
	}
	if r.Ran("instances start") || r.Ran("ansible-playbook") {
		t.Fatalf("nothing should run: %v", r.Lines())
	}
}

func TestDestroy(t *testing.T) {
	r := &testutil.FakeRunner{}
	rec := &fakeRecorder{}
	p := newProvisioner(t, r, rec)
	files := ansible.Paths(p.StateDir, "web-1")
	if err := os.MkdirAll(files.Dir, 0o700); err != nil {
		t.Fatal(err)
	}

	if err := p.Destroy(context.Background(), "web-1", "europe-west1-b", true, false); err != nil {
		t.Fatalf("Destroy(keep): %v", err)
	}
	if _, err := os.Stat(files.Dir); err != nil {
		t.Fatalf("state should be kept: %v", err)
	}

	if err := p.Destroy(context.Background(), "web-1", "europe-west1-b", false, false); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := os.Stat(filepath.Join(files.Dir)); !os.IsNotExist(err) {
		t.Fatalf("state dir should be gone, err=%v", err)
	}
	if !r.Ran("instances delete web-1 --zone=europe-west1-b") {
		t.Fatalf("expected gcloud delete: %v", r.Lines())
	}
	if rec.last().Status != model.StatusDeleted {
		t.Fatalf("expected deleted outcome, got %+v", rec.last())
	}
}

func TestDestroy_RejectsEmptyZone(t *testing.T) {
	r := &testutil.FakeRunner{}
	p := newProvisioner(t, r, nil)

	if err := p.Destroy(context.Background(), "web-1", "", true, false); !errors.Is(err, instance.ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption, got %v", err)
	}
	if len(r.Lines()) != 0 {
		t.Fatalf("nothing should run: %v", r.Lines())
	}
}
