package cloud

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stagehand-ops/stagehand/internal/execx"
	"github.com/stagehand-ops/stagehand/internal/testutil"
)

func TestCreateCmd_Args(t *testing.T) {
	g := New(&testutil.FakeRunner{}, "proj-1")
	c := g.CreateCmd(Spec{
		Name:         "web-1",
		Zone:         "europe-west1-b",
		MachineType:  "e2-small",
		DiskSizeGB:   30,
		DiskType:     "pd-ssd",
		ImageFamily:  "debian-12",
		ImageProject: "debian-cloud",
		NetworkTags:  []string{"stagehand", "http"},
	})
	got := c.String()
	for _, want := range []string{
		"gcloud compute instances create web-1",
		"--zone=europe-west1-b",
		"--machine-type=e2-small",
		"--boot-disk-size=30GB",
		"--boot-disk-type=pd-ssd",
		"--image-family=debian-12",
		"--image-project=debian-cloud",
		"--tags=stagehand,http",
		"--labels=managed-by=stagehand",
		"--project=proj-1",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
}

func TestCreateCmd_NoProjectFlagWhenUnset(t *testing.T) {
	g := New(&testutil.FakeRunner{}, "")
	if strings.Contains(g.CreateCmd(Spec{Name: "a"}).String(), "--project") {
		t.Fatalf("did not expect --project")
	}
}

func TestDescribe_ParsesJSON(t *testing.T) {
	r := (&testutil.FakeRunner{}).On("instances describe web-1", testutil.DescribeJSON("web-1", "europe-west1-b", "RUNNING", "34.1.2.3"), nil)
	g := New(r, "")
	inst, err := g.Describe(context.Background(), "web-1", "europe-west1-b")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if inst.ExternalIP != "34.1.2.3" || inst.InternalIP != "10.0.0.2" {
		t.Fatalf("unexpected IPs: %+v", inst)
	}
	if inst.MachineType != "e2-small" || inst.Zone != "europe-west1-b" || inst.Status != "RUNNING" {
		t.Fatalf("unexpected fields: %+v", inst)
	}
}

func TestExists_NotFound(t *testing.T) {
	notFound := &execx.ExitError{Code: 1, Stderr: "ERROR: (gcloud.compute.instances.describe) Could not fetch resource:\n - The resource 'projects/p/zones/z/instances/web-2' was not found"}
	r := (&testutil.FakeRunner{}).On("describe web-2", "", notFound)
	g := New(r, "")

	ok, err := g.Exists(context.Background(), "web-2", "europe-west1-b")
	if err != nil || ok {
		t.Fatalf("expected (false, nil), got (%v, %v)", ok, err)
	}

	_, err = g.Describe(context.Background(), "web-2", "europe-west1-b")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExists_OtherErrorPropagates(t *testing.T) {
	boom := &execx.ExitError{Code: 1, Stderr: "permission denied"}
	r := (&testutil.FakeRunner{}).On("describe", "", boom)
	if _, err := New(r, "").Exists(context.Background(), "x", "europe-west1-b"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestList(t *testing.T) {
	payload := "[" + testutil.DescribeJSON("a", "europe-west1-b", "RUNNING", "1.1.1.1") + "," +
		testutil.DescribeJSON("b", "europe-west1-c", "TERMINATED", "") + "]"
	r := (&testutil.FakeRunner{}).On("instances list", payload, nil)
	got, err := New(r, "").List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[1].Status != "TERMINATED" || got[1].ExternalIP != "" {
		t.Fatalf("unexpected list: %+v", got)
	}
	if !r.Ran("--filter=labels.managed-by=stagehand") {
		t.Fatalf("expected label filter, got %v", r.Lines())
	}
}

func TestDeleteAndStart(t *testing.T) {
	r := &testutil.FakeRunner{}
	g := New(r, "")
	if err := g.Delete(context.Background(), "web-1", "europe-west1-b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := g.Start(context.Background(), "web-1", "europe-west1-b"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !r.Ran("instances delete web-1") || !r.Ran("--delete-disks=all") || !r.Ran("instances start web-1") {
		t.Fatalf("unexpected commands: %v", r.Lines())
	}
}

func TestWaitForSSH(t *testing.T) {
	attempts := 0
	dial := func(network, address string, timeout time.Duration) (net.Conn, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		c1, c2 := net.Pipe()
		_ = c2.Close()
		return c1, nil
	}
	if err := WaitForSSH(context.Background(), "1.2.3.4:22", time.Second, time.Millisecond, dial); err != nil {
		t.Fatalf("WaitForSSH: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWaitForSSH_Timeout(t *testing.T) {
	dial := func(string, string, time.Duration) (net.Conn, error) { return nil, errors.New("refused") }
	err := WaitForSSH(context.Background(), "1.2.3.4:22", 5*time.Millisecond, time.Millisecond, dial)
	if err == nil || !strings.Contains(err.Error(), "not reachable") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}
