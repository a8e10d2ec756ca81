package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stagehand-ops/stagehand/internal/model"
)

func TestInstanceCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &model.Instance{Name: "web-1", Zone: "europe-west1-b", MachineType: "e2-small", DiskSizeGB: 20, Status: model.StatusProvisioning}
	if err := s.CreateInstance(ctx, in); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if in.ID == 0 {
		t.Fatalf("expected ID to be assigned")
	}

	err := s.CreateInstance(ctx, &model.Instance{Name: "web-1"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := s.GetInstance(ctx, "web-1")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if got.MachineType != "e2-small" || got.DiskSizeGB != 20 {
		t.Fatalf("unexpected record: %+v", got)
	}

	got.Notes = "primary"
	got.ExternalIP = "34.1.2.3"
	if err := s.UpdateInstance(ctx, got); err != nil {
		t.Fatalf("UpdateInstance: %v", err)
	}
	got, _ = s.GetInstance(ctx, "web-1")
	if got.Notes != "primary" || got.ExternalIP != "34.1.2.3" {
		t.Fatalf("update not persisted: %+v", got)
	}

	if err := s.UpdateInstance(ctx, &model.Instance{Name: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}

	if err := s.DeleteInstance(ctx, "web-1"); err != nil {
		t.Fatalf("DeleteInstance: %v", err)
	}
	if err := s.DeleteInstance(ctx, "web-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := s.GetInstance(ctx, "web-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListInstances_SortedByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, n := range []string{"web-2", "db-1", "web-1"} {
		if err := s.CreateInstance(ctx, &model.Instance{Name: n}); err != nil {
			t.Fatalf("CreateInstance(%s): %v", n, err)
		}
	}
	list, err := s.ListInstances(ctx)
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	want := []string{"db-1", "web-1", "web-2"}
	if len(list) != len(want) {
		t.Fatalf("got %d instances", len(list))
	}
	for i, n := range want {
		if list[i].Name != n {
			t.Errorf("position %d: got %s want %s", i, list[i].Name, n)
		}
	}
}

func TestUpsertInstance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &model.Instance{Name: "web-1", Zone: "europe-west1-b", Notes: "hand written"}
	if err := s.UpsertInstance(ctx, first); err != nil {
		t.Fatalf("UpsertInstance (create): %v", err)
	}

	second := &model.Instance{Name: "web-1", ExternalIP: "34.1.2.3", Status: model.StatusRunning}
	if err := s.UpsertInstance(ctx, second); err != nil {
		t.Fatalf("UpsertInstance (merge): %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same record, got ids %d and %d", first.ID, second.ID)
	}

	got, _ := s.GetInstance(ctx, "web-1")
	if got.Zone != "europe-west1-b" || got.Notes != "hand written" || got.ExternalIP != "34.1.2.3" || got.Status != model.StatusRunning {
		t.Fatalf("unexpected merged record: %+v", got)
	}
}

func TestJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 3; i++ {
		j := &model.Job{
			ID:        fmt.Sprintf("job-%d", i),
			Instance:  "web-1",
			Action:    "backup",
			Args:      []string{"backup", "web-1"},
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}
	if err := s.CreateJob(ctx, &model.Job{ID: "other", Instance: "db-1", Action: "update", StartedAt: base}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := s.FinishJob(ctx, "job-1", model.JobFailed, 2, "boom\n"); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}
	if err := s.FinishJob(ctx, "missing", model.JobFailed, 1, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	j, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != model.JobFailed || j.ExitCode != 2 || j.Output != "boom\n" || j.FinishedAt == nil {
		t.Fatalf("unexpected job: %+v", j)
	}
	if len(j.Args) != 2 || j.Args[0] != "backup" {
		t.Fatalf("args not round-tripped: %v", j.Args)
	}

	running, _ := s.GetJob(ctx, "job-0")
	if running.Status != model.JobRunning || running.FinishedAt != nil {
		t.Fatalf("unexpected running job: %+v", running)
	}

	list, err := s.ListJobs(ctx, "web-1", 2)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(list) != 2 || list[0].ID != "job-2" || list[1].ID != "job-1" {
		t.Fatalf("expected newest first, got %+v", list)
	}

	all, _ := s.ListJobs(ctx, "", 0)
	if len(all) != 4 {
		t.Fatalf("expected 4 jobs, got %d", len(all))
	}

	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnsureSqliteDir(t *testing.T) {
	dir := t.TempDir()
	if err := ensureSqliteDir(dir + "/nested/stagehand.db"); err != nil {
		t.Fatalf("ensureSqliteDir: %v", err)
	}
	if err := ensureSqliteDir("file:x?mode=memory&cache=shared"); err != nil {
		t.Fatalf("memory dsn: %v", err)
	}
}
