// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stagehand-ops/stagehand/internal/model"
	"github.com/uptrace/bun"
)

// Store defines the record operations used by provisioning, the job
// manager and the dashboard.
type Store interface {
	ListInstances(ctx context.Context) ([]model.Instance, error)
	GetInstance(ctx context.Context, name string) (*model.Instance, error)
	CreateInstance(ctx context.Context, i *model.Instance) error
	UpdateInstance(ctx context.Context, i *model.Instance) error
	UpsertInstance(ctx context.Context, i *model.Instance) error
	DeleteInstance(ctx context.Context, name string) error

	CreateJob(ctx context.Context, j *model.Job) error
	FinishJob(ctx context.Context, id, status string, exitCode int, output string) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, instance string, limit int) ([]model.Job, error)

	Close() error
}

// BunStore implements Store on any of the supported dialects.
type BunStore struct {
	bun    *bun.DB
	dbType string
}

var _ Store = (*BunStore)(nil)

// Type returns the database type the store was opened with.
func (s *BunStore) Type() string { return s.dbType }

// Close releases the underlying connection pool.
func (s *BunStore) Close() error { return s.bun.Close() }

func now() time.Time { return time.Now().UTC().Truncate(time.Second) }

// ListInstances returns every instance ordered by name.
func (s *BunStore) ListInstances(ctx context.Context) ([]model.Instance, error) {
	var rows []InstanceModel
	if err := s.bun.NewSelect().Model(&rows).OrderExpr("name ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	out := make([]model.Instance, 0, len(rows))
	for _, r := range rows {
		out = append(out, instanceToModel(r))
	}
	return out, nil
}

// GetInstance looks an instance up by name.
func (s *BunStore) GetInstance(ctx context.Context, name string) (*model.Instance, error) {
	var m InstanceModel
	err := s.bun.NewSelect().Model(&m).Where("name = ?", name).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("instance %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("get instance %q: %w", name, err)
	}
	i := instanceToModel(m)
	return &i, nil
}

// CreateInstance inserts i and fills in its ID and timestamps. A second
// record with the same name yields ErrDuplicate.
func (s *BunStore) CreateInstance(ctx context.Context, i *model.Instance) error {
	ts := now()
	i.CreatedAt, i.UpdatedAt = ts, ts
	m := instanceFromModel(*i)
	m.ID = 0
	if _, err := s.bun.NewInsert().Model(&m).Exec(ctx); err != nil {
		if mapped := MapDBError(err); errors.Is(mapped, ErrDuplicate) {
			return fmt.Errorf("instance %q: %w", i.Name, ErrDuplicate)
		}
		return fmt.Errorf("create instance %q: %w", i.Name, err)
	}
	i.ID = m.ID
	return nil
}

// UpdateInstance overwrites the record named i.Name.
func (s *BunStore) UpdateInstance(ctx context.Context, i *model.Instance) error {
	i.UpdatedAt = now()
	m := instanceFromModel(*i)
	res, err := s.bun.NewUpdate().Model(&m).
		Column("zone", "machine_type", "disk_size_gb", "disk_type", "install_mode", "external_ip", "status", "notes", "updated_at").
		Where("name = ?", i.Name).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update instance %q: %w", i.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("instance %q: %w", i.Name, ErrNotFound)
	}
	return nil
}

// UpsertInstance creates i or merges its non-zero fields into the existing
// record of the same name. On return i holds the stored state.
func (s *BunStore) UpsertInstance(ctx context.Context, i *model.Instance) error {
	existing, err := s.GetInstance(ctx, i.Name)
	if errors.Is(err, ErrNotFound) {
		err = s.CreateInstance(ctx, i)
		if !errors.Is(err, ErrDuplicate) {
			return err
		}
		// Lost a race with another writer; merge into its record.
		existing, err = s.GetInstance(ctx, i.Name)
	}
	if err != nil {
		return err
	}
	existing.Merge(*i)
	if err := s.UpdateInstance(ctx, existing); err != nil {
		return err
	}
	*i = *existing
	return nil
}

// DeleteInstance removes the record named name.
func (s *BunStore) DeleteInstance(ctx context.Context, name string) error {
	res, err := s.bun.NewDelete().Model((*InstanceModel)(nil)).Where("name = ?", name).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete instance %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("instance %q: %w", name, ErrNotFound)
	}
	return nil
}

// CreateJob inserts a job record. StartedAt defaults to now.
func (s *BunStore) CreateJob(ctx context.Context, j *model.Job) error {
	if j.StartedAt.IsZero() {
		j.StartedAt = now()
	}
	if j.Status == "" {
		j.Status = model.JobRunning
	}
	m := jobFromModel(*j)
	if _, err := s.bun.NewInsert().Model(&m).Exec(ctx); err != nil {
		return fmt.Errorf("create job %s: %w", j.ID, MapDBError(err))
	}
	return nil
}

// FinishJob records the final status, exit code and output tail of a job.
func (s *BunStore) FinishJob(ctx context.Context, id, status string, exitCode int, output string) error {
	res, err := s.bun.NewUpdate().Model((*JobModel)(nil)).
		Set("status = ?", status).
		Set("exit_code = ?", exitCode).
		Set("output = ?", output).
		Set("finished_at = ?", now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetJob looks a job up by ID.
func (s *BunStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var m JobModel
	if err := s.bun.NewSelect().Model(&m).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	j := jobToModel(m)
	return &j, nil
}

// ListJobs returns the newest jobs first, optionally limited to one
// instance. A limit of zero or less means no limit.
func (s *BunStore) ListJobs(ctx context.Context, instance string, limit int) ([]model.Job, error) {
	var rows []JobModel
	q := s.bun.NewSelect().Model(&rows).OrderExpr("started_at DESC").OrderExpr("id DESC")
	if instance != "" {
		q = q.Where("instance = ?", instance)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]model.Job, 0, len(rows))
	for _, r := range rows {
		out = append(out, jobToModel(r))
	}
	return out, nil
}
