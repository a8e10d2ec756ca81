// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

package dashboard

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/stagehand-ops/stagehand/internal/instance"
	"github.com/stagehand-ops/stagehand/internal/jobs"
	"github.com/stagehand-ops/stagehand/internal/model"
)

func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListInstances(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, list)
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.store.GetInstance(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		fail(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, inst)
}

// instanceRequest is the writable subset of model.Instance.
type instanceRequest struct {
	Name        string `json:"name"`
	Zone        string `json:"zone"`
	MachineType string `json:"machine_type"`
	DiskSizeGB  int    `json:"disk_size_gb"`
	DiskType    string `json:"disk_type"`
	InstallMode string `json:"install_mode"`
	ExternalIP  string `json:"external_ip"`
	Status      string `json:"status"`
	Notes       string `json:"notes"`
}

func (req instanceRequest) toModel() model.Instance {
	return model.Instance{
		Name:        req.Name,
		Zone:        req.Zone,
		MachineType: req.MachineType,
		DiskSizeGB:  req.DiskSizeGB,
		DiskType:    req.DiskType,
		InstallMode: req.InstallMode,
		ExternalIP:  req.ExternalIP,
		Status:      req.Status,
		Notes:       req.Notes,
	}
}

func (req instanceRequest) validate() error {
	if req.DiskSizeGB < 0 {
		return fmt.Errorf("%w: disk size %d", instance.ErrInvalidOption, req.DiskSizeGB)
	}
	switch req.Status {
	case "", model.StatusProvisioning, model.StatusRunning, model.StatusFailed, model.StatusDeleted:
	default:
		return fmt.Errorf("%w: status %q", instance.ErrInvalidOption, req.Status)
	}
	return nil
}

func (s *Server) createInstance(w http.ResponseWriter, r *http.Request) {
	var req instanceRequest
	if err := decodeBody(w, r, &req); err != nil {
		fail(w, err)
		return
	}
	if err := instance.ValidateName(req.Name); err != nil {
		fail(w, err)
		return
	}
	if err := req.validate(); err != nil {
		fail(w, err)
		return
	}
	inst := req.toModel()
	if inst.Status == "" {
		inst.Status = model.StatusProvisioning
	}
	if err := s.store.CreateInstance(r.Context(), &inst); err != nil {
		fail(w, err)
		return
	}
	w.Header().Set("Location", "/api/instances/"+inst.Name)
	writeJSONResponse(w, http.StatusCreated, inst)
}

// updateInstance merges the non-empty request fields into the record.
// The name in the path wins over one in the body.
func (s *Server) updateInstance(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req instanceRequest
	if err := decodeBody(w, r, &req); err != nil {
		fail(w, err)
		return
	}
	if req.Name != "" && req.Name != name {
		fail(w, fmt.Errorf("%w: cannot rename %s to %s", errBadRequest, name, req.Name))
		return
	}
	if err := req.validate(); err != nil {
		fail(w, err)
		return
	}
	inst, err := s.store.GetInstance(r.Context(), name)
	if err != nil {
		fail(w, err)
		return
	}
	inst.Merge(req.toModel())
	if err := s.store.UpdateInstance(r.Context(), inst); err != nil {
		fail(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, inst)
}

func (s *Server) deleteInstance(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteInstance(r.Context(), mux.Vars(r)["name"]); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type actionRequest struct {
	Args []string `json:"args"`
}

// startAction runs create, update or backup for the instance as a job.
func (s *Server) startAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req actionRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			fail(w, err)
			return
		}
	}
	if err := jobs.CheckArgs(vars["action"], req.Args); err != nil {
		fail(w, err)
		return
	}
	j, err := s.jobs.Start(r.Context(), vars["name"], vars["action"], req.Args)
	if err != nil {
		fail(w, err)
		return
	}
	w.Header().Set("Location", "/api/jobs/"+j.ID)
	writeJSONResponse(w, http.StatusAccepted, j)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fail(w, fmt.Errorf("%w: limit %q", errBadRequest, v))
			return
		}
		limit = n
	}
	list, err := s.store.ListJobs(r.Context(), r.URL.Query().Get("instance"), limit)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, list)
}

// getJob returns the stored record; a running job gets its live tail as
// output.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	j, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	if !j.Done() {
		if lines, _, ok := s.jobs.Tail(id); ok {
			j.Output = joinLines(lines)
		}
	}
	writeJSONResponse(w, http.StatusOK, j)
}
