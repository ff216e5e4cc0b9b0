package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/blackwell-systems/ciwarden/internal/snapshot"
	"github.com/blackwell-systems/ciwarden/internal/store"
	"github.com/blackwell-systems/ciwarden/internal/workflow"
)

// defaultRunLimit is the number of runs list_runs returns without "limit".
const defaultRunLimit = 10

// Backend supplies the data exposed by the tools. A nil History or
// Snapshots leaves the matching tools unregistered.
type Backend struct {
	Workflow  *workflow.Workflow
	History   *store.DB
	Snapshots *snapshot.Store
}

// StatusResult is the reply of get_status and get_plan.
type StatusResult struct {
	workflow.Assessment
	HoursSinceMaintenance *float64 `json:"hours_since_maintenance"`
}

// RunsResult is the reply of list_runs.
type RunsResult struct {
	Runs   []store.Run           `json:"runs"`
	Totals []store.ScenarioCount `json:"totals"`
}

// SnapshotsResult is the reply of list_snapshots.
type SnapshotsResult struct {
	Snapshots []snapshot.Metadata `json:"snapshots"`
}

// VerifyResult is the reply of verify_snapshot.
type VerifyResult struct {
	ID     string `json:"id"`
	Intact bool   `json:"intact"`
	Error  string `json:"error,omitempty"`
}

var (
	noArgsSchema = json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`)
	limitSchema  = json.RawMessage(`{"type":"object","properties":{"limit":{"type":"integer","description":"Number of runs to return (default 10, 0 for all)"}},"additionalProperties":false}`)
	idSchema     = json.RawMessage(`{"type":"object","properties":{"id":{"type":"string","description":"Snapshot ID, e.g. backup-20260101-120000.000"}},"required":["id"],"additionalProperties":false}`)
)

// addTools registers the tools the backend can serve.
func addTools(s *Server) {
	if s.backend.Workflow != nil {
		s.registerTool(toolDef{
			Name:        "get_status",
			Description: "Probe the working tree (type check, build, audit, lint, layout, clutter, git) and return its state with the scenario a maintenance run would select.",
			InputSchema: noArgsSchema,
			Handler:     s.handleStatus(false),
		})
		s.registerTool(toolDef{
			Name:        "get_plan",
			Description: "Like get_status, plus the steps the selected strategy would run and which would be skipped.",
			InputSchema: noArgsSchema,
			Handler:     s.handleStatus(true),
		})
	}
	if s.backend.History != nil {
		s.registerTool(toolDef{
			Name:        "list_runs",
			Description: "Recent maintenance runs, newest first, with per-scenario totals.",
			InputSchema: limitSchema,
			Handler:     s.handleListRuns,
		})
	}
	if s.backend.Snapshots != nil {
		s.registerTool(toolDef{
			Name:        "list_snapshots",
			Description: "Stored working tree snapshots, newest first.",
			InputSchema: noArgsSchema,
			Handler:     s.handleListSnapshots,
		})
		s.registerTool(toolDef{
			Name:        "verify_snapshot",
			Description: "Check a snapshot's files against their recorded hashes.",
			InputSchema: idSchema,
			Handler:     s.handleVerifySnapshot,
		})
	}
}

func (s *Server) handleStatus(withSteps bool) toolHandler {
	return func(ctx context.Context, _ json.RawMessage) (any, error) {
		a, err := s.backend.Workflow.Assess(ctx)
		if err != nil {
			return nil, err
		}
		if !withSteps {
			a.Steps = nil
		}
		return StatusResult{Assessment: a, HoursSinceMaintenance: a.State.HoursOrNil()}, nil
	}
}

func (s *Server) handleListRuns(_ context.Context, args json.RawMessage) (any, error) {
	var params struct {
		Limit *int `json:"limit"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	limit := defaultRunLimit
	if params.Limit != nil {
		limit = *params.Limit
	}

	runs, err := s.backend.History.ListRuns(limit)
	if err != nil {
		return nil, err
	}
	totals, err := s.backend.History.CountByScenario()
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []store.Run{}
	}
	if totals == nil {
		totals = []store.ScenarioCount{}
	}
	return RunsResult{Runs: runs, Totals: totals}, nil
}

func (s *Server) handleListSnapshots(_ context.Context, _ json.RawMessage) (any, error) {
	list, err := s.backend.Snapshots.List()
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []snapshot.Metadata{}
	}
	return SnapshotsResult{Snapshots: list}, nil
}

func (s *Server) handleVerifySnapshot(_ context.Context, args json.RawMessage) (any, error) {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if params.ID == "" {
		return nil, errors.New("id is required")
	}
	err := s.backend.Snapshots.Verify(params.ID)
	if errors.Is(err, snapshot.ErrNotFound) {
		return nil, err
	}
	res := VerifyResult{ID: params.ID, Intact: err == nil}
	if err != nil {
		res.Error = err.Error()
	}
	return res, nil
}
