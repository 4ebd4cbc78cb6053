package server

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"drover/internal/agent"
	"drover/internal/agent/ports"
	"drover/internal/runstore"
	"drover/pkg/types"
)

// handleListRuns merges stored snapshots with live runners, preferring
// the live view where both exist.
func (s *Server) handleListRuns(c *gin.Context) {
	merged := make(map[string]runstore.Summary)

	if s.store != nil {
		summaries, err := s.store.List(c.Request.Context())
		if err != nil {
			respondError(c, http.StatusInternalServerError, err)
			return
		}
		for _, summary := range summaries {
			merged[summary.ID] = summary
		}
	}
	if s.registry != nil {
		for _, runner := range s.registry.List() {
			snap := runner.Snapshot()
			merged[snap.ID] = runstore.Summarize(snap)
		}
	}

	out := make([]runstore.Summary, 0, len(merged))
	for _, summary := range merged {
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	respondOK(c, out)
}

func (s *Server) handleGetRun(c *gin.Context) {
	runID := c.Param("id")

	if s.registry != nil {
		if runner, ok := s.registry.Get(runID); ok {
			respondOK(c, runner.Snapshot())
			return
		}
	}
	if s.store == nil {
		respondError(c, http.StatusNotFound, runstore.ErrNotFound)
		return
	}

	run, err := s.store.Get(c.Request.Context(), runID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, runstore.ErrNotFound) {
			status = http.StatusNotFound
		}
		respondError(c, status, err)
		return
	}
	respondOK(c, run)
}

func (s *Server) handleListApprovals(c *gin.Context) {
	respondOK(c, s.gate.Pending())
}

type decisionRequest struct {
	DecidedBy string `json:"decided_by"`
}

func (s *Server) handleApprove(c *gin.Context) {
	s.resolveApproval(c, ports.ApprovalApprove)
}

func (s *Server) handleDeny(c *gin.Context) {
	s.resolveApproval(c, ports.ApprovalDeny)
}

func (s *Server) handleAlwaysAllow(c *gin.Context) {
	s.resolveApproval(c, ports.ApprovalAlwaysAllow)
}

// resolveApproval routes the decision through the live runner when one
// is stalled on it, so the run record captures the outcome. Approvals
// without a live runner resolve directly at the gateway.
func (s *Server) resolveApproval(c *gin.Context, action ports.ApprovalAction) {
	approvalID := c.Param("id")

	var req decisionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
	}
	decidedBy := req.DecidedBy
	if decidedBy == "" {
		decidedBy = "api"
	}

	ctx := c.Request.Context()
	if s.registry != nil {
		if runner, ok := s.registry.ByApproval(approvalID); ok {
			snap, err := resolveThroughRunner(ctx, runner, action, approvalID, decidedBy)
			if err != nil {
				respondError(c, http.StatusNotFound, err)
				return
			}
			s.persist(c, snap)
			respondOK(c, gin.H{
				"approval_id": approvalID,
				"resolution":  string(action),
				"run":         runstore.Summarize(snap),
			})
			return
		}
	}

	if err := s.resolveAtGateway(c, action, approvalID, decidedBy); err != nil {
		respondError(c, http.StatusNotFound, err)
		return
	}
	respondOK(c, gin.H{
		"approval_id": approvalID,
		"resolution":  string(action),
	})
}

func resolveThroughRunner(ctx context.Context, runner *agent.Runner, action ports.ApprovalAction, approvalID, decidedBy string) (types.AgentRun, error) {
	switch action {
	case ports.ApprovalApprove:
		return runner.Approve(ctx, approvalID, decidedBy)
	case ports.ApprovalAlwaysAllow:
		return runner.AlwaysAllow(ctx, approvalID, decidedBy)
	default:
		return runner.Deny(ctx, approvalID, decidedBy)
	}
}

// resolveAtGateway applies the decision when no live runner holds the
// approval. Denials and tool failures are applied resolutions, not
// request errors.
func (s *Server) resolveAtGateway(c *gin.Context, action ports.ApprovalAction, approvalID, decidedBy string) error {
	ctx := c.Request.Context()

	var err error
	switch action {
	case ports.ApprovalApprove:
		_, err = s.gate.Approve(ctx, approvalID, decidedBy)
	case ports.ApprovalAlwaysAllow:
		_, err = s.gate.AlwaysAllow(ctx, approvalID, decidedBy)
	default:
		_, err = s.gate.Deny(ctx, approvalID, decidedBy)
	}
	if err == nil {
		return nil
	}

	var denied *types.PermissionDeniedError
	if errors.As(err, &denied) {
		return nil
	}
	var execErr *types.ToolExecutionError
	if errors.As(err, &execErr) {
		return nil
	}
	return err
}

func (s *Server) persist(c *gin.Context, snap types.AgentRun) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(c.Request.Context(), snap); err != nil {
		s.logger.Warn("failed to persist run %s: %v", snap.ID, err)
	}
}
