package scheduler

import (
	"github.com/dataferry/ferry/pkg/log"
	"github.com/dataferry/ferry/pkg/metrics"
	"github.com/dataferry/ferry/pkg/types"
)

// ReloadRecurrentJobs brings the catalogue's jobs for one management
// node into agreement with the desired set. Jobs belonging to other
// management nodes are never touched. The reconcile is idempotent:
// replaying the same desired set performs no operations.
//
// Removals complete before any addition, so a changed job is observed
// either still running with its old parameters or freshly registered
// with the new ones, never both.
func (s *Scheduler) ReloadRecurrentJobs(managementNodeID string, requests []Request) (added, removed int) {
	logger := log.WithNode(managementNodeID)

	desired := make(map[string]Request, len(requests))
	for _, req := range requests {
		if prev, clash := desired[req.Params.JobID]; clash {
			// Distinct producer names can collide after cleaning
			logger.Warn().
				Str("job_id", req.Params.JobID).
				Str("kept", prev.Params.JobName).
				Str("dropped", req.Params.JobName).
				Msg("duplicate job id in desired set, keeping first")
			continue
		}
		desired[req.Params.JobID] = req
	}

	// Phase one: remove jobs of this node that are gone or changed
	for id, params := range s.presentFor(managementNodeID) {
		req, wanted := desired[id]
		switch {
		case !wanted:
			s.RemoveRecurringJob(id)
			metrics.ReconcileOperationsTotal.WithLabelValues("remove").Inc()
			removed++
		case req.Params != params:
			// Changed parameters: remove now, re-add below
			s.RemoveRecurringJob(id)
			metrics.ReconcileOperationsTotal.WithLabelValues("remove").Inc()
			removed++
		default:
			metrics.ReconcileOperationsTotal.WithLabelValues("skip").Inc()
		}
	}

	// Phase two: add everything desired that is now absent
	present := s.presentFor(managementNodeID)
	for id, req := range desired {
		if _, ok := present[id]; ok {
			continue
		}
		if err := s.RegisterJob(req.Job, req.Params); err != nil {
			// One bad entry must not starve the rest
			logger.Error().Err(err).Str("job_id", id).Msg("failed to register job")
			continue
		}
		metrics.ReconcileOperationsTotal.WithLabelValues("add").Inc()
		added++
	}

	logger.Info().
		Int("added", added).
		Int("removed", removed).
		Int("desired", len(desired)).
		Msg("reconciled recurring jobs")
	return added, removed
}

// presentFor snapshots the catalogue entries owned by one management
// node
func (s *Scheduler) presentFor(managementNodeID string) map[string]types.JobParams {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]types.JobParams)
	for id, e := range s.entries {
		if e.params.NodeID() == managementNodeID {
			out[id] = e.params
		}
	}
	return out
}
