package scheduler

import (
	"fmt"
	"time"

	"github.com/hashicorp/cronexpr"

	"github.com/dataferry/ferry/pkg/log"
	"github.com/dataferry/ferry/pkg/types"
)

// scheduleSpec is the parsed form of a job's schedule. Resolved records
// the effective schedule, which differs from the request when the
// lenient fallback applied.
type scheduleSpec struct {
	interval time.Duration
	cron     *cronexpr.Expression

	Resolved string
	Fallback bool
}

// parseSchedule interprets the job's schedule expression. Any parse
// failure, including an unknown schedule type, falls back to the default
// one-hour interval with a warning.
func (s *Scheduler) parseSchedule(params types.JobParams) scheduleSpec {
	logger := log.WithJob(params.JobID)

	switch params.ScheduleType {
	case types.ScheduleTypeInterval:
		d, err := types.ParseISODuration(params.ScheduleExpression)
		if err != nil {
			logger.Warn().Err(err).
				Str("expression", params.ScheduleExpression).
				Msg("unparseable interval, falling back to one hour")
			return fallbackSpec()
		}
		return scheduleSpec{interval: d, Resolved: fmt.Sprintf("every %s", d)}

	case types.ScheduleTypeCron:
		expr, err := cronexpr.Parse(params.ScheduleExpression)
		if err != nil {
			logger.Warn().Err(err).
				Str("expression", params.ScheduleExpression).
				Msg("unparseable cron expression, falling back to one hour")
			return fallbackSpec()
		}
		return scheduleSpec{cron: expr, Resolved: fmt.Sprintf("cron %q", params.ScheduleExpression)}

	default:
		logger.Warn().
			Str("schedule_type", string(params.ScheduleType)).
			Msg("unknown schedule type, falling back to one hour")
		return fallbackSpec()
	}
}

func fallbackSpec() scheduleSpec {
	return scheduleSpec{
		interval: types.DefaultScheduleInterval,
		Resolved: fmt.Sprintf("every %s (fallback)", types.DefaultScheduleInterval),
		Fallback: true,
	}
}

// untilNext returns the wait before the next tick, relative to now
func (spec scheduleSpec) untilNext(now time.Time) time.Duration {
	if spec.cron != nil {
		next := spec.cron.Next(now)
		if next.IsZero() {
			// Expression yields no future runs; park the job
			return types.DefaultScheduleInterval
		}
		return next.Sub(now)
	}
	return spec.interval
}
