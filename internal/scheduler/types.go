package scheduler

import "time"

// ScheduleEvent is a pending trigger in the scheduler heap.
type ScheduleEvent struct {
	// JobID is passed to the trigger callback.
	JobID string
	// TriggerAt is the wall-clock time of the next run.
	TriggerAt time.Time
	// Every re-schedules the job this long after each run. Zero with an
	// empty CronExpr means one-shot.
	Every time.Duration
	// CronExpr re-schedules the job at the next cron occurrence. It takes
	// precedence over Every.
	CronExpr string
}

// recurring reports whether the event is re-added after firing.
func (e ScheduleEvent) recurring() bool { return e.CronExpr != "" || e.Every > 0 }
