package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

const maxSleepCap = 60 * time.Second

// ErrNoRecurrence is returned by Recurring when neither an interval nor a
// cron expression is given.
var ErrNoRecurrence = errors.New("scheduler: job needs an interval or a cron expression")

// Scheduler manages recurring job events using a min-heap.
// It runs a background goroutine that sleeps until the next event's
// trigger time, then calls the onTrigger callback with the job ID.
type Scheduler struct {
	addChan    chan ScheduleEvent
	removeChan chan string
	ctx        context.Context
	done       chan struct{}
	now        func() time.Time
}

// New creates and starts a new Scheduler.
// The onTrigger callback is invoked on the scheduler goroutine when an
// event fires; a slow callback delays later events. The goroutine exits
// when ctx is cancelled.
func New(ctx context.Context, onTrigger func(string)) *Scheduler {
	s := &Scheduler{
		addChan:    make(chan ScheduleEvent, 64),
		removeChan: make(chan string, 64),
		ctx:        ctx,
		done:       make(chan struct{}),
		now:        time.Now,
	}
	go s.run(onTrigger)
	return s
}

// Add schedules event, replacing a pending event of the same job.
func (s *Scheduler) Add(event ScheduleEvent) {
	select {
	case s.addChan <- event:
	case <-s.ctx.Done():
	}
}

// Remove cancels a scheduled event by job ID.
func (s *Scheduler) Remove(jobID string) {
	select {
	case s.removeChan <- jobID:
	case <-s.ctx.Done():
	}
}

// Done is closed once the scheduler goroutine has exited.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) run(onTrigger func(string)) {
	defer close(s.done)
	q := newJobQueue()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	resetTimer := func() <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		at, ok := q.next()
		if !ok {
			return nil
		}
		dur := min(max(at.Sub(s.now()), 0), maxSleepCap)
		timer = time.NewTimer(dur)
		return timer.C
	}

	timerCh := resetTimer()

	for {
		select {
		case <-s.ctx.Done():
			return

		case event := <-s.addChan:
			q.schedule(event)
			timerCh = resetTimer()

		case id := <-s.removeChan:
			q.cancel(id)
			timerCh = resetTimer()

		case <-timerCh:
			for {
				event, ok := q.popDue(s.now())
				if !ok {
					break
				}
				if s.ctx.Err() != nil {
					return
				}
				onTrigger(event.JobID)
				if !event.recurring() {
					continue
				}
				if next, err := nextOccurrence(event, s.now()); err == nil {
					event.TriggerAt = next
					q.schedule(event)
				}
			}
			timerCh = resetTimer()
		}
	}
}

// nextOccurrence returns the next run of a recurring event strictly after
// from.
func nextOccurrence(e ScheduleEvent, from time.Time) (time.Time, error) {
	if e.CronExpr != "" {
		return nextCronOccurrence(e.CronExpr, from)
	}
	if e.Every <= 0 {
		return time.Time{}, ErrNoRecurrence
	}
	return from.Add(e.Every), nil
}

// nextCronOccurrence returns the next time the cron expression fires strictly
// after start. Uses gronx.NextTickAfter with inclRefTime=false.
func nextCronOccurrence(expr string, start time.Time) (time.Time, error) {
	return gronx.NextTickAfter(expr, start, false)
}

// hasOccurrenceWithinYear checks if a cron expression has any occurrence
// within 1 year from the given time. Returns false for invalid expressions
// or if no occurrence exists within the 1-year window.
func hasOccurrenceWithinYear(expr string, from time.Time) bool {
	next, err := gronx.NextTickAfter(expr, from, false)
	if err != nil {
		return false
	}
	return next.Before(from.Add(365 * 24 * time.Hour))
}

// ValidateCron rejects expressions gronx cannot parse or that never fire
// within a year.
func ValidateCron(expr string, now time.Time) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("scheduler: invalid cron expression %q", expr)
	}
	if !hasOccurrenceWithinYear(expr, now) {
		return fmt.Errorf("scheduler: cron expression %q never fires within a year", expr)
	}
	return nil
}

// Recurring builds the first event of a job that repeats every interval or
// on cronExpr, starting after now.
func Recurring(jobID string, every time.Duration, cronExpr string, now time.Time) (ScheduleEvent, error) {
	e := ScheduleEvent{JobID: jobID, Every: every, CronExpr: cronExpr}
	if cronExpr != "" {
		if err := ValidateCron(cronExpr, now); err != nil {
			return e, err
		}
	} else if every <= 0 {
		return e, ErrNoRecurrence
	}
	next, err := nextOccurrence(e, now)
	if err != nil {
		return e, err
	}
	e.TriggerAt = next
	return e, nil
}
