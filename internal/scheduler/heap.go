package scheduler

import (
	"container/heap"
	"time"
)

// jobQueue holds at most one pending event per job, ordered by TriggerAt.
// The index map lets a job be replaced or dropped without a scan.
type jobQueue struct {
	events []ScheduleEvent
	index  map[string]int
}

func newJobQueue() *jobQueue {
	return &jobQueue{index: make(map[string]int)}
}

func (q *jobQueue) Len() int           { return len(q.events) }
func (q *jobQueue) Less(i, j int) bool { return q.events[i].TriggerAt.Before(q.events[j].TriggerAt) }

func (q *jobQueue) Swap(i, j int) {
	q.events[i], q.events[j] = q.events[j], q.events[i]
	q.index[q.events[i].JobID] = i
	q.index[q.events[j].JobID] = j
}

func (q *jobQueue) Push(x any) {
	e := x.(ScheduleEvent)
	q.index[e.JobID] = len(q.events)
	q.events = append(q.events, e)
}

func (q *jobQueue) Pop() any {
	n := len(q.events)
	e := q.events[n-1]
	q.events = q.events[:n-1]
	delete(q.index, e.JobID)
	return e
}

// schedule inserts e, replacing any pending event of the same job.
func (q *jobQueue) schedule(e ScheduleEvent) {
	if i, ok := q.index[e.JobID]; ok {
		q.events[i] = e
		heap.Fix(q, i)
		return
	}
	heap.Push(q, e)
}

// next returns the earliest trigger time.
func (q *jobQueue) next() (time.Time, bool) {
	if len(q.events) == 0 {
		return time.Time{}, false
	}
	return q.events[0].TriggerAt, true
}

// popDue removes and returns the earliest event if it is due at now.
func (q *jobQueue) popDue(now time.Time) (ScheduleEvent, bool) {
	if len(q.events) == 0 || q.events[0].TriggerAt.After(now) {
		return ScheduleEvent{}, false
	}
	return heap.Pop(q).(ScheduleEvent), true
}

// cancel drops the pending event of jobID and reports whether one existed.
func (q *jobQueue) cancel(jobID string) bool {
	i, ok := q.index[jobID]
	if !ok {
		return false
	}
	heap.Remove(q, i)
	return true
}
