package scheduler

import (
	"testing"
	"time"
)

func drain(q *jobQueue, now time.Time) []string {
	var ids []string
	for {
		e, ok := q.popDue(now)
		if !ok {
			return ids
		}
		ids = append(ids, e.JobID)
	}
}

func TestJobQueueOrdering(t *testing.T) {
	base := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	q := newJobQueue()
	q.schedule(ScheduleEvent{JobID: "late", TriggerAt: base.Add(3 * time.Hour)})
	q.schedule(ScheduleEvent{JobID: "early", TriggerAt: base.Add(time.Hour)})
	q.schedule(ScheduleEvent{JobID: "mid", TriggerAt: base.Add(2 * time.Hour)})

	if at, ok := q.next(); !ok || !at.Equal(base.Add(time.Hour)) {
		t.Fatalf("next() = %v, %v", at, ok)
	}
	got := drain(q, base.Add(24*time.Hour))
	want := []string{"early", "mid", "late"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestJobQueuePopDueRespectsNow(t *testing.T) {
	base := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	q := newJobQueue()
	q.schedule(ScheduleEvent{JobID: "sync", TriggerAt: base.Add(time.Minute)})

	if _, ok := q.popDue(base); ok {
		t.Fatal("event popped before its trigger time")
	}
	if e, ok := q.popDue(base.Add(time.Minute)); !ok || e.JobID != "sync" {
		t.Fatalf("popDue at trigger time = %+v, %v", e, ok)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d after pop", q.Len())
	}
}

func TestJobQueueReplacesSameJob(t *testing.T) {
	base := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	q := newJobQueue()
	q.schedule(ScheduleEvent{JobID: "sync", TriggerAt: base.Add(time.Hour)})
	q.schedule(ScheduleEvent{JobID: "other", TriggerAt: base.Add(30 * time.Minute)})
	q.schedule(ScheduleEvent{JobID: "sync", TriggerAt: base.Add(10 * time.Minute)})

	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
	got := drain(q, base.Add(time.Hour))
	if len(got) != 2 || got[0] != "sync" || got[1] != "other" {
		t.Fatalf("order = %v, want [sync other]", got)
	}
}

func TestJobQueueCancel(t *testing.T) {
	base := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	q := newJobQueue()
	q.schedule(ScheduleEvent{JobID: "a", TriggerAt: base.Add(time.Hour)})
	q.schedule(ScheduleEvent{JobID: "b", TriggerAt: base.Add(2 * time.Hour)})
	q.schedule(ScheduleEvent{JobID: "c", TriggerAt: base.Add(3 * time.Hour)})

	if !q.cancel("b") {
		t.Fatal("cancel(b) = false")
	}
	if q.cancel("b") {
		t.Error("second cancel(b) = true")
	}
	if q.cancel("missing") {
		t.Error("cancel(missing) = true")
	}
	got := drain(q, base.Add(24*time.Hour))
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("order = %v, want [a c]", got)
	}
}

func TestJobQueueEmpty(t *testing.T) {
	q := newJobQueue()
	if _, ok := q.next(); ok {
		t.Error("next() on empty queue reported an event")
	}
	if _, ok := q.popDue(time.Now()); ok {
		t.Error("popDue on empty queue returned an event")
	}
}
