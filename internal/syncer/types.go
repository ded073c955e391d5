package syncer

import (
	"errors"
	"time"

	"github.com/edupoll/edupoll/pkg/portal"
)

// DefaultBackoff is the pause after the portal asked for a captcha.
const DefaultBackoff = 60 * time.Minute

// DefaultMaxLessons is the number of lesson slots per day.
const DefaultMaxLessons = 12

// ErrCycleInProgress is returned by Sync while another cycle runs.
var ErrCycleInProgress = errors.New("syncer: cycle already in progress")

// Outcome classifies a finished cycle.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeSkipped Outcome = "skipped"
	OutcomeCaptcha Outcome = "captcha"
	OutcomeError   Outcome = "error"
)

// BackoffState pauses every sync while ActiveUntil lies in the future. It is
// set when the portal asks for a captcha and cleared by a successful login.
type BackoffState struct {
	ActiveUntil time.Time `json:"activeUntil"`
	Reason      string    `json:"reason,omitempty"`
	CaptchaURL  string    `json:"captchaUrl,omitempty"`
}

// Active reports whether the backoff still applies at now.
func (b BackoffState) Active(now time.Time) bool {
	return !b.ActiveUntil.IsZero() && now.Before(b.ActiveUntil)
}

// Remaining returns the time left at now, zero when inactive.
func (b BackoffState) Remaining(now time.Time) time.Duration {
	if !b.Active(now) {
		return 0
	}
	return b.ActiveUntil.Sub(now)
}

// Next is the upcoming lesson.
type Next struct {
	When string `json:"when"`
	portal.TimetableItem
}

// Day is the lesson list written for one date.
type Day struct {
	Date        string                 `json:"date"`
	Lessons     []portal.TimetableItem `json:"lessons"`
	Holiday     bool                   `json:"holiday"`
	HolidayName string                 `json:"holidayName,omitempty"`
}

// Result describes one cycle.
type Result struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Today    *Day          `json:"today,omitempty"`
	Tomorrow *Day          `json:"tomorrow,omitempty"`
	Next     *Next         `json:"next,omitempty"`
	Variant  string        `json:"variant,omitempty"`
	Backoff  *BackoffState `json:"backoff,omitempty"`
}

// Duration returns the wall time the cycle took.
func (r *Result) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// Status is a snapshot for the status RPC.
type Status struct {
	Running    bool         `json:"running"`
	Cycles     int          `json:"cycles"`
	LastResult *Result      `json:"lastResult,omitempty"`
	LastOK     time.Time    `json:"lastOk,omitempty"`
	Backoff    BackoffState `json:"backoff"`
}
