package syncer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/edupoll/edupoll/internal/state"
	"github.com/edupoll/edupoll/pkg/logger"
	"github.com/edupoll/edupoll/pkg/portal"
)

// Config holds the per-cycle settings.
type Config struct {
	Credentials portal.Credentials
	Table       string
	TargetID    string
	MaxLessons  int
	WeekView    bool
	Backoff     time.Duration
	Location    *time.Location
}

// Syncer composes the portal pipeline into one cycle.
type Syncer struct {
	client *portal.Client
	store  state.Store
	cfg    Config
	log    logger.Logger
	now    func() time.Time

	running atomic.Bool

	mu        sync.Mutex
	backoff   BackoffState
	cycles    int
	last      *Result
	lastOK    time.Time
	observers []func(Result)
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Syncer) { s.log = l }
}

// New creates a Syncer writing to store.
func New(client *portal.Client, store state.Store, cfg Config, opts ...Option) *Syncer {
	if cfg.MaxLessons <= 0 {
		cfg.MaxLessons = DefaultMaxLessons
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Table == "" {
		cfg.Table = "students"
	}
	s := &Syncer{
		client: client,
		store:  store,
		cfg:    cfg,
		log:    logger.NewNopLogger(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnCycle registers fn to be called after every cycle, including skipped
// ones.
func (s *Syncer) OnCycle(fn func(Result)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Prepare declares every state entry and restores a persisted backoff.
func (s *Syncer) Prepare(ctx context.Context) error {
	if err := state.EnsureAll(ctx, s.store, state.Schema(s.cfg.MaxLessons)); err != nil {
		return fmt.Errorf("syncer: ensure states: %w", err)
	}
	until, err := s.store.Get(ctx, "meta.backoffUntil")
	if err != nil {
		return err
	}
	ms, _ := until.Value.(float64)
	if ms <= 0 {
		return nil
	}
	b := BackoffState{ActiveUntil: time.UnixMilli(int64(ms)), Reason: "restored"}
	if u, err := s.store.Get(ctx, "meta.captchaUrl"); err == nil {
		b.CaptchaURL, _ = u.Value.(string)
	}
	if b.Active(s.now()) {
		s.mu.Lock()
		s.backoff = b
		s.mu.Unlock()
		s.log.Warning("captcha backoff restored until %s", b.ActiveUntil.Format(time.RFC3339))
	}
	return nil
}

// Backoff returns the current backoff state.
func (s *Syncer) Backoff() BackoffState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backoff
}

// Status returns a snapshot of the syncer.
func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Running: s.running.Load(),
		Cycles:  s.cycles,
		LastOK:  s.lastOK,
		Backoff: s.backoff,
	}
	if s.last != nil {
		r := *s.last
		st.LastResult = &r
	}
	return st
}

// Sync runs one cycle. A second call while a cycle runs returns
// ErrCycleInProgress without network access. Captcha signals end the cycle
// with a nil error after arming the backoff; other failures are recorded in
// the state store and returned.
func (s *Syncer) Sync(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrCycleInProgress
	}
	defer s.running.Store(false)

	res := &Result{ID: uuid.NewString(), Started: s.now()}
	defer s.finish(res)

	if b := s.Backoff(); b.Active(res.Started) {
		mins := int(math.Ceil(b.Remaining(res.Started).Minutes()))
		s.log.Warning("captcha backoff active, skipping sync; next try in ~%d min", mins)
		res.Outcome = OutcomeSkipped
		res.Backoff = &b
		if err := s.store.Set(ctx, "meta.backoffUntil", b.ActiveUntil); err != nil {
			s.log.Warning("write backoff state: %v", err)
		}
		return nil
	}

	err := s.cycle(ctx, res)
	if err == nil {
		res.Outcome = OutcomeOK
		return nil
	}

	var captcha *portal.CaptchaRequired
	if !errors.As(err, &captcha) {
		if _, hit := portal.CaptchaPhrase(err.Error()); hit {
			captcha = &portal.CaptchaRequired{Reason: err.Error()}
		}
	}
	if captcha != nil {
		b := s.arm(ctx, captcha)
		res.Outcome = OutcomeCaptcha
		res.Backoff = &b
		return nil
	}

	res.Outcome = OutcomeError
	res.Error = err.Error()
	s.log.Error("sync %s failed: %v", res.ID, err)
	if werr := state.SetMany(ctx, s.store, map[string]any{
		"meta.lastError":  err.Error(),
		"info.connection": false,
	}); werr != nil {
		s.log.Warning("write error state: %v", werr)
	}
	return err
}

func (s *Syncer) finish(res *Result) {
	res.Finished = s.now()
	s.mu.Lock()
	s.cycles++
	s.last = res
	if res.Outcome == OutcomeOK {
		s.lastOK = res.Finished
	}
	obs := append([]func(Result){}, s.observers...)
	s.mu.Unlock()
	for _, fn := range obs {
		fn(*res)
	}
}

func (s *Syncer) cycle(ctx context.Context, res *Result) error {
	if s.cfg.TargetID == "" {
		return &portal.ConfigError{Field: "target.id", Message: "missing target identifier (copy the id of the timetable request from the browser)"}
	}
	if err := s.store.Set(ctx, "meta.lastError", ""); err != nil {
		return err
	}

	hs := s.client.NewHandshake()
	if _, err := hs.Run(ctx, s.cfg.Credentials); err != nil {
		return err
	}
	if err := s.clear(ctx); err != nil {
		return err
	}

	wu, err := s.client.WarmUp(ctx)
	if err != nil {
		return err
	}
	token, err := s.client.Tokens.ResolveFrom(ctx, wu.HTML, true)
	if err != nil {
		return err
	}

	now := s.now().In(s.cfg.Location)
	q := s.query(now)
	resp, err := s.retrieve(ctx, q, token)
	if err != nil {
		return err
	}
	res.Variant = resp.Variant.URL()

	today, tomorrow := s.partition(resp, now)
	res.Today, res.Tomorrow = today, tomorrow
	res.Next = pickNext(today, tomorrow, now, s.cfg.Location)
	return s.write(ctx, today, tomorrow, res.Next)
}

// query spans today and tomorrow, or the Monday to Sunday week containing
// today in week view. The span always includes tomorrow.
func (s *Syncer) query(now time.Time) portal.TimetableQuery {
	today := midnight(now)
	tomorrow := today.AddDate(0, 0, 1)
	from, to := today, tomorrow
	if s.cfg.WeekView {
		offset := (int(today.Weekday()) + 6) % 7
		from = today.AddDate(0, 0, -offset)
		to = from.AddDate(0, 0, 6)
		if to.Before(tomorrow) {
			to = tomorrow
		}
	}
	return portal.NewTimetableQuery(from, to, s.cfg.Table, s.cfg.TargetID)
}

// retrieve fetches the timetable. A 404 forces one token refresh and a
// reload marker one warm-up, each followed by a single retry.
func (s *Syncer) retrieve(ctx context.Context, q portal.TimetableQuery, token string) (*portal.TimetableResponse, error) {
	var refreshed, rewarmed bool
	for {
		resp, err := s.client.Timetable.GetCurrentTimetable(ctx, q, token)
		switch {
		case err == nil:
			return resp, nil
		case errors.Is(err, portal.ErrSessionExpired) && !rewarmed:
			rewarmed = true
			s.log.Info("session context stale, warming up again")
			if _, werr := s.client.WarmUp(ctx); werr != nil {
				return nil, werr
			}
		case portal.IsNotFound(err) && !refreshed:
			refreshed = true
			s.log.Warning("timetable endpoint answered 404; refreshing session token")
			token, err = s.client.Tokens.Resolve(ctx, false)
			if err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}
}

func (s *Syncer) partition(resp *portal.TimetableResponse, now time.Time) (*Day, *Day) {
	today := &Day{Date: now.Format(portal.DateLayout)}
	tomorrow := &Day{Date: midnight(now).AddDate(0, 0, 1).Format(portal.DateLayout)}
	for _, it := range resp.Items {
		var d *Day
		switch it.Date {
		case today.Date:
			d = today
		case tomorrow.Date:
			d = tomorrow
		default:
			continue
		}
		switch {
		case it.IsHoliday():
			d.Holiday = true
			if d.HolidayName == "" {
				d.HolidayName = it.Subject
			}
		case it.Kind == portal.KindLesson:
			d.Lessons = append(d.Lessons, it)
		}
	}
	for _, d := range []*Day{today, tomorrow} {
		portal.SortByStart(d.Lessons)
		if len(d.Lessons) > s.cfg.MaxLessons {
			d.Lessons = d.Lessons[:s.cfg.MaxLessons]
		}
	}
	return today, tomorrow
}

// pickNext returns the earliest lesson, today before tomorrow, starting at
// or after now.
func pickNext(today, tomorrow *Day, now time.Time, loc *time.Location) *Next {
	for _, d := range []struct {
		when string
		day  *Day
	}{{"today", today}, {"tomorrow", tomorrow}} {
		for _, it := range d.day.Lessons {
			at, err := it.StartAt(loc)
			if err != nil {
				continue
			}
			if !at.Before(now) {
				return &Next{When: d.when, TimetableItem: it}
			}
		}
	}
	return nil
}

func (s *Syncer) write(ctx context.Context, today, tomorrow *Day, next *Next) error {
	values := map[string]any{}
	for _, d := range []struct {
		key string
		day *Day
	}{{"today", today}, {"tomorrow", tomorrow}} {
		values[d.key+".date"] = d.day.Date
		values[d.key+".holiday"] = d.day.Holiday
		values[d.key+".holidayName"] = d.day.HolidayName
		for i := 0; i < s.cfg.MaxLessons; i++ {
			var l portal.TimetableItem
			exists := i < len(d.day.Lessons)
			if exists {
				l = d.day.Lessons[i]
			}
			values[state.LessonID(d.key, i, "exists")] = exists
			values[state.LessonID(d.key, i, "start")] = l.Start
			values[state.LessonID(d.key, i, "end")] = l.End
			values[state.LessonID(d.key, i, "subject")] = l.Subject
			values[state.LessonID(d.key, i, "room")] = l.Room
			values[state.LessonID(d.key, i, "teacher")] = l.Teacher
			values[state.LessonID(d.key, i, "changed")] = l.Changed
			values[state.LessonID(d.key, i, "canceled")] = l.Canceled
			values[state.LessonID(d.key, i, "changeText")] = l.ChangeText
		}
	}
	n := Next{}
	if next != nil {
		n = *next
	}
	values["next.when"] = n.When
	values["next.subject"] = n.Subject
	values["next.room"] = n.Room
	values["next.teacher"] = n.Teacher
	values["next.start"] = n.Start
	values["next.end"] = n.End
	values["next.changed"] = n.Changed
	values["next.canceled"] = n.Canceled
	values["next.changeText"] = n.ChangeText
	values["info.connection"] = true
	values["meta.lastSync"] = s.now()
	return state.SetMany(ctx, s.store, values)
}

// arm starts the captcha backoff.
func (s *Syncer) arm(ctx context.Context, c *portal.CaptchaRequired) BackoffState {
	b := BackoffState{
		ActiveUntil: s.now().Add(s.cfg.Backoff),
		Reason:      c.Reason,
		CaptchaURL:  c.URL,
	}
	s.mu.Lock()
	s.backoff = b
	s.mu.Unlock()

	if b.CaptchaURL != "" {
		s.log.Error("portal requires a captcha; pausing for %s. Open %s in a browser, log in again and type the text from the image", s.cfg.Backoff, b.CaptchaURL)
	} else {
		s.log.Error("portal flagged the login as suspicious (%s); pausing for %s", b.Reason, s.cfg.Backoff)
	}
	if err := state.SetMany(ctx, s.store, map[string]any{
		"info.connection":      false,
		"meta.captchaRequired": true,
		"meta.captchaUrl":      b.CaptchaURL,
		"meta.backoffUntil":    b.ActiveUntil,
	}); err != nil {
		s.log.Warning("write captcha state: %v", err)
	}
	return b
}

// clear drops the backoff after a successful login.
func (s *Syncer) clear(ctx context.Context) error {
	s.mu.Lock()
	s.backoff = BackoffState{}
	s.mu.Unlock()
	return state.SetMany(ctx, s.store, map[string]any{
		"meta.captchaRequired": false,
		"meta.captchaUrl":      "",
		"meta.backoffUntil":    0,
	})
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
