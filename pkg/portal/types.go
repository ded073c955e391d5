package portal

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateLayout is the portal's date format.
const DateLayout = "2006-01-02"

// Item kinds.
const (
	KindLesson = "lesson"
	KindEvent  = "event"
)

// TimetableQuery selects a date span of one timetable.
type TimetableQuery struct {
	DateFrom string
	DateTo   string
	Year     int
	Table    string
	TargetID string
}

// NewTimetableQuery builds a query for [from, to] in local dates.
func NewTimetableQuery(from, to time.Time, table, target string) TimetableQuery {
	if table == "" {
		table = "students"
	}
	return TimetableQuery{
		DateFrom: from.Format(DateLayout),
		DateTo:   to.Format(DateLayout),
		Year:     from.Year(),
		Table:    table,
		TargetID: target,
	}
}

func (q TimetableQuery) fields() map[string]any {
	return map[string]any{
		"year":                 q.Year,
		"datefrom":             q.DateFrom,
		"dateto":               q.DateTo,
		"table":                q.Table,
		"id":                   q.TargetID,
		"showColors":           true,
		"showIgroupsInClasses": false,
		"showOrig":             true,
		"log_module":           "CurrentTTView",
	}
}

// TimetableItem is one normalised entry.
type TimetableItem struct {
	Date       string `json:"date"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Kind       string `json:"kind"`
	Subject    string `json:"subject"`
	Room       string `json:"room"`
	Teacher    string `json:"teacher"`
	Changed    bool   `json:"changed"`
	Canceled   bool   `json:"canceled"`
	ChangeText string `json:"changeText"`
}

// IsHoliday reports a full-day event.
func (it TimetableItem) IsHoliday() bool {
	return it.Kind == KindEvent && it.Start == "00:00" && it.End == "24:00"
}

// StartAt returns the item start on its date in loc.
func (it TimetableItem) StartAt(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" 15:04", it.Date+" "+it.Start, loc)
}

// TimetableResponse is the normalised answer of the timetable endpoint.
type TimetableResponse struct {
	Items   []TimetableItem
	Variant Variant
}

// Lessons returns every item that is not a holiday.
func (r *TimetableResponse) Lessons() []TimetableItem {
	var out []TimetableItem
	for _, it := range r.Items {
		if !it.IsHoliday() {
			out = append(out, it)
		}
	}
	return out
}

// Holidays returns the full-day events.
func (r *TimetableResponse) Holidays() []TimetableItem {
	var out []TimetableItem
	for _, it := range r.Items {
		if it.IsHoliday() {
			out = append(out, it)
		}
	}
	return out
}

// rawItem mirrors the portal's ttitems entries including the alternate
// field spellings.
type rawItem struct {
	Date          flexText `json:"date"`
	StartTime     flexText `json:"starttime"`
	EndTime       flexText `json:"endtime"`
	Type          flexText `json:"type"`
	SubjectName   flexText `json:"subjectname"`
	Name          flexText `json:"name"`
	Classroom     flexText `json:"classroom"`
	ClassroomName flexText `json:"classroomname"`
	Teacher       flexText `json:"teacher"`
	TeacherName   flexText `json:"teachername"`
	Changed       flexBool `json:"changed"`
	Canceled      flexBool `json:"canceled"`
	Removed       flexBool `json:"removed"`
	ChangeText    flexText `json:"changetext"`
}

type timetableEnvelope struct {
	Reload flexBool `json:"reload"`
	R      *struct {
		TTItems []rawItem `json:"ttitems"`
	} `json:"r"`
	Result *struct {
		TimetableItems []rawItem `json:"timetableItems"`
	} `json:"result"`
}

func (e *timetableEnvelope) rawItems() []rawItem {
	if e.Result != nil && len(e.Result.TimetableItems) > 0 {
		return e.Result.TimetableItems
	}
	if e.R != nil {
		return e.R.TTItems
	}
	return nil
}

func firstText(vals ...flexText) string {
	for _, v := range vals {
		if s := strings.TrimSpace(string(v)); s != "" {
			return s
		}
	}
	return ""
}

func normaliseItem(r rawItem) TimetableItem {
	kind := KindLesson
	if strings.EqualFold(string(r.Type), KindEvent) {
		kind = KindEvent
	}
	return TimetableItem{
		Date:       strings.TrimSpace(string(r.Date)),
		Start:      clock(string(r.StartTime)),
		End:        clock(string(r.EndTime)),
		Kind:       kind,
		Subject:    firstText(r.SubjectName, r.Name),
		Room:       firstText(r.ClassroomName, r.Classroom),
		Teacher:    firstText(r.TeacherName, r.Teacher),
		Changed:    bool(r.Changed),
		Canceled:   bool(r.Canceled) || bool(r.Removed),
		ChangeText: strings.TrimSpace(string(r.ChangeText)),
	}
}

// clock pads H:MM to HH:MM and drops seconds.
func clock(s string) string {
	s = strings.TrimSpace(s)
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return s
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// SortByStart orders items by date and start time.
func SortByStart(items []TimetableItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Date != items[j].Date {
			return items[i].Date < items[j].Date
		}
		return items[i].Start < items[j].Start
	})
}
