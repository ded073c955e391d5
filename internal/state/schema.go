package state

import "fmt"

// Days written by the sync cycle.
var Days = []string{"today", "tomorrow"}

// LessonFields are the per-slot entries below <day>.lessons.<i>.
var LessonFields = []Definition{
	{ID: "exists", Type: TypeBoolean, Name: "Lesson exists"},
	{ID: "start", Type: TypeString, Name: "Start HH:MM"},
	{ID: "end", Type: TypeString, Name: "End HH:MM"},
	{ID: "subject", Type: TypeString, Name: "Subject"},
	{ID: "room", Type: TypeString, Name: "Room"},
	{ID: "teacher", Type: TypeString, Name: "Teacher"},
	{ID: "changed", Type: TypeBoolean, Name: "Changed"},
	{ID: "canceled", Type: TypeBoolean, Name: "Canceled"},
	{ID: "changeText", Type: TypeString, Name: "Change text"},
}

var baseDefinitions = []Definition{
	{ID: "info.connection", Type: TypeBoolean, Name: "Connected to portal", Role: "indicator.connected"},
	{ID: "meta.lastSync", Type: TypeNumber, Name: "Last sync timestamp (ms)", Role: "value.time"},
	{ID: "meta.lastError", Type: TypeString, Name: "Last error message", Role: "text"},
	{ID: "meta.backoffUntil", Type: TypeNumber, Name: "Backoff until timestamp (ms)", Role: "value.time"},
	{ID: "meta.captchaRequired", Type: TypeBoolean, Name: "Captcha required by portal", Role: "indicator"},
	{ID: "meta.captchaUrl", Type: TypeString, Name: "Captcha URL (open in browser)", Role: "url"},

	{ID: "today.date", Type: TypeString, Name: "Today date", Role: "date"},
	{ID: "today.holiday", Type: TypeBoolean, Name: "Today is a holiday", Role: "indicator"},
	{ID: "today.holidayName", Type: TypeString, Name: "Today holiday name", Role: "text"},
	{ID: "tomorrow.date", Type: TypeString, Name: "Tomorrow date", Role: "date"},
	{ID: "tomorrow.holiday", Type: TypeBoolean, Name: "Tomorrow is a holiday", Role: "indicator"},
	{ID: "tomorrow.holidayName", Type: TypeString, Name: "Tomorrow holiday name", Role: "text"},

	{ID: "next.when", Type: TypeString, Name: "today|tomorrow"},
	{ID: "next.subject", Type: TypeString, Name: "Next subject"},
	{ID: "next.room", Type: TypeString, Name: "Next room"},
	{ID: "next.teacher", Type: TypeString, Name: "Next teacher"},
	{ID: "next.start", Type: TypeString, Name: "Next start"},
	{ID: "next.end", Type: TypeString, Name: "Next end"},
	{ID: "next.changed", Type: TypeBoolean, Name: "Next changed"},
	{ID: "next.canceled", Type: TypeBoolean, Name: "Next canceled"},
	{ID: "next.changeText", Type: TypeString, Name: "Next change text"},
}

// LessonID returns the key of field in slot i of day.
func LessonID(day string, i int, field string) string {
	return fmt.Sprintf("%s.lessons.%d.%s", day, i, field)
}

// Schema lists every definition for maxLessons slots per day.
func Schema(maxLessons int) []Definition {
	defs := make([]Definition, 0, len(baseDefinitions)+len(Days)*maxLessons*len(LessonFields))
	defs = append(defs, baseDefinitions...)
	for _, day := range Days {
		for i := 0; i < maxLessons; i++ {
			for _, f := range LessonFields {
				d := f
				d.ID = LessonID(day, i, f.ID)
				defs = append(defs, d)
			}
		}
	}
	for i := range defs {
		if defs[i].Role == "" {
			defs[i].Role = "value"
		}
	}
	return defs
}
