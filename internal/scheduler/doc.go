// Package scheduler fires recurring sync jobs. It runs a single goroutine
// over a min-heap of ScheduleEvents sorted by trigger time, with a
// 60-second max-sleep-cap so NTP steps, DST transitions and system sleep
// never delay a trigger by more than a minute.
//
// Jobs recur either on a fixed interval or on a cron expression. Nothing
// is persisted; the daemon re-adds its job on start.
package scheduler
