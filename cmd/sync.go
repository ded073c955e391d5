package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli"

	"github.com/edupoll/edupoll/cmd/common"
	"github.com/edupoll/edupoll/internal/daemon"
	"github.com/edupoll/edupoll/internal/syncer"
)

const tableWidth = 44

func syncOnce(ctx *cli.Context) error {
	cfg, err := readConfig(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "sync", "load_config", err)
		return err
	}
	l := newLogger(cfg)
	defer l.Close()

	sctx, cancel := setupShutdownHandler()
	defer cancel()

	res, err := newRunner(cfg, nil, &daemon.Dependencies{Logger: l}).RunOnce(sctx)
	if res != nil {
		if ctx.Bool("json") {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if jerr := enc.Encode(res); jerr != nil {
				return jerr
			}
		} else {
			printResult(out, res)
		}
	}
	if err != nil {
		common.PrintRuntimeErr(ctx, "sync", "run", err)
		return err
	}
	return nil
}

// printResult writes a human summary of one cycle.
func printResult(w io.Writer, r *syncer.Result) {
	fmt.Fprintf(w, "Cycle %s: %s in %s\n", shortID(r.ID), r.Outcome, r.Duration().Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", r.Error)
	}
	if r.Backoff != nil && r.Backoff.Active(r.Finished) {
		fmt.Fprintf(w, "  captcha backoff until %s\n", r.Backoff.ActiveUntil.Local().Format("15:04"))
		if r.Backoff.CaptchaURL != "" {
			fmt.Fprintf(w, "  solve it at %s\n", r.Backoff.CaptchaURL)
		}
	}
	if r.Variant != "" {
		fmt.Fprintf(w, "  endpoint: %s\n", r.Variant)
	}
	printDay(w, "Today", r.Today)
	printDay(w, "Tomorrow", r.Tomorrow)
	if r.Next != nil {
		fmt.Fprintf(w, "\nNext: %s %s-%s %s (%s)\n", r.Next.When, r.Next.Start, r.Next.End, r.Next.Subject, r.Next.Room)
	}
}

func printDay(w io.Writer, title string, d *syncer.Day) {
	if d == nil {
		return
	}
	fmt.Fprintf(w, "\n%s\n%s\n", common.Beaut(title+" "+d.Date, tableWidth), strings.Repeat("-", tableWidth))
	if d.Holiday {
		fmt.Fprintf(w, "  holiday: %s\n", d.HolidayName)
		return
	}
	if len(d.Lessons) == 0 {
		fmt.Fprintln(w, "  no lessons")
		return
	}
	for _, it := range d.Lessons {
		mark := " "
		switch {
		case it.Canceled:
			mark = "x"
		case it.Changed:
			mark = "*"
		}
		fmt.Fprintf(w, "%s %s-%s  %-16s %s\n", mark, it.Start, it.End, it.Subject, it.Room)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
