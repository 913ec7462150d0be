package main

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"tonic/internal/schedule"
)

var (
	compileAt    bool
	compileCount int
	compileTZ    string
)

var compileCmd = &cobra.Command{
	Use:   "compile <expr>...",
	Short: "Show the cron expression and next fire times for schedule text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loc := time.Local
		if tz := strings.TrimSpace(compileTZ); tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return errors.Wrapf(err, "timezone %q", tz)
			}
			loc = l
		}
		rows, failed := compileRows(args, compileAt, compileCount, time.Now().In(loc))
		if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
			return err
		}
		if failed > 0 {
			return errors.Newf("%d of %d expressions are invalid", failed, len(args))
		}
		return nil
	},
}

func compileRows(args []string, at bool, n int, from time.Time) (pterm.TableData, int) {
	rows := pterm.TableData{{"INPUT", "TRIGGER", "CRON", "NEXT"}}
	failed := 0
	for _, a := range args {
		t := schedule.Compile(a)
		if at {
			t = schedule.AtTime(a)
		}
		if t.Kind == schedule.Once {
			rows = append(rows, []string{a, t.String(), "-", "on start"})
			continue
		}
		spec, err := schedule.CronSpec(t)
		var next []time.Time
		if err == nil {
			next, err = schedule.Next(spec, from, n)
		}
		if err != nil {
			failed++
			rows = append(rows, []string{a, t.String(), dash(spec), pterm.Red(err.Error())})
			continue
		}
		times := make([]string, 0, len(next))
		for _, tt := range next {
			times = append(times, tt.Format("2006-01-02 15:04:05 MST"))
		}
		rows = append(rows, []string{a, t.String(), spec, strings.Join(times, "\n")})
	}
	return rows, failed
}

func init() {
	compileCmd.Flags().BoolVar(&compileAt, "at", false, "treat inputs as time-of-day triggers")
	compileCmd.Flags().IntVarP(&compileCount, "next", "n", 3, "number of upcoming fire times")
	compileCmd.Flags().StringVar(&compileTZ, "tz", "", "timezone for fire times (default local)")
}
