package main

import (
	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"tonic/internal/app"
	"tonic/internal/graph"
	"tonic/internal/schedule"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config, every job file and the dependency graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}
		defer a.Close()

		jobs := a.Orchestrator().Jobs()
		for _, j := range jobs {
			for _, t := range j.Triggers() {
				if err := schedule.ValidateTrigger(t); err != nil {
					return errors.Wrapf(err, "job %q", j.ID())
				}
			}
		}
		g, err := graph.Resolve(jobs)
		if err != nil {
			return err
		}
		for _, c := range g.Cycles() {
			pterm.Warning.Printfln("cycle: %v", c)
		}
		pterm.Success.Printfln("%s: %d jobs, %d roots", cfgPath, len(jobs), len(g.Roots()))
		return nil
	},
}
