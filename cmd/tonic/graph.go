package main

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"tonic/internal/app"
	"tonic/internal/graph"
	"tonic/internal/job"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the resolved dependency graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}
		defer a.Close()

		jobs := a.Orchestrator().Jobs()
		g, err := graph.Resolve(jobs)
		if err != nil {
			return err
		}
		return renderGraph(g, jobs)
	},
}

func renderGraph(g *graph.Graph, jobs []*job.Job) error {
	data := pterm.TableData{{"JOB", "TRIGGERS", "AFTER", "DEPENDENTS", "FLAGS"}}
	for _, j := range jobs {
		id := j.ID()
		after := strings.Join(g.Dependencies(id), ", ")
		if g.Wildcard(id) {
			after = "* (" + after + ")"
		}
		data = append(data, []string{
			id,
			triggerList(j),
			dash(after),
			dash(strings.Join(g.Dependents(id), ", ")),
			dash(flags(j)),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}

	pterm.Println()
	for i, layer := range g.Layers() {
		pterm.Printf("layer %d: %s\n", i, strings.Join(layer, ", "))
	}
	for _, c := range g.Cycles() {
		pterm.Warning.Printf("cycle: %s\n", strings.Join(c, " -> "))
	}
	return nil
}

func triggerList(j *job.Job) string {
	ts := j.Triggers()
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.String())
	}
	return dash(strings.Join(out, ", "))
}

func flags(j *job.Job) string {
	var f []string
	if !j.Enabled() {
		f = append(f, "disabled")
	}
	if j.Deferred() {
		f = append(f, "deferred")
	}
	if j.IsAnonymous() {
		f = append(f, "anonymous")
	}
	f = append(f, fmt.Sprintf("overlap=%s", j.OverlapPolicy()))
	return strings.Join(f, " ")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
