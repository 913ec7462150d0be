package main

import (
	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "tonic",
	Short: "Job orchestration daemon",
	Long: `tonic runs jobs on schedules and after other jobs complete.

Jobs are loaded from the directories listed under jobs.dirs in the config.
A job with "after: *" runs once for every other job's completion.

Examples:
  tonic run -c tonic.yaml          # run the daemon
  tonic graph -c tonic.yaml        # show the dependency graph
  tonic compile 10m "07:30"        # preview schedule expressions
  tonic validate -c tonic.yaml     # check config and job files`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./tonic.yaml", "path to config (json, yaml or toml)")
	rootCmd.AddCommand(runCmd, graphCmd, compileCmd, validateCmd)
}
