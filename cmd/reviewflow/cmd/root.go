// Package cmd provides the CLI commands for the reviewflow service.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// verbose enables debug-level logging regardless of LOG_LEVEL
	verbose bool
	// outputFormat specifies the output format for informational commands
	outputFormat string
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "reviewflow",
	Short: "AI review workflow dispatch service",
	Long: `reviewflow orchestrates AI review workflows for challenge submissions.

It enqueues one durable job per configured workflow when a submission's
artifact scan completes, dispatches those workflows to GitHub Actions, and
reconciles workflow_job webhook events back onto the tracked runs.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

// NewRootCmd builds a fresh command tree. Used by tests.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "reviewflow",
		Short:        rootCmd.Short,
		Long:         rootCmd.Long,
		SilenceUsage: true,
	}
	addPersistentFlags(cmd)
	addSubcommands(cmd)
	return cmd
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "plain", "output format (json|plain)")
}

func addSubcommands(cmd *cobra.Command) {
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWorkCmd())
	cmd.AddCommand(newMigrateCmd())
}

func init() {
	addPersistentFlags(rootCmd)
	addSubcommands(rootCmd)
}
