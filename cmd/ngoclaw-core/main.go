// Command ngoclaw-core is the composition root that exercises the §4
// library packages directly — agentcore.Loop, the orchestrator, the plan
// store, the permission gate — rather than through the teacher's original
// service.AgentLoop engine. It takes its provider router and tool registry
// from internal/application.NewAppCLI, so "run" and "plan" see the same
// models and tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	coreVersion = "0.1.0"
	coreName    = "ngoclaw-core"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   coreName + " [message]",
		Short: "NGOClaw Core — agent control loop, orchestrator, and permission gate library CLI",
		Args:  cobra.ArbitraryArgs,
		RunE:  runRun,
	}
	rootCmd.PersistentFlags().StringP("model", "m", "", "model override")
	rootCmd.PersistentFlags().StringP("workspace", "w", "", "workspace/repo path (defaults to CWD)")
	rootCmd.PersistentFlags().Bool("yolo", false, "auto-approve every write-class tool call")

	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newDoctorCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", coreName, coreVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
