// Runbox — sandboxed script execution service with SSE output streaming.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "runbox",
	Short: "Runbox — run untrusted scripts under resource limits and stream their output.",
	Long: `Runbox executes client-submitted scripts in resource-limited interpreter
processes and streams their output over Server-Sent Events. Each execution is
capped on wall-clock time, virtual memory, and cumulative output size.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
