// Package main provides the veridoc CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	outputJSON bool
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "veridoc",
	Short: "veridoc CLI for document submission and verification",
	Long: `veridoc CLI talks to a running veridoc API server.

Use this tool to:
- Submit identity and education documents for a holder
- Watch a submission move through its processing stages
- Fetch the cross-document verification verdict

All commands support --json for automation.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("VERIDOC_SERVER", "http://localhost:8090"), "veridoc API base URL")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "machine-readable JSON output")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verifyCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
