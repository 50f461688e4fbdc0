package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/veridoc-ai/veridoc/internal/storage"
)

var (
	statusWatch    bool
	statusInterval time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status <submission-id>",
	Short: "Show a submission's processing stage",
	Long: `Status reports where a submission sits in the pipeline:
queued, extracting, structuring, awaiting_peers, verifying, complete,
or failed. With --watch it polls until the submission reaches a
terminal stage.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "poll until the submission finishes")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 2*time.Second, "poll interval with --watch")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)
	submissionID := args[0]

	if !statusWatch {
		status, err := client.status(submissionID)
		if err != nil {
			return err
		}
		return printStatus(status.Stage, status.LastError, status.Verdict)
	}

	var spin *spinner.Spinner
	if !outputJSON {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		spin.Start()
		defer spin.Stop()
	}

	for {
		status, err := client.status(submissionID)
		if err != nil {
			return err
		}
		if spin != nil {
			spin.Suffix = fmt.Sprintf(" %s", status.Stage)
		}
		if status.Stage.Terminal() {
			if spin != nil {
				spin.Stop()
			}
			return printStatus(status.Stage, status.LastError, status.Verdict)
		}
		time.Sleep(statusInterval)
	}
}

func printStatus(stage storage.Stage, lastError *string, verdict *storage.Verdict) error {
	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"stage":   stage,
			"error":   lastError,
			"verdict": verdict,
		})
	}

	switch stage {
	case storage.StageComplete:
		color.New(color.FgGreen).Printf("✓ complete")
		if verdict != nil {
			fmt.Printf("  verdict: %s", verdictLabel(*verdict))
		}
		fmt.Println()
	case storage.StageFailed:
		color.New(color.FgRed).Printf("✗ failed")
		if lastError != nil {
			fmt.Printf("  %s", *lastError)
		}
		fmt.Println()
	default:
		fmt.Printf("… %s\n", stage)
	}
	return nil
}

func verdictLabel(v storage.Verdict) string {
	switch v {
	case storage.VerdictVerified:
		return color.GreenString(string(v))
	case storage.VerdictFailed:
		return color.RedString(string(v))
	default:
		return color.YellowString(string(v))
	}
}
