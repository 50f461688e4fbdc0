package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	submitOwner   string
	submitKind    string
	submitCapture string
)

var submitCmd = &cobra.Command{
	Use:   "submit [files...]",
	Short: "Submit one or more documents for a holder",
	Long: `Submit uploads documents and queues them for extraction,
structuring, and cross-document verification.

Examples:
  veridoc submit --owner 6f1c... --kind identity aadhaar.pdf
  veridoc submit --owner 6f1c... --kind secondary_education marksheet-10.pdf marksheet-12.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitOwner, "owner", "", "holder UUID (required)")
	submitCmd.Flags().StringVar(&submitKind, "kind", "", "document kind: identity, primary_education, secondary_education, other (required)")
	submitCmd.Flags().StringVar(&submitCapture, "capture", "file", "capture method: file or camera")
	submitCmd.MarkFlagRequired("owner")
	submitCmd.MarkFlagRequired("kind")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)

	var bar *progressbar.ProgressBar
	if !outputJSON && len(args) > 1 {
		bar = progressbar.NewOptions(len(args),
			progressbar.OptionSetDescription("uploading"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish(),
		)
	}

	var accepted []*submitResponse
	for _, path := range args {
		resp, err := client.submit(submitOwner, path, submitKind, submitCapture)
		if err != nil {
			return fmt.Errorf("submit %s: %w", path, err)
		}
		accepted = append(accepted, resp)
		if bar != nil {
			bar.Add(1)
		}
	}

	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(accepted)
	}
	for i, resp := range accepted {
		color.New(color.FgGreen).Printf("✓ %s accepted\n", args[i])
		fmt.Printf("  submission: %s  stage: %s\n", resp.SubmissionID, resp.Stage)
	}
	return nil
}
