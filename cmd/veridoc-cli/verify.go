package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/veridoc-ai/veridoc/internal/storage"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <owner-id>",
	Short: "Show the cross-document verdict for a holder",
	Long: `Verify fetches the stored pairwise comparison records for a
holder's documents and the aggregate verdict.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)

	group, err := client.group(args[0])
	if err != nil {
		return err
	}

	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(group)
	}

	fmt.Printf("owner: %s  documents: %d\n", group.OwnerID, len(group.Submissions))
	for _, sub := range group.Submissions {
		fmt.Printf("  %s  %s\n", sub.SubmissionID, sub.Stage)
	}
	fmt.Println()

	for _, record := range group.Records {
		fmt.Printf("%s ↔ %s: %s\n", short(record.SubmissionA.String()), short(record.SubmissionB.String()), verdictLabel(record.Verdict))
		for _, cmp := range record.Comparisons {
			switch {
			case !cmp.Applicable:
				fmt.Printf("    %-14s not applicable\n", cmp.Field)
			case cmp.Match:
				fmt.Printf("    %-14s %s\n", cmp.Field, color.GreenString("match"))
			default:
				fmt.Printf("    %-14s %s  %s\n", cmp.Field, color.RedString("mismatch"), cmp.Detail)
			}
		}
	}

	fmt.Println()
	switch group.Verdict {
	case storage.VerdictVerified:
		color.New(color.FgGreen, color.Bold).Println("✓ VERIFIED")
	case storage.VerdictFailed:
		color.New(color.FgRed, color.Bold).Println("✗ FAILED")
	default:
		color.New(color.FgYellow, color.Bold).Println("? INCONCLUSIVE")
	}
	return nil
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
