package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	answersJSON     bool
	answersArchived bool
)

var answersCmd = &cobra.Command{
	Use:   "answers <process-id>",
	Short: "Export the answers users gave for a process",
	Long: `Export answer records for a process as YAML (default) or JSON.

Archived records - answers given before an AI regeneration replaced the
steps - are excluded unless --archived is set.

Examples:
  stepflow answers onboarding
  stepflow answers onboarding --json > answers.json
  stepflow answers onboarding --archived`,
	Args: cobra.ExactArgs(1),
	RunE: runAnswers,
}

func init() {
	answersCmd.Flags().BoolVar(&answersJSON, "json", false, "output JSON instead of YAML")
	answersCmd.Flags().BoolVar(&answersArchived, "archived", false, "include archived records")
}

func runAnswers(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	records, err := dbClient.ListAnswerRecords(ctx, args[0])
	if err != nil {
		return fmt.Errorf("list answer records: %w", err)
	}

	if !answersArchived {
		live := records[:0]
		for _, rec := range records {
			if !rec.Archived {
				live = append(live, rec)
			}
		}
		records = live
	}

	if len(records) == 0 {
		fmt.Fprintln(os.Stderr, "No answer records found.")
		return nil
	}

	if answersJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	return dumpYAML(records)
}
