package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/stepflow/internal/engine"
)

var (
	regenTitle       string
	regenDescription string
	regenYes         bool
)

var regenerateCmd = &cobra.Command{
	Use:   "regenerate <process-id>",
	Short: "Replace a process's steps with AI-generated ones",
	Long: `Regenerate the step sequence of a process with the configured LLM.

This replaces ALL steps. Existing user answers for the process are
archived, not deleted, since they no longer line up with the new steps.

Examples:
  stepflow regenerate onboarding --yes
  stepflow regenerate onboarding --title "Remote onboarding" --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runRegenerate,
}

func init() {
	regenerateCmd.Flags().StringVar(&regenTitle, "title", "", "new title (defaults to current)")
	regenerateCmd.Flags().StringVar(&regenDescription, "description", "", "new description (defaults to current)")
	regenerateCmd.Flags().BoolVar(&regenYes, "yes", false, "skip the confirmation prompt")
}

func runRegenerate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	proc, err := dbClient.GetProcess(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get process: %w", err)
	}
	if proc == nil {
		return fmt.Errorf("process %q not found", args[0])
	}

	title := proc.Title
	if regenTitle != "" {
		title = regenTitle
	}
	description := proc.Description
	if regenDescription != "" {
		description = regenDescription
	}

	if !regenYes {
		fmt.Printf("This replaces all %d steps of %s and archives existing answers.\n", len(proc.Steps), proc.ID)
		fmt.Print("Continue? [y/N]: ")
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	ai, err := getModel(ctx)
	if err != nil {
		return err
	}

	ed := engine.NewEditor(dbClient, ai, cliLogger())
	updated, err := ed.RegenerateWithAI(ctx, proc.ID, title, description)
	if err != nil {
		return fmt.Errorf("regenerate: %w", err)
	}

	fmt.Printf("Regenerated %s with %d steps:\n", updated.ID, len(updated.Steps))
	for _, step := range updated.Steps {
		fmt.Printf("%3d. [%s] %s\n", step.SequenceNumber, step.Type, step.Prompt)
	}
	return nil
}
