package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/stepflow/internal/engine"
	"github.com/raphaelgruber/stepflow/internal/models"
)

var (
	editTitle       string
	editDescription string
	editImageURL    string

	moveUp   bool
	moveDown bool

	insertBefore int
	insertAfter  int
	insertType   string
	insertPrompt string
	insertDesc   string
	insertOpts   []string
	insertReq    bool

	deleteIndex int
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit a process definition",
	Long: `Edit a process definition: header fields, step order, step
insertion and deletion. Step positions are re-sequenced automatically.

Examples:
  stepflow edit header onboarding --title "New hire onboarding"
  stepflow edit move onboarding 3f2a... --up
  stepflow edit insert onboarding --after 2 --type text --prompt "Team name?"
  stepflow edit delete onboarding --index 4`,
}

var editHeaderCmd = &cobra.Command{
	Use:   "header <process-id>",
	Short: "Update title, description or image URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runEditHeader,
}

var editMoveCmd = &cobra.Command{
	Use:   "move <process-id> <step-id>",
	Short: "Move a step up or down by one position",
	Args:  cobra.ExactArgs(2),
	RunE:  runEditMove,
}

var editInsertCmd = &cobra.Command{
	Use:   "insert <process-id>",
	Short: "Insert a new step before or after a position",
	Args:  cobra.ExactArgs(1),
	RunE:  runEditInsert,
}

var editDeleteCmd = &cobra.Command{
	Use:   "delete <process-id>",
	Short: "Delete the step at a position",
	Args:  cobra.ExactArgs(1),
	RunE:  runEditDelete,
}

func init() {
	editHeaderCmd.Flags().StringVar(&editTitle, "title", "", "new title")
	editHeaderCmd.Flags().StringVar(&editDescription, "description", "", "new description")
	editHeaderCmd.Flags().StringVar(&editImageURL, "image-url", "", "new image URL")

	editMoveCmd.Flags().BoolVar(&moveUp, "up", false, "move one position earlier")
	editMoveCmd.Flags().BoolVar(&moveDown, "down", false, "move one position later")

	editInsertCmd.Flags().IntVar(&insertBefore, "before", -1, "1-based position to insert before")
	editInsertCmd.Flags().IntVar(&insertAfter, "after", -1, "1-based position to insert after")
	editInsertCmd.Flags().StringVar(&insertType, "type", "text", "step type")
	editInsertCmd.Flags().StringVar(&insertPrompt, "prompt", "", "step prompt")
	editInsertCmd.Flags().StringVar(&insertDesc, "description", "", "step description")
	editInsertCmd.Flags().StringSliceVar(&insertOpts, "options", nil, "choice options")
	editInsertCmd.Flags().BoolVar(&insertReq, "required", false, "answer is required")

	editDeleteCmd.Flags().IntVar(&deleteIndex, "index", 0, "1-based position to delete")

	editCmd.AddCommand(editHeaderCmd)
	editCmd.AddCommand(editMoveCmd)
	editCmd.AddCommand(editInsertCmd)
	editCmd.AddCommand(editDeleteCmd)
}

// editor builds a process editor over the CLI's database client. The AI
// model stays nil; only regenerate needs it.
func editor() *engine.Editor {
	return engine.NewEditor(dbClient, nil, cliLogger())
}

func runEditHeader(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var patch models.ProcessHeaderPatch
	if cmd.Flags().Changed("title") {
		patch.Title = &editTitle
	}
	if cmd.Flags().Changed("description") {
		patch.Description = &editDescription
	}
	if cmd.Flags().Changed("image-url") {
		patch.ImageURL = &editImageURL
	}
	if patch.Title == nil && patch.Description == nil && patch.ImageURL == nil {
		return fmt.Errorf("nothing to change: pass --title, --description or --image-url")
	}

	proc, err := editor().EditHeader(ctx, args[0], patch)
	if err != nil {
		return err
	}

	fmt.Printf("Updated header of %s.\n", proc.ID)
	return nil
}

func runEditMove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if moveUp == moveDown {
		return fmt.Errorf("pass exactly one of --up or --down")
	}

	ed := editor()
	var (
		proc *models.ProcessDefinition
		err  error
	)
	if moveUp {
		proc, err = ed.MoveStepUp(ctx, args[0], args[1])
	} else {
		proc, err = ed.MoveStepDown(ctx, args[0], args[1])
	}
	if err != nil {
		return err
	}

	fmt.Printf("Moved step in %s. New order:\n", proc.ID)
	for _, step := range proc.Steps {
		fmt.Printf("%3d. [%s] %s\n", step.SequenceNumber, step.Type, step.Prompt)
	}
	return nil
}

func runEditInsert(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if (insertBefore < 0) == (insertAfter < 0) {
		return fmt.Errorf("pass exactly one of --before or --after")
	}
	if insertPrompt == "" {
		return fmt.Errorf("--prompt is required")
	}

	step := models.Step{
		Type:        models.StepType(insertType),
		Prompt:      insertPrompt,
		Description: insertDesc,
		Options:     insertOpts,
		Validation:  models.Validation{Required: insertReq},
	}

	ed := editor()
	var (
		proc *models.ProcessDefinition
		err  error
	)
	if insertBefore >= 0 {
		// Flags are 1-based like the displayed sequence numbers.
		proc, err = ed.InsertStepBefore(ctx, args[0], insertBefore-1, step)
	} else {
		proc, err = ed.InsertStepAfter(ctx, args[0], insertAfter-1, step)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Inserted step into %s (%d steps now).\n", proc.ID, len(proc.Steps))
	return nil
}

func runEditDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if deleteIndex < 1 {
		return fmt.Errorf("--index must be a 1-based step position")
	}

	proc, err := editor().DeleteStep(ctx, args[0], deleteIndex-1)
	if err != nil {
		return err
	}

	fmt.Printf("Deleted step %d from %s (%d steps left).\n", deleteIndex, proc.ID, len(proc.Steps))
	return nil
}
