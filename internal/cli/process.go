package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/stepflow/internal/models"
)

var processAll bool

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Manage process definitions",
	Long: `Manage the process definitions users can run through the bot.

Subcommands:
  list      List processes (default)
  show      Show one process with its steps
  create    Create or update a process from a YAML file
  publish   Publish or unpublish a process

Examples:
  stepflow process list
  stepflow process show onboarding
  stepflow process create onboarding.yaml
  stepflow process publish onboarding
  stepflow process publish onboarding --unpublish`,
	RunE: runProcessList,
}

var processListCmd = &cobra.Command{
	Use:   "list",
	Short: "List processes",
	RunE:  runProcessList,
}

var processShowCmd = &cobra.Command{
	Use:   "show <process-id>",
	Short: "Show a process with its steps",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcessShow,
}

var processCreateCmd = &cobra.Command{
	Use:   "create <yaml-file>",
	Short: "Create or update a process from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcessCreate,
}

var processUnpublish bool

var processPublishCmd = &cobra.Command{
	Use:   "publish <process-id>",
	Short: "Publish or unpublish a process",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcessPublish,
}

func init() {
	processCmd.Flags().BoolVarP(&processAll, "all", "a", false, "include unpublished drafts")
	processListCmd.Flags().BoolVarP(&processAll, "all", "a", false, "include unpublished drafts")
	processPublishCmd.Flags().BoolVar(&processUnpublish, "unpublish", false, "unpublish instead")

	processCmd.AddCommand(processListCmd)
	processCmd.AddCommand(processShowCmd)
	processCmd.AddCommand(processCreateCmd)
	processCmd.AddCommand(processPublishCmd)
}

func runProcessList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	procs, err := dbClient.ListProcesses(ctx, !processAll)
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	if len(procs) == 0 {
		fmt.Println("No processes found.")
		return nil
	}

	fmt.Printf("Processes (%d):\n\n", len(procs))
	for _, p := range procs {
		state := ""
		if !p.Published {
			state = " [draft]"
		}
		fmt.Printf("- %s: %s (%d steps)%s\n", p.ID, p.Title, len(p.Steps), state)
		if verbose && p.Description != "" {
			fmt.Printf("  %s\n", p.Description)
		}
	}

	return nil
}

func runProcessShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	proc, err := dbClient.GetProcess(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get process: %w", err)
	}
	if proc == nil {
		return fmt.Errorf("process %q not found", args[0])
	}

	fmt.Printf("%s: %s\n", proc.ID, proc.Title)
	if proc.Description != "" {
		fmt.Printf("%s\n", proc.Description)
	}
	fmt.Printf("Published: %v\n\nSteps:\n", proc.Published)
	for _, step := range proc.Steps {
		fmt.Printf("%3d. [%s] %s", step.SequenceNumber, step.Type, step.Prompt)
		if step.Validation.Required {
			fmt.Print(" (required)")
		}
		fmt.Println()
		if len(step.Options) > 0 {
			fmt.Printf("     Options: %v\n", step.Options)
		}
		if verbose {
			fmt.Printf("     ID: %s\n", step.StepID)
		}
	}

	return nil
}

func runProcessCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	proc, err := models.LoadProcessYAML(args[0])
	if err != nil {
		return fmt.Errorf("load process: %w", err)
	}

	if err := dbClient.PutProcess(ctx, proc); err != nil {
		return fmt.Errorf("save process: %w", err)
	}

	fmt.Printf("Saved process %s (%d steps).\n", proc.ID, len(proc.Steps))
	return nil
}

func runProcessPublish(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	proc, err := dbClient.GetProcess(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get process: %w", err)
	}
	if proc == nil {
		return fmt.Errorf("process %q not found", args[0])
	}

	proc.Published = !processUnpublish
	if err := dbClient.PutProcess(ctx, proc); err != nil {
		return fmt.Errorf("save process: %w", err)
	}

	if proc.Published {
		fmt.Printf("Process %s published.\n", proc.ID)
	} else {
		fmt.Printf("Process %s unpublished.\n", proc.ID)
	}
	return nil
}

// dumpYAML renders a value as YAML to stdout.
func dumpYAML(v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	fmt.Print(string(data))
	return nil
}
