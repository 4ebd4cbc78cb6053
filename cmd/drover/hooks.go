package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"drover/internal/logging"
	"drover/internal/policy"
	"drover/pkg/types"
)

func newHooksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Work with hook rules files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <rules-file>",
		Short: "Check a rules file and show the evaluation order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := policy.LoadRules(args[0])
			if err != nil {
				return err
			}
			// Compiling catches bad patterns the parser accepts.
			if _, err := policy.NewEngine(rules, logging.NewComponentLogger("hooks")); err != nil {
				return err
			}

			enabled := 0
			for _, rule := range rules {
				marker := green("on ")
				if !rule.Enabled {
					marker = gray("off")
				} else {
					enabled++
				}
				line := fmt.Sprintf("%s %s %s %s -> %s", marker, bold(rule.ID),
					gray(string(rule.Event)), cyan(rule.ToolPattern), actionLabel(rule.Action))
				if rule.CommandPattern != "" {
					line += gray(" command=" + rule.CommandPattern)
				}
				if rule.WebhookURL != "" {
					line += gray(" webhook=" + rule.WebhookURL)
				}
				fmt.Println(line)
			}
			fmt.Printf("\n%d rules, %d enabled; first match wins\n", len(rules), enabled)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init <rules-file>",
		Short: "Write a starter rules file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := policy.SaveRules(path, starterRules()); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	})

	return cmd
}

func actionLabel(action types.RuleAction) string {
	switch action {
	case types.ActionAllow:
		return green(string(action))
	case types.ActionDeny:
		return red(string(action))
	default:
		return yellow(string(action))
	}
}

// starterRules allows reads and keeps one disabled example of a
// command-pattern deny. Anything unmatched falls through to an
// approval prompt, so writes and commands stay human-gated.
func starterRules() []types.HookRule {
	return []types.HookRule{
		{
			ID:          "allow-reads",
			Enabled:     true,
			Event:       types.EventPreToolUse,
			ToolPattern: "read_file",
			Action:      types.ActionAllow,
		},
		{
			ID:          "allow-listing",
			Enabled:     true,
			Event:       types.EventPreToolUse,
			ToolPattern: "list_dir",
			Action:      types.ActionAllow,
		},
		{
			ID:             "deny-destructive-commands",
			Enabled:        false,
			Event:          types.EventPreToolUse,
			ToolPattern:    "run_command",
			CommandPattern: "rm -rf *",
			Action:         types.ActionDeny,
		},
		{
			ID:          "log-commands",
			Enabled:     true,
			Event:       types.EventPostToolUse,
			ToolPattern: "run_command",
			Action:      types.ActionLog,
		},
	}
}
