package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/skosovsky/promptvault"
)

// summary is one row of list output.
type summary struct {
	PromptID       string                  `json:"prompt_id"`
	Environment    promptvault.Environment `json:"environment"`
	CurrentVersion int                     `json:"current_version"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

func filterFlags(cmd *cobra.Command, f *promptvault.Filter, env *string) {
	cmd.Flags().StringVar(&f.Domain, "domain", "", "only prompts of this domain")
	cmd.Flags().StringVar(&f.AgentType, "agent-type", "", "only prompts of this agent type")
	cmd.Flags().StringVar(env, "env", "", "only prompts in this environment (dev, qa, staging, prod)")
}

func resolveFilter(f promptvault.Filter, env string) (promptvault.Filter, error) {
	if env == "" {
		return f, nil
	}
	e, err := promptvault.ParseEnvironment(env)
	if err != nil {
		return f, err
	}
	f.Environment = e
	return f, nil
}

func newListCmd(a *app) *cobra.Command {
	var (
		filter promptvault.Filter
		env    string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := resolveFilter(filter, env)
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				recs, err := s.reg.List(ctx, f.Predicate())
				if err != nil {
					return err
				}
				rows := make([]summary, 0, len(recs))
				for _, r := range recs {
					rows = append(rows, summary{PromptID: r.PromptID, Environment: r.Environment, CurrentVersion: r.CurrentVersion, UpdatedAt: r.UpdatedAt})
				}
				return write(cmd.OutOrStdout(), a.output, rows)
			})
		},
	}
	filterFlags(cmd, &filter, &env)
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <prompt-id>",
		Short: "Show a prompt with its full version history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				rec, err := s.reg.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return write(cmd.OutOrStdout(), a.output, rec)
			})
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <prompt-id>",
		Short: "Show the versions of a prompt, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				versions, err := s.reg.History(ctx, args[0])
				if err != nil {
					return err
				}
				return write(cmd.OutOrStdout(), a.output, versions)
			})
		},
	}
}

func newAddVersionCmd(a *app) *cobra.Command {
	var instructions, template, note string
	cmd := &cobra.Command{
		Use:   "add-version <prompt-id>",
		Short: "Append a new version and make it current",
		Long: `Append a new version and make it current. A field that is not given keeps the
content of the current version.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			operator, err := a.operatorName()
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				rec, err := s.reg.Get(ctx, args[0])
				if err != nil {
					return err
				}
				current, _ := rec.Current()
				content := current.Content()
				if cmd.Flags().Changed("instructions") {
					content.SystemInstructions = instructions
				}
				if cmd.Flags().Changed("template") {
					content.Template = template
				}
				v, err := s.reg.AddVersion(ctx, args[0], content, operator, note)
				if err != nil {
					return err
				}
				return write(cmd.OutOrStdout(), a.output, v)
			})
		},
	}
	cmd.Flags().StringVar(&instructions, "instructions", "", "system instructions of the new version")
	cmd.Flags().StringVar(&template, "template", "", "template of the new version")
	cmd.Flags().StringVar(&note, "note", "", "change note (default \"Updated version\")")
	cmd.MarkFlagsOneRequired("instructions", "template")
	return cmd
}

func newRollbackCmd(a *app) *cobra.Command {
	var (
		target int
		note   string
	)
	cmd := &cobra.Command{
		Use:   "rollback <prompt-id>",
		Short: "Append a copy of an earlier version and make it current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			operator, err := a.operatorName()
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				v, err := s.reg.Rollback(ctx, args[0], target, operator, note)
				if err != nil {
					return err
				}
				return write(cmd.OutOrStdout(), a.output, v)
			})
		},
	}
	cmd.Flags().IntVar(&target, "version", 0, "version to restore")
	cmd.Flags().StringVar(&note, "note", "", "reason appended to the change note")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}
