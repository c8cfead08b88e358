package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/skosovsky/promptvault"
)

func newMigrateCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate <prompt-id>",
		Short: "Promote the current version of a prompt to the next environment",
		Long: `Promote the current version of a prompt to the next environment of
dev -> qa -> staging -> prod. The target environment is always the successor of the
source's environment. The attempt is recorded in the migration manifest.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			operator, err := a.operatorName()
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				rec, err := s.eng.Migrate(ctx, args[0], dryRun, operator)
				if rec.MigrationID != "" {
					if werr := write(cmd.OutOrStdout(), a.output, rec); werr != nil {
						return errors.Join(err, werr)
					}
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would happen without changing the registry")
	return cmd
}

func newMigrateAllCmd(a *app) *cobra.Command {
	var (
		filter promptvault.Filter
		env    string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "migrate-all",
		Short: "Promote every prompt matching the filters to its next environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			operator, err := a.operatorName()
			if err != nil {
				return err
			}
			f, err := resolveFilter(filter, env)
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				recs, err := s.eng.MigrateMatching(ctx, f, dryRun, operator)
				if recs == nil {
					recs = []promptvault.MigrationRecord{}
				}
				if werr := write(cmd.OutOrStdout(), a.output, recs); werr != nil {
					return errors.Join(err, werr)
				}
				return err
			})
		},
	}
	filterFlags(cmd, &filter, &env)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would happen without changing the registry")
	_ = cmd.MarkFlagRequired("env")
	return cmd
}

func newManifestCmd(a *app) *cobra.Command {
	var promptID string
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Show the migration manifest in append order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(_ context.Context, s *session) error {
				entries := s.man.List()
				if promptID != "" {
					entries = s.man.ForPrompt(promptID)
				}
				if entries == nil {
					entries = []promptvault.MigrationRecord{}
				}
				return write(cmd.OutOrStdout(), a.output, entries)
			})
		},
	}
	cmd.Flags().StringVar(&promptID, "prompt", "", "only entries whose source or target is this prompt")
	return cmd
}
