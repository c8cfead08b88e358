package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skosovsky/promptvault"
	"github.com/skosovsky/promptvault/ingest"
)

func newIngestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file-or-dir>...",
		Short: "Create dev prompts from YAML draft documents",
		Long: `Create dev prompts from YAML draft documents. Directories are searched recursively
for .yaml and .yml files. Prompts that already exist are skipped, so ingesting the same
documents again changes nothing.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			operator, err := a.operatorName()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			var drafts []promptvault.PromptDraft
			for _, path := range args {
				found, err := readDrafts(ctx, path)
				if err != nil {
					return err
				}
				drafts = append(drafts, found...)
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				runner := ingest.NewRunner(s.reg, ingest.WithLogger(a.logger.Named("ingest")))
				rep, err := runner.Run(ctx, drafts, operator)
				if werr := write(cmd.OutOrStdout(), a.output, rep); werr != nil {
					return werr
				}
				return err
			})
		},
	}
}

func readDrafts(ctx context.Context, path string) ([]promptvault.PromptDraft, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if info.IsDir() {
		return ingest.LoadDir(ctx, path)
	}
	return ingest.ParseFile(path)
}
