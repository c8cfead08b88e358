package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skosovsky/promptvault/internal/config"
	"github.com/skosovsky/promptvault/internal/logging"
	"github.com/skosovsky/promptvault/manifest"
	"github.com/skosovsky/promptvault/migration"
	"github.com/skosovsky/promptvault/registry"
)

// app carries the flag values and the resolved configuration of one invocation.
type app struct {
	cfgFile  string
	output   string
	operator string

	cfg    *config.Config
	logger *zap.Logger
}

// session is an opened registry with its manifest and migration engine.
type session struct {
	reg   *registry.Registry
	man   *manifest.Manifest
	eng   *migration.Engine
	close func() error
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "promptvault",
		Short: "Versioned prompt registry with audited environment promotion",
		Long: `promptvault stores versioned system instructions and templates for conversational
agents and promotes them through the environment chain dev -> qa -> staging -> prod.

History is append-only: new versions and rollbacks always add a version. Every promotion
attempt, including dry runs and failures, is recorded in the migration manifest.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "",
		"config file (default: ./promptvault.yaml or ~/.promptvault/promptvault.yaml)")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", formatYAML, "output format: yaml or json")
	root.PersistentFlags().StringVar(&a.operator, "operator", "",
		"operator identity recorded on changes (default: config operator or $OPERATOR_NAME)")

	root.AddCommand(
		newIngestCmd(a),
		newListCmd(a),
		newGetCmd(a),
		newHistoryCmd(a),
		newAddVersionCmd(a),
		newRollbackCmd(a),
		newMigrateCmd(a),
		newMigrateAllCmd(a),
		newManifestCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) load() error {
	if a.output != formatYAML && a.output != formatJSON {
		return fmt.Errorf("unknown output format %q", a.output)
	}
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

// operatorName returns the operator of mutating commands.
func (a *app) operatorName() (string, error) {
	if a.operator != "" {
		return a.operator, nil
	}
	if a.cfg.Operator != "" {
		return a.cfg.Operator, nil
	}
	return "", errors.New("operator is required: pass --operator or set OPERATOR_NAME")
}

func (a *app) open(ctx context.Context) (*session, error) {
	store, closeStore, err := openBackend(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	regOpts := []registry.Option{
		registry.WithLogger(a.logger.Named("registry")),
		registry.WithAllowedDomains(a.cfg.Domains...),
		registry.WithAllowedAgentTypes(a.cfg.AgentTypes...),
	}
	if a.cfg.DefaultModelParameters != nil {
		regOpts = append(regOpts, registry.WithDefaultModelParameters(a.cfg.DefaultModelParameters))
	}
	reg, err := registry.New(ctx, store, regOpts...)
	if err != nil {
		return nil, errors.Join(err, closeStore())
	}
	man, err := manifest.Open(ctx, store, manifest.WithLogger(a.logger.Named("manifest")))
	if err != nil {
		return nil, errors.Join(err, closeStore())
	}
	eng := migration.NewEngine(reg, man,
		migration.WithLogger(a.logger.Named("migration")),
		migration.WithDryRunAudit(a.cfg.AuditDryRuns),
	)
	return &session{reg: reg, man: man, eng: eng, close: closeStore}, nil
}

// withSession opens a session for the duration of fn.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) (err error) {
	ctx := cmd.Context()
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, s)
}
