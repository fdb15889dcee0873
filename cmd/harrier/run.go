package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/network"
)

func newRunRulesCmd() *cobra.Command {
	var (
		correlationID string
		actor         string
		resume        bool
	)

	cmd := &cobra.Command{
		Use:   "run-rules",
		Short: "Evaluate all unscored transactions through the rule set",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if resume && correlationID == "" {
				return fmt.Errorf("--resume requires --correlation-id")
			}

			d, err := buildDependencies()
			if err != nil {
				return err
			}
			defer d.repo.Close()

			busImpl, err := bus.New(d.cfg.EventBus)
			if err != nil {
				return fmt.Errorf("initializing event bus: %w", err)
			}
			defer busImpl.Close()

			orchestrator, err := engine.New(d.repo, d.chain, busImpl, d.cfg, d.configHash, slog.Default())
			if err != nil {
				return fmt.Errorf("initializing engine: %w", err)
			}

			res, err := orchestrator.Run(ctx, engine.RunOptions{
				CorrelationID: correlationID,
				Resume:        resume,
				Actor:         actor,
			})
			if err != nil {
				return fmt.Errorf("running rules: %w", err)
			}

			fmt.Printf("Run %s: %d processed, %d alerts, %d chunks in %s\n",
				res.CorrelationID, res.Processed, res.AlertsCreated, res.Chunks, res.Duration.Round(1e6))
			return nil
		},
	}

	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation id for the run (generated when empty)")
	cmd.Flags().StringVar(&actor, "actor", "", "Actor label recorded in the audit trail")
	cmd.Flags().BoolVar(&resume, "resume", false, "Resume the run from its last committed checkpoint")
	return cmd
}

func newBuildNetworkCmd() *cobra.Command {
	var (
		correlationID string
		actor         string
	)

	cmd := &cobra.Command{
		Use:   "build-network",
		Short: "Re-aggregate the relationship graph from all transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, err := buildDependencies()
			if err != nil {
				return err
			}
			defer d.repo.Close()

			builder := network.NewBuilder(d.repo, d.chain, slog.Default())
			res, err := builder.Build(ctx, correlationID, actor)
			if err != nil {
				return fmt.Errorf("building network: %w", err)
			}

			fmt.Printf("Network build %s: %d edges from %d transactions in %s\n",
				res.CorrelationID, res.EdgeCount, res.TransactionCount, res.Duration.Round(1e6))
			return nil
		},
	}

	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation id for the build (generated when empty)")
	cmd.Flags().StringVar(&actor, "actor", "", "Actor label recorded in the audit trail")
	return cmd
}
