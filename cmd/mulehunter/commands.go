// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/MuleHunter/pkg/artifactstore"
	"github.com/AleutianAI/MuleHunter/pkg/config"
	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/pkg/graphexport"
	"github.com/AleutianAI/MuleHunter/pkg/logging"
	"github.com/AleutianAI/MuleHunter/pkg/txgraph"
	"github.com/AleutianAI/MuleHunter/pkg/ux"
	"github.com/AleutianAI/MuleHunter/services/ai_engine/engine"
	"github.com/AleutianAI/MuleHunter/services/ai_engine/model"
	"github.com/AleutianAI/MuleHunter/services/visual_analytics/anomaly"
	"github.com/AleutianAI/MuleHunter/services/visual_analytics/pipeline"
	"github.com/spf13/cobra"
)

// cli holds state shared by every subcommand once the root pre-run has
// loaded configuration.
type cli struct {
	configPath string
	output     string
	cfg        config.Config
	logger     *logging.Logger
	out        *ux.Printer
}

func (c *cli) slogger() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger.Slog()
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "mulehunter",
		Short:         "Generate, train and analyze the MuleHunter transaction graph",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			format, err := ux.ParseFormat(c.output)
			if err != nil {
				return err
			}
			c.out = ux.NewPrinter(cmd.OutOrStdout(), format)
			if cmd.Name() == "init-config" {
				return nil
			}
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = logging.New(logging.Config{
				Level:   logging.ParseLevel(cfg.Logging.Level),
				JSON:    cfg.Logging.JSON,
				LogDir:  cfg.Logging.Dir,
				Service: "mulehunter-cli",
				Output:  cmd.ErrOrStderr(),
			})
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.logger != nil {
				return c.logger.Close()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "",
		"config file (default: ./"+config.DefaultFileName+" when present)")
	rootCmd.PersistentFlags().StringVarP(&c.output, "output", "o", string(ux.FormatAuto),
		"output format: auto, text, plain or json")

	rootCmd.AddCommand(
		c.initConfigCmd(),
		c.generateCmd(),
		c.trainCmd(),
		c.analyzeCmd(),
		c.scoreCmd(),
		c.exportGraphCmd(),
		c.publishCmd(),
	)
	return rootCmd
}

// signalContext cancels on Ctrl-C so long training runs stop between epochs.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func (c *cli) engine() *engine.Engine {
	return engine.New(engine.Config{
		Paths:     c.cfg.Paths(),
		Generator: c.cfg.Generator.Generator(),
		Training: model.TrainConfig{
			Hidden:       c.cfg.Training.Hidden,
			Epochs:       c.cfg.Training.Epochs,
			LearningRate: c.cfg.Training.LearningRate,
			Seed:         c.cfg.Training.Seed,
		},
		Logger: c.slogger(),
	})
}

func (c *cli) forestConfig() anomaly.ForestConfig {
	return anomaly.ForestConfig{
		Estimators:    c.cfg.Anomaly.Estimators,
		Contamination: c.cfg.Anomaly.Contamination,
		Seed:          c.cfg.Anomaly.Seed,
	}
}

// =============================================================================
// init-config
// =============================================================================

func (c *cli) initConfigCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFileName
			if len(args) == 1 {
				path = args[0]
			} else if c.configPath != "" {
				path = c.configPath
			}
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			c.out.Success("Wrote default configuration to " + path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

// =============================================================================
// generate / train
// =============================================================================

func (c *cli) generateCmd() *cobra.Command {
	var users, rings int
	var seed uint64
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the synthetic transaction graph into the shared data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("users") {
				c.cfg.Generator.Users = users
			}
			if cmd.Flags().Changed("rings") {
				c.cfg.Generator.Rings = rings
			}
			if cmd.Flags().Changed("seed") {
				c.cfg.Generator.Seed = seed
			}
			if err := c.cfg.Validate(); err != nil {
				return err
			}
			summary, err := c.engine().GenerateData(cmd.Context())
			if err != nil {
				return fmt.Errorf("generate: %w", err)
			}
			return c.out.Result("Dataset generated", summary, []ux.Field{
				{Key: "directory", Value: c.cfg.SharedDataDir},
				{Key: "nodes", Value: summary.Nodes},
				{Key: "edges", Value: summary.Edges},
				{Key: "fraud_nodes", Value: summary.FraudNodes},
				{Key: "rings", Value: summary.Rings},
			})
		},
	}
	cmd.Flags().IntVar(&users, "users", 0, "number of accounts")
	cmd.Flags().IntVar(&rings, "rings", 0, "number of injected mule rings")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed")
	return cmd
}

func (c *cli) trainCmd() *cobra.Command {
	var epochs int
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the GraphSAGE risk model on the dataset on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("epochs") {
				c.cfg.Training.Epochs = epochs
			}
			if err := c.cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()
			report, err := c.engine().TrainModel(ctx)
			if err != nil {
				return fmt.Errorf("train: %w", err)
			}
			return c.out.Result("Model trained", report, []ux.Field{
				{Key: "epochs", Value: report.Epochs},
				{Key: "initial_loss", Value: report.InitialLoss},
				{Key: "final_loss", Value: report.FinalLoss},
				{Key: "train_accuracy", Value: report.TrainAccuracy},
				{Key: "nodes", Value: report.Nodes},
				{Key: "fraud_nodes", Value: report.FraudNodes},
				{Key: "duration", Value: report.Duration.Round(time.Millisecond)},
			})
		},
	}
	cmd.Flags().IntVar(&epochs, "epochs", 0, "training epochs")
	return cmd
}

// =============================================================================
// analyze
// =============================================================================

func (c *cli) analyzeCmd() *cobra.Command {
	var req datatypes.TransactionRequest
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score a single transaction with the trained model",
		Long: `Loads the dataset and model from the shared data directory and scores the
transaction the same way the AI engine's /analyze-transaction endpoint does.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng := c.engine()
			if err := eng.Load(cmd.Context()); err != nil {
				return fmt.Errorf("load model (run generate and train first): %w", err)
			}
			resp, err := eng.Analyze(cmd.Context(), req)
			if err != nil {
				return err
			}
			return c.out.Result("Transaction risk", resp, []ux.Field{
				{Key: "node_id", Value: resp.NodeID},
				{Key: "risk_score", Value: resp.RiskScore},
				{Key: "verdict", Value: resp.Verdict},
				{Key: "out_degree", Value: resp.OutDegree},
				{Key: "risk_ratio", Value: resp.RiskRatio},
				{Key: "linked_accounts", Value: resp.LinkedAccounts},
				{Key: "model_version", Value: resp.ModelVersion},
			})
		},
	}
	cmd.Flags().Int64Var(&req.SourceID, "source", 0, "sending account id")
	cmd.Flags().Int64Var(&req.TargetID, "target", 0, "receiving account id")
	cmd.Flags().Float64Var(&req.Amount, "amount", 0, "transfer amount")
	cmd.Flags().StringVar(&req.Timestamp, "timestamp", "", "transaction timestamp")
	return cmd
}

// =============================================================================
// score
// =============================================================================

func (c *cli) scoreCmd() *cobra.Command {
	var noArtifacts bool
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Run the anomaly and explanation pipeline on the dataset on disk",
		Long: `Enriches the dataset on disk, fits the isolation forest, explains the
anomalies and writes the analytics artifacts next to the dataset. No services
need to be running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := c.cfg.Paths()
			ds, err := txgraph.LoadDataset(paths.Nodes, paths.Edges)
			if err != nil {
				return fmt.Errorf("load dataset: %w", err)
			}

			pcfg := pipeline.Config{
				Backend:      newDatasetBackend(ds),
				Forest:       c.forestConfig(),
				MaxExplained: c.cfg.Anomaly.MaxExplained,
				Logger:       c.slogger(),
			}
			if !noArtifacts {
				pcfg.ArtifactPaths = &paths
			}

			ctx, stop := signalContext(cmd)
			defer stop()
			res, err := pipeline.NewOrchestrator(pcfg).Run(ctx)
			if err != nil {
				return err
			}
			if res.Status == pipeline.StatusEmpty {
				c.out.Warning("Dataset has no accounts to analyze")
			}
			fields := []ux.Field{
				{Key: "run_id", Value: res.RunID},
				{Key: "status", Value: res.Status},
				{Key: "nodes", Value: res.NodeCount},
				{Key: "anomalies", Value: res.Anomalies},
				{Key: "explained", Value: res.Explained},
			}
			if pcfg.ArtifactPaths != nil {
				fields = append(fields, ux.Field{Key: "artifacts", Value: paths.Dir})
			}
			return c.out.Result("Anomaly analysis", res.Summary, fields)
		},
	}
	cmd.Flags().BoolVar(&noArtifacts, "no-artifacts", false, "do not write CSV/JSON results")
	return cmd
}

// =============================================================================
// export-graph
// =============================================================================

func (c *cli) exportGraphCmd() *cobra.Command {
	var withScores bool
	cmd := &cobra.Command{
		Use:   "export-graph",
		Short: "Export accounts and transfers to Neo4j",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := c.cfg.Paths()
			ds, err := txgraph.LoadDataset(paths.Nodes, paths.Edges)
			if err != nil {
				return fmt.Errorf("load dataset: %w", err)
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			var scores []datatypes.AnomalyScore
			if withScores {
				scores, _, err = anomaly.NewDetector(c.forestConfig(), c.slogger()).Detect(ctx, txgraph.Enrich(ds))
				if err != nil {
					return fmt.Errorf("score accounts: %w", err)
				}
			}

			n := c.cfg.Neo4j
			exp, err := graphexport.New(ctx, graphexport.Config{
				URI:       n.URI,
				User:      n.User,
				Password:  n.Password,
				Database:  n.Database,
				BatchSize: n.BatchSize,
			}, c.slogger())
			if err != nil {
				return err
			}
			defer exp.Close(context.WithoutCancel(ctx))

			report, err := exp.Export(ctx, ds, scores)
			if err != nil {
				return err
			}
			return c.out.Result("Graph exported to Neo4j", report, []ux.Field{
				{Key: "uri", Value: n.URI},
				{Key: "accounts", Value: report.Accounts},
				{Key: "transfers", Value: report.Transfers},
				{Key: "scores", Value: report.Scores},
				{Key: "batches", Value: report.Batches},
			})
		},
	}
	cmd.Flags().BoolVar(&withScores, "with-scores", false, "attach isolation forest scores to accounts")
	return cmd
}

// =============================================================================
// publish
// =============================================================================

func (c *cli) publishCmd() *cobra.Command {
	var bucket, prefix string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload the dataset, model and analytics artifacts to a GCS bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			pc := c.cfg.Publish
			if cmd.Flags().Changed("bucket") {
				pc.Bucket = bucket
			}
			if cmd.Flags().Changed("prefix") {
				pc.Prefix = prefix
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			store, err := artifactstore.NewGCS(ctx, artifactstore.GCSConfig{
				Bucket:          pc.Bucket,
				CredentialsFile: pc.CredentialsFile,
			})
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := artifactstore.Publish(ctx, store, c.cfg.Paths(), pc.Prefix, c.slogger())
			if err != nil {
				return fmt.Errorf("publish: %w", err)
			}
			if len(res.Uploaded) == 0 {
				c.out.Warning("No artifacts found in " + c.cfg.SharedDataDir)
			}
			return c.out.Result("Artifacts published", res, []ux.Field{
				{Key: "bucket", Value: pc.Bucket},
				{Key: "uploaded", Value: res.Uploaded},
				{Key: "missing", Value: res.Missing},
			})
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "destination bucket")
	cmd.Flags().StringVar(&prefix, "prefix", "", "object name prefix")
	return cmd
}
