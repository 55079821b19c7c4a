// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the MuleHunter configuration file.
//
// Precedence, lowest to highest: built-in defaults, the YAML file, then
// MULEHUNTER_* environment variables (nested keys joined with "_", e.g.
// MULEHUNTER_TRAINING_EPOCHS=50).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/MuleHunter/pkg/txgraph"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the environment variable prefix for overrides.
const EnvPrefix = "MULEHUNTER"

// DefaultFileName is the config file looked up when no path is given.
const DefaultFileName = "mulehunter.yaml"

// Config is the root configuration.
type Config struct {
	SharedDataDir string          `yaml:"shared_data_dir" mapstructure:"shared_data_dir" validate:"required"`
	Generator     GeneratorConfig `yaml:"generator" mapstructure:"generator"`
	Training      TrainingConfig  `yaml:"training" mapstructure:"training"`
	Anomaly       AnomalyConfig   `yaml:"anomaly" mapstructure:"anomaly"`
	Services      ServicesConfig  `yaml:"services" mapstructure:"services"`
	Neo4j         Neo4jConfig     `yaml:"neo4j" mapstructure:"neo4j"`
	Publish       PublishConfig   `yaml:"publish" mapstructure:"publish"`
	Logging       LoggingConfig   `yaml:"logging" mapstructure:"logging"`
}

// GeneratorConfig mirrors txgraph.GeneratorConfig.
type GeneratorConfig struct {
	Users       int    `yaml:"users" mapstructure:"users" validate:"gte=10"`
	AttachEdges int    `yaml:"attach_edges" mapstructure:"attach_edges" validate:"gte=1,ltfield=Users"`
	Rings       int    `yaml:"rings" mapstructure:"rings" validate:"gte=0"`
	FanInMin    int    `yaml:"fan_in_min" mapstructure:"fan_in_min" validate:"gte=0"`
	FanInMax    int    `yaml:"fan_in_max" mapstructure:"fan_in_max" validate:"gtefield=FanInMin"`
	Seed        uint64 `yaml:"seed" mapstructure:"seed"`
}

// TrainingConfig controls GNN training.
type TrainingConfig struct {
	Hidden       int     `yaml:"hidden" mapstructure:"hidden" validate:"gte=1"`
	Epochs       int     `yaml:"epochs" mapstructure:"epochs" validate:"gte=1"`
	LearningRate float64 `yaml:"learning_rate" mapstructure:"learning_rate" validate:"gt=0"`
	Seed         uint64  `yaml:"seed" mapstructure:"seed"`
}

// AnomalyConfig controls the isolation forest and explanations.
type AnomalyConfig struct {
	Estimators    int     `yaml:"estimators" mapstructure:"estimators" validate:"gte=1"`
	Contamination float64 `yaml:"contamination" mapstructure:"contamination" validate:"gt=0,lte=0.5"`
	Seed          uint64  `yaml:"seed" mapstructure:"seed"`
	MaxExplained  int     `yaml:"max_explained" mapstructure:"max_explained" validate:"gte=0"`
}

// ServicesConfig locates the HTTP services.
type ServicesConfig struct {
	AIEngineURL    string `yaml:"ai_engine_url" mapstructure:"ai_engine_url" validate:"omitempty,url"`
	BackendURL     string `yaml:"backend_url" mapstructure:"backend_url" validate:"omitempty,url"`
	InternalAPIKey string `yaml:"internal_api_key" mapstructure:"internal_api_key"`
}

// Neo4jConfig is used by export-graph.
type Neo4jConfig struct {
	URI       string `yaml:"uri" mapstructure:"uri"`
	User      string `yaml:"user" mapstructure:"user"`
	Password  string `yaml:"password" mapstructure:"password"`
	Database  string `yaml:"database" mapstructure:"database"`
	BatchSize int    `yaml:"batch_size" mapstructure:"batch_size" validate:"gte=1"`
}

// PublishConfig is used by publish. An empty CredentialsFile uses
// application default credentials.
type PublishConfig struct {
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix" mapstructure:"prefix"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
	Dir   string `yaml:"dir" mapstructure:"dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	g := txgraph.DefaultGeneratorConfig()
	return Config{
		SharedDataDir: "./shared-data",
		Generator: GeneratorConfig{
			Users:       g.Users,
			AttachEdges: g.AttachEdges,
			Rings:       g.Rings,
			FanInMin:    g.FanInMin,
			FanInMax:    g.FanInMax,
			Seed:        g.Seed,
		},
		Training: TrainingConfig{
			Hidden:       16,
			Epochs:       100,
			LearningRate: 0.01,
			Seed:         42,
		},
		Anomaly: AnomalyConfig{
			Estimators:    200,
			Contamination: 0.03,
			Seed:          42,
			MaxExplained:  100,
		},
		Services: ServicesConfig{
			AIEngineURL: "http://localhost:8000",
			BackendURL:  "http://localhost:8080",
		},
		Neo4j: Neo4jConfig{
			URI:       "neo4j://localhost:7687",
			User:      "neo4j",
			Database:  "neo4j",
			BatchSize: 500,
		},
		Publish: PublishConfig{Prefix: "mulehunter"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Generator converts to the generator's own config type.
func (g GeneratorConfig) Generator() txgraph.GeneratorConfig {
	return txgraph.GeneratorConfig{
		Users:       g.Users,
		AttachEdges: g.AttachEdges,
		Rings:       g.Rings,
		FanInMin:    g.FanInMin,
		FanInMax:    g.FanInMax,
		Seed:        g.Seed,
	}
}

// Load reads configuration from path. An empty path looks for
// DefaultFileName in the working directory and falls back to defaults
// when it is absent. An explicit path that does not exist is an error.
func Load(path string) (Config, error) {
	var cfg Config

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return cfg, fmt.Errorf("encode defaults: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return cfg, fmt.Errorf("load defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}
	if _, statErr := os.Stat(path); statErr == nil {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return cfg, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else if explicit || !errors.Is(statErr, os.ErrNotExist) {
		return cfg, fmt.Errorf("config file %s: %w", path, statErr)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// WriteDefault writes the default configuration as YAML. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// =============================================================================
// Shared data layout
// =============================================================================

// Paths lists the artifact files under the shared data directory.
type Paths struct {
	Dir               string
	Nodes             string
	Edges             string
	Model             string
	AnomalyScores     string
	NodesScored       string
	Viz               string
	ShapExplanations  string
	FraudExplanations string
}

// File names inside the shared data directory.
const (
	NodesFile             = "nodes.csv"
	EdgesFile             = "transactions.csv"
	ModelFile             = "mule_model.json"
	AnomalyScoresFile     = "anomaly_scores.csv"
	NodesScoredFile       = "nodes_scored.csv"
	VizFile               = "nodes_viz.json"
	ShapExplanationsFile  = "shap_explanations.json"
	FraudExplanationsFile = "fraud_explanations.json"
)

// PathsFor returns the artifact layout rooted at dir.
func PathsFor(dir string) Paths {
	return Paths{
		Dir:               dir,
		Nodes:             filepath.Join(dir, NodesFile),
		Edges:             filepath.Join(dir, EdgesFile),
		Model:             filepath.Join(dir, ModelFile),
		AnomalyScores:     filepath.Join(dir, AnomalyScoresFile),
		NodesScored:       filepath.Join(dir, NodesScoredFile),
		Viz:               filepath.Join(dir, VizFile),
		ShapExplanations:  filepath.Join(dir, ShapExplanationsFile),
		FraudExplanations: filepath.Join(dir, FraudExplanationsFile),
	}
}

// Paths returns the artifact layout for c.SharedDataDir.
func (c Config) Paths() Paths {
	return PathsFor(c.SharedDataDir)
}
