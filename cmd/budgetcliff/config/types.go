// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the budgetcliff.yaml schema and its loader.
package config

import (
	"slices"
	"time"
)

// DefaultPath is where the CLI looks for its config when --config is not set.
const DefaultPath = "budgetcliff.yaml"

// Config is the whole budgetcliff.yaml file.
type Config struct {
	// Study: which model and dataset, and where the results live
	Study StudyConfig `yaml:"study"`

	// Budgets: the token budgets each sweep phase covers
	Budgets BudgetsConfig `yaml:"budgets"`

	// Annotation: how many failures to export for labeling per budget
	Annotation AnnotationConfig `yaml:"annotation"`

	// Analysis: thresholds for the stability gate, cliff and saturation
	Analysis AnalysisConfig `yaml:"analysis"`

	// Backend: the inference server that produces generations
	Backend BackendConfig `yaml:"backend"`

	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type StudyConfig struct {
	// Model labels the study, e.g. qwen2.5:1.5b
	Model string `yaml:"model" validate:"required"`

	// Dataset is a JSONL file of problems (GSM8K or SVAMP fields).
	Dataset string `yaml:"dataset" validate:"required"`

	// Format picks the prompt template: gsm8k or plain.
	Format string `yaml:"format" validate:"omitempty,oneof=gsm8k plain"`

	// Limit caps the problems loaded. 0 means all of them.
	Limit int `yaml:"limit" validate:"gte=0"`

	DataDir        string `yaml:"data_dir" validate:"required"`
	AnnotationsDir string `yaml:"annotations_dir" validate:"required"`
	Seed           uint64 `yaml:"seed"`
}

type BudgetsConfig struct {
	Main             []int `yaml:"main" validate:"required,min=2,dive,gt=0"`
	Stochastic       []int `yaml:"stochastic" validate:"dive,gt=0"`
	StochasticTrials int   `yaml:"stochastic_trials" validate:"gte=2"`
	Cliff            []int `yaml:"cliff" validate:"dive,gt=0"`
}

type AnnotationConfig struct {
	// SamplesPerBudget maps budget to the number of failures exported.
	SamplesPerBudget map[int]int `yaml:"samples_per_budget" validate:"dive,keys,gt=0,endkeys,gt=0"`

	// Suggest adds heuristic suggestion columns to exported files.
	Suggest bool `yaml:"suggest"`
}

type AnalysisConfig struct {
	StabilityThreshold float64 `yaml:"stability_threshold" validate:"gt=0,lt=1"`
	CliffTopK          int     `yaml:"cliff_top_k" validate:"gte=1"`
	SaturationEpsilon  float64 `yaml:"saturation_epsilon" validate:"gt=0,lt=1"`
}

type BackendConfig struct {
	// Type is "ollama" or "openai" (any OpenAI-compatible server)
	Type    string `yaml:"type" validate:"oneof=ollama openai"`
	BaseURL string `yaml:"base_url,omitempty" validate:"omitempty,url"`

	// Model overrides study.model as the name sent to the backend.
	Model string `yaml:"model,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	System      string  `yaml:"system,omitempty"`
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	TopP        float32 `yaml:"top_p" validate:"gte=0,lte=1"`

	Concurrency int `yaml:"concurrency" validate:"gte=1,lte=256"`

	// RequestsPerSecond limits generation calls. 0 means unlimited.
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	MaxAttempts       int           `yaml:"max_attempts" validate:"gte=1"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON   bool   `yaml:"json"`
	LogDir string `yaml:"log_dir,omitempty"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"omitempty,oneof=none stdout"`
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=none prometheus stdout"`
	ServiceName    string `yaml:"service_name"`
}

// BackendModel is the model name sent to the backend.
func (c Config) BackendModel() string {
	if c.Backend.Model != "" {
		return c.Backend.Model
	}
	return c.Study.Model
}

// AnnotationBudgets returns the configured annotation budgets, ascending.
func (a AnnotationConfig) AnnotationBudgets() []int {
	out := make([]int, 0, len(a.SamplesPerBudget))
	for b := range a.SamplesPerBudget {
		out = append(out, b)
	}
	slices.Sort(out)
	return out
}

func DefaultConfig() Config {
	return Config{
		Study: StudyConfig{
			Model:          "qwen2.5:1.5b",
			Dataset:        "data/gsm8k_test.jsonl",
			Format:         "gsm8k",
			DataDir:        "results/study.db",
			AnnotationsDir: "annotations",
			Seed:           42,
		},
		Budgets: BudgetsConfig{
			Main:             []int{32, 64, 128, 256, 512, 1024, 2048},
			Stochastic:       []int{512, 1024},
			StochasticTrials: 5,
			Cliff:            []int{96, 112, 128, 144, 160, 176, 192, 208, 224, 240, 256},
		},
		Annotation: AnnotationConfig{
			SamplesPerBudget: map[int]int{128: 30, 256: 30, 512: 50, 1024: 50},
			Suggest:          true,
		},
		Analysis: AnalysisConfig{
			StabilityThreshold: 0.01,
			CliffTopK:          3,
			SaturationEpsilon:  0.005,
		},
		Backend: BackendConfig{
			Type:              "ollama",
			BaseURL:           "http://localhost:11434",
			APIKeyEnv:         "OPENAI_API_KEY",
			Temperature:       0.7,
			TopP:              0.9,
			Concurrency:       4,
			RequestsPerSecond: 0,
			MaxAttempts:       3,
			Timeout:           5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8088",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			ServiceName:    "budgetcliff",
		},
	}
}
