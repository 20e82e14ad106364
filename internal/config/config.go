// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package config loads the shell's optional configuration file.
// YAML (.yaml, .yml) and HCL (.hcl) files are supported; fields that are absent keep
// their defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/matt-FFFFFF/tsh/internal/jobs"
	"github.com/spf13/afero"
)

// DefaultPrompt is the prompt printed before each line is read.
const DefaultPrompt = "tsh> "

var (
	// ErrReadConfig is returned when the configuration file cannot be read.
	ErrReadConfig = errors.New("failed to read config file")
	// ErrParseConfig is returned when the configuration file is not valid YAML or HCL.
	ErrParseConfig = errors.New("failed to parse config file")
	// ErrInvalidConfig is returned when a configuration value is out of range.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrUnsupportedFormat is returned for file extensions other than .yaml, .yml and .hcl.
	ErrUnsupportedFormat = errors.New("unsupported config file format")
)

// FsFactory returns the filesystem configuration files are read from.
var FsFactory = func() afero.Fs {
	return afero.NewOsFs()
}

// Config holds the shell settings.
type Config struct {
	Prompt     string `yaml:"prompt" hcl:"prompt,optional" validate:"max=64"`
	EmitPrompt bool   `yaml:"emit_prompt" hcl:"emit_prompt,optional"`
	Verbose    bool   `yaml:"verbose" hcl:"verbose,optional"`
	MaxJobs    int    `yaml:"max_jobs" hcl:"max_jobs,optional" validate:"min=1,max=1024"`
	LogLevel   string `yaml:"log_level" hcl:"log_level,optional" validate:"omitempty,oneof=DEBUG INFO WARN ERROR"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Prompt:     DefaultPrompt,
		EmitPrompt: true,
		MaxJobs:    jobs.DefaultCapacity,
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	content, err := afero.ReadFile(FsFactory(), path)
	if err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrReadConfig, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: %w", ErrParseConfig, err)
		}
	case ".hcl":
		if err := decodeHCL(content, path, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: %w", ErrParseConfig, err)
		}
	default:
		return cfg, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	cfg.LogLevel = strings.ToUpper(cfg.LogLevel)

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return cfg, nil
}

func decodeHCL(content []byte, filename string, cfg *Config) error {
	file, diags := hclsyntax.ParseConfig(content, filename, hcl.InitialPos)
	if diags.HasErrors() {
		return joinDiags(diags)
	}

	if diags := gohcl.DecodeBody(file.Body, nil, cfg); diags.HasErrors() {
		return joinDiags(diags)
	}

	return nil
}

func joinDiags(diags hcl.Diagnostics) error {
	var err error
	for _, e := range diags.Errs() {
		err = multierror.Append(err, e)
	}

	return err
}
