package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/topomesh/surveyd/identity"
	"github.com/topomesh/surveyd/pkg/logtrace"
	"github.com/topomesh/surveyd/survey"
)

// Config represents the YAML configuration structure
type Config struct {
	// NodeSeed is the base58 strkey seed holding this node's identity.
	NodeSeed string `yaml:"node_seed"`

	LogLevel string `yaml:"log_level"`

	Admin struct {
		ListenAddress string `yaml:"listen_address"`
	} `yaml:"admin"`

	Overlay struct {
		Version              uint32 `yaml:"version"`
		VersionStr           string `yaml:"version_str"`
		ExpectedRoundSeconds int    `yaml:"expected_round_seconds"`
	} `yaml:"overlay"`

	Survey struct {
		// SurveyorKeys is the allow-list of surveyor node IDs. Empty means
		// any surveyor within the transitive quorum is accepted.
		SurveyorKeys      []string `yaml:"surveyor_keys"`
		MinOverlayVersion uint32   `yaml:"min_overlay_version"`
		ThrottleMult      uint32   `yaml:"throttle_mult"`
	} `yaml:"survey"`

	Quorum struct {
		// TrustedNodes seeds the transitive quorum computation.
		TrustedNodes []string `yaml:"trusted_nodes"`
	} `yaml:"quorum"`

	Archive struct {
		Path string `yaml:"path"`
	} `yaml:"archive"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(filename string) (*Config, error) {
	ctx := context.Background()

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("error getting absolute path for config file: %w", err)
	}

	logtrace.Info(ctx, "Loading configuration", logtrace.Fields{
		"path": absPath,
	})

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file %s does not exist", absPath)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if config.NodeSeed == "" {
		return nil, fmt.Errorf("node_seed is required in config file")
	}
	if _, err := identity.SeedFromString(config.NodeSeed); err != nil {
		return nil, fmt.Errorf("invalid node_seed: %w", err)
	}
	for _, key := range config.Survey.SurveyorKeys {
		if _, err := identity.NodeIDFromString(key); err != nil {
			return nil, fmt.Errorf("invalid surveyor key %q: %w", key, err)
		}
	}
	for _, key := range config.Quorum.TrustedNodes {
		if _, err := identity.NodeIDFromString(key); err != nil {
			return nil, fmt.Errorf("invalid trusted node %q: %w", key, err)
		}
	}

	if config.LogLevel == "" {
		config.LogLevel = "info"
		logtrace.Info(ctx, "Using default log level", logtrace.Fields{
			"level": config.LogLevel,
		})
	}

	if config.Admin.ListenAddress == "" {
		config.Admin.ListenAddress = "127.0.0.1:11626"
		logtrace.Info(ctx, "Using default admin listen address", logtrace.Fields{
			"address": config.Admin.ListenAddress,
		})
	}

	if config.Overlay.Version == 0 {
		config.Overlay.Version = survey.MinOverlayVersionForSurvey
		logtrace.Info(ctx, "Using default overlay version", logtrace.Fields{
			"version": config.Overlay.Version,
		})
	}

	if config.Overlay.VersionStr == "" {
		config.Overlay.VersionStr = "surveyd-dev"
		logtrace.Info(ctx, "Using default overlay version string", logtrace.Fields{
			"version_str": config.Overlay.VersionStr,
		})
	}

	if config.Overlay.ExpectedRoundSeconds <= 0 {
		config.Overlay.ExpectedRoundSeconds = 5
		logtrace.Info(ctx, "Using default expected round duration", logtrace.Fields{
			"seconds": config.Overlay.ExpectedRoundSeconds,
		})
	}

	if config.Survey.MinOverlayVersion == 0 {
		config.Survey.MinOverlayVersion = survey.MinOverlayVersionForSurvey
		logtrace.Info(ctx, "Using default minimum survey overlay version", logtrace.Fields{
			"version": config.Survey.MinOverlayVersion,
		})
	}

	if config.Survey.ThrottleMult == 0 {
		config.Survey.ThrottleMult = survey.ThrottleTimeoutMult
		logtrace.Info(ctx, "Using default survey throttle multiplier", logtrace.Fields{
			"mult": config.Survey.ThrottleMult,
		})
	}

	if config.Archive.Path != "" {
		if err := os.MkdirAll(filepath.Dir(config.Archive.Path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	logtrace.Info(ctx, "Configuration loaded successfully", logtrace.Fields{})
	return &config, nil
}
