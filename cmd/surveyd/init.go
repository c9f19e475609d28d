package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/topomesh/surveyd/config"
	"github.com/topomesh/surveyd/identity"
)

var forceInit bool

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new survey node",
	Long: `Initialize a new survey node by creating a configuration file and a
node identity.

This command walks through an interactive setup:
1. Generate a fresh node seed or recover one from a mnemonic
2. Configure the admin listen address and overlay version string
3. Write the config file

Example:
  surveyd init
  surveyd init --force  # Overwrite an existing config file`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		absPath, err := filepath.Abs(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to resolve config path: %w", err)
		}
		if _, err := os.Stat(absPath); err == nil && !forceInit {
			return fmt.Errorf("config file already exists at %s\nUse --force to overwrite", absPath)
		}

		seed, mnemonic, err := promptIdentity()
		if err != nil {
			return err
		}

		cfg, err := promptNodeConfig(seed)
		if err != nil {
			return err
		}

		if err := writeConfig(absPath, cfg); err != nil {
			return err
		}

		fmt.Printf("\nConfig written to %s\n", absPath)
		fmt.Printf("Node ID: %s\n", seed.NodeID())
		if mnemonic != "" {
			fmt.Printf("\nRecovery mnemonic (store it safely, it is not saved anywhere):\n\n  %s\n", mnemonic)
		}
		fmt.Println("\nStart the node with: surveyd start --config", cfgFile)
		return nil
	},
}

// promptIdentity creates or recovers the node seed. The mnemonic is returned
// only when freshly generated, so it can be shown once.
func promptIdentity() (*identity.Seed, string, error) {
	var action string
	if err := survey.AskOne(&survey.Select{
		Message: "Node identity:",
		Options: []string{"generate a new identity", "recover from mnemonic"},
		Default: "generate a new identity",
	}, &action); err != nil {
		return nil, "", err
	}

	if action == "recover from mnemonic" {
		var mnemonic string
		if err := survey.AskOne(&survey.Password{
			Message: "Enter your recovery mnemonic:",
		}, &mnemonic, survey.WithValidator(survey.Required)); err != nil {
			return nil, "", err
		}
		seed, err := identity.SeedFromMnemonic(mnemonic, "")
		if err != nil {
			return nil, "", fmt.Errorf("failed to recover identity: %w", err)
		}
		return seed, "", nil
	}

	mnemonic, err := identity.NewMnemonic()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	seed, err := identity.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, "", err
	}
	return seed, mnemonic, nil
}

func promptNodeConfig(seed *identity.Seed) (*config.Config, error) {
	answers := struct {
		AdminListen string
		VersionStr  string
		ArchivePath string
	}{}
	questions := []*survey.Question{
		{
			Name: "adminListen",
			Prompt: &survey.Input{
				Message: "Admin listen address:",
				Default: "127.0.0.1:11626",
			},
		},
		{
			Name: "versionStr",
			Prompt: &survey.Input{
				Message: "Overlay version string:",
				Default: "surveyd-dev",
			},
		},
		{
			Name: "archivePath",
			Prompt: &survey.Input{
				Message: "Survey archive path (empty to disable):",
			},
		},
	}
	if err := survey.Ask(questions, &answers); err != nil {
		return nil, err
	}

	cfg := &config.Config{NodeSeed: seed.String()}
	cfg.Admin.ListenAddress = answers.AdminListen
	cfg.Overlay.VersionStr = answers.VersionStr
	cfg.Archive.Path = answers.ArchivePath
	return cfg, nil
}

func writeConfig(path string, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}
