package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/topomesh/surveyd/identity"
)

// keysCmd groups identity management subcommands
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage node identities",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new node identity",
	Long: `Generate a fresh node identity and print its seed, node ID, and
recovery mnemonic. Nothing is written to disk.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mnemonic, err := identity.NewMnemonic()
		if err != nil {
			return fmt.Errorf("failed to generate mnemonic: %w", err)
		}
		seed, err := identity.SeedFromMnemonic(mnemonic, "")
		if err != nil {
			return err
		}
		fmt.Printf("Node ID:  %s\n", seed.NodeID())
		fmt.Printf("Seed:     %s\n", seed)
		fmt.Printf("Mnemonic: %s\n", mnemonic)
		return nil
	},
}

var keysRecoverCmd = &cobra.Command{
	Use:   "recover [mnemonic words...]",
	Short: "Recover a node identity from its mnemonic",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seed, err := identity.SeedFromMnemonic(strings.Join(args, " "), "")
		if err != nil {
			return fmt.Errorf("failed to recover identity: %w", err)
		}
		fmt.Printf("Node ID: %s\n", seed.NodeID())
		fmt.Printf("Seed:    %s\n", seed)
		return nil
	},
}

var keysShowCmd = &cobra.Command{
	Use:   "show [seed]",
	Short: "Show the node ID for a seed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seed, err := identity.SeedFromString(args[0])
		if err != nil {
			return fmt.Errorf("invalid seed: %w", err)
		}
		fmt.Printf("Node ID: %s\n", seed.NodeID())
		return nil
	},
}

func init() {
	keysCmd.AddCommand(keysGenerateCmd)
	keysCmd.AddCommand(keysRecoverCmd)
	keysCmd.AddCommand(keysShowCmd)
	rootCmd.AddCommand(keysCmd)
}
