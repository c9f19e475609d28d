package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	vp      = viper.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "surveyd",
	Short: "Topology survey node for the overlay network",
	Long: `surveyd runs a survey-capable overlay node: it answers topology survey
requests from authorized surveyors, relays survey traffic within policy, and
exposes an admin HTTP surface for starting surveys and reading results.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yml", "config file")

	// Environment overrides: SURVEYD_LOG_LEVEL, SURVEYD_ADMIN_LISTEN_ADDRESS, ...
	vp.SetEnvPrefix("SURVEYD")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()
}
