package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vertical-labs/firehose/cli/internal/client"
	"github.com/vertical-labs/firehose/cli/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "fhctl",
	Short: "Firehose CLI",
	Long: `fhctl is the command-line interface for the firehose pipeline.

Control the upstream stream, tail live records, list processed records,
run a local mock upstream and seed the queue with generated records.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.fhctl/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: current profile)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format: table, json, yaml")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

// settings resolves the active profile for cmd.
func settings(cmd *cobra.Command) config.Profile {
	profile, _ := cmd.Flags().GetString("profile")
	return cfg.Resolve(profile)
}

func streamerClient(cmd *cobra.Command) *client.StreamerClient {
	s := settings(cmd)
	return client.NewStreamerClient(s.StreamerURL, s.APIToken)
}

func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")
	return f
}
