package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vertical-labs/firehose/cli/internal/config"
	"github.com/vertical-labs/firehose/cli/pkg/output"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage connection profiles",
	Long:  "Store streamer URLs and API tokens in ~/.fhctl/config.yaml",
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or update a profile and make it current",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("profile")
		if name == "" {
			name = "default"
		}

		p := &config.Profile{}
		if existing, err := cfg.GetProfile(name); err == nil {
			*p = *existing
		}
		if cmd.Flags().Changed("url") {
			p.StreamerURL, _ = cmd.Flags().GetString("url")
		}
		if cmd.Flags().Changed("token") {
			p.APIToken, _ = cmd.Flags().GetString("token")
		}
		if cmd.Flags().Changed("nats-url") {
			p.NATSURL, _ = cmd.Flags().GetString("nats-url")
		}
		if p.StreamerURL == "" {
			p.StreamerURL = config.DefaultStreamerURL
		}

		if err := cfg.SaveProfile(name, p); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}

		output.Success("Profile '%s' saved", name)
		return nil
	},
}

type profileView struct {
	Name        string `json:"name" yaml:"name"`
	Current     bool   `json:"current" yaml:"current"`
	StreamerURL string `json:"streamer_url" yaml:"streamer_url"`
	NATSURL     string `json:"nats_url" yaml:"nats_url"`
	HasToken    bool   `json:"has_token" yaml:"has_token"`
}

var profileListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		views := make([]profileView, 0, len(cfg.Profiles))
		for name := range cfg.Profiles {
			eff := cfg.Resolve(name)
			views = append(views, profileView{
				Name:        name,
				Current:     name == cfg.CurrentProfile,
				StreamerURL: eff.StreamerURL,
				NATSURL:     eff.NATSURL,
				HasToken:    eff.APIToken != "",
			})
		}

		return output.Print(outputFormat(cmd), views, func() *output.Table {
			t := output.NewTable("", "NAME", "STREAMER", "NATS", "TOKEN")
			for _, v := range views {
				marker, token := "", "no"
				if v.Current {
					marker = "*"
				}
				if v.HasToken {
					token = "yes"
				}
				t.AddRow(marker, v.Name, v.StreamerURL, v.NATSURL, token)
			}
			return t
		})
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Remove a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RemoveProfile(args[0]); err != nil {
			return err
		}
		output.Success("Profile '%s' removed", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileRemoveCmd)

	profileSetCmd.Flags().String("url", "", "streamer base URL")
	profileSetCmd.Flags().String("token", "", "admin API token")
	profileSetCmd.Flags().String("nats-url", "", "NATS URL used by 'fhctl seed'")
}
