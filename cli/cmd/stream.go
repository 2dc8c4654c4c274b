package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vertical-labs/firehose/cli/pkg/output"
	"github.com/vertical-labs/firehose/common/models"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Control the upstream stream",
	Long:  "Start, stop and inspect the streamer's upstream connection",
}

var streamStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Enable monitoring (connect upstream)",
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := streamerClient(cmd).EnableMonitoring(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to enable monitoring: %w", err)
		}
		output.Success("%s", msg)
		return nil
	},
}

var streamStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Disable monitoring (disconnect upstream)",
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := streamerClient(cmd).DisableMonitoring(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to disable monitoring: %w", err)
		}
		output.Success("%s", msg)
		return nil
	},
}

var streamStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the upstream connection state",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := streamerClient(cmd).Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get stream status: %w", err)
		}
		return output.Print(outputFormat(cmd), status, func() *output.Table {
			t := output.NewTable("STATE", "CONNECTING", "CONNECTED")
			t.AddRow(status.State, fmt.Sprint(status.Connecting), fmt.Sprint(status.Connected))
			return t
		})
	},
}

var streamKeywordsCmd = &cobra.Command{
	Use:   "keywords [rule]",
	Short: "Replace the upstream filter rule",
	Long: `Replace every upstream filter rule with a single rule.

Example:
  fhctl stream keywords "cats OR dogs"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keywords := strings.Join(args, " ")
		msg, err := streamerClient(cmd).SetKeywords(cmd.Context(), keywords)
		if err != nil {
			return fmt.Errorf("failed to set keywords: %w", err)
		}
		output.Success("%s", msg)
		return nil
	},
}

var streamTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow live records from the monitor stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		errLimit := errors.New("limit reached")
		seen := 0
		err := streamerClient(cmd).Tail(ctx, func(item models.StreamItem) error {
			if outputFormat(cmd) == "json" {
				if err := output.JSON(item); err != nil {
					return err
				}
			} else {
				lat, long, ok := item.Data.LatLong()
				where := "-"
				if ok {
					where = fmt.Sprintf("%.4f,%.4f", lat, long)
				}
				output.Info("%s  %s  %s  %s", item.Data.CreatedAt, item.Data.ID, where, item.Data.Message)
			}
			seen++
			if limit > 0 && seen >= limit {
				return errLimit
			}
			return nil
		})
		if err != nil && !errors.Is(err, errLimit) && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("tail failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(streamCmd)
	streamCmd.AddCommand(streamStartCmd)
	streamCmd.AddCommand(streamStopCmd)
	streamCmd.AddCommand(streamStatusCmd)
	streamCmd.AddCommand(streamKeywordsCmd)
	streamCmd.AddCommand(streamTailCmd)

	streamTailCmd.Flags().Int("limit", 0, "stop after this many records (0 = follow)")
}
