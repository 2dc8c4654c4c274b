package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/vertical-labs/firehose/cli/internal/client"
	"github.com/vertical-labs/firehose/cli/pkg/output"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect processed records",
}

var recordsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List every processed record",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := streamerClient(cmd).ProcessedRecords(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list records: %w", err)
		}

		return output.Print(outputFormat(cmd), records, func() *output.Table {
			t := output.NewTable("RECORD", "BUCKET", "PROCESSED")
			for _, r := range records {
				t.AddRow(r.ID, r.DateBucket, r.ProcessedAt.Format(time.RFC3339))
			}
			return t
		})
	},
}

var recordsCountriesCmd = &cobra.Command{
	Use:   "countries",
	Short: "Show origin-country tallies",
	Long:  "Show per-country record counts. Requires stats to be enabled on the streamer and processor.",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := streamerClient(cmd).CountryStats(cmd.Context())
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				return errors.New("country stats are not enabled on this streamer")
			}
			return fmt.Errorf("failed to get country stats: %w", err)
		}

		return output.Print(outputFormat(cmd), stats, func() *output.Table {
			t := output.NewTable("COUNTRY", "TOTAL", "TODAY", "LAST 24H", "LAST HOUR")
			for _, c := range stats.Countries {
				t.AddRow(c.Country,
					strconv.FormatInt(c.Total, 10),
					strconv.FormatInt(c.Today, 10),
					strconv.FormatInt(c.Last24h, 10),
					strconv.FormatInt(c.LastHour, 10),
				)
			}
			return t
		})
	},
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsCountriesCmd)
}
