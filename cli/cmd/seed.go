package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vertical-labs/firehose/cli/internal/mockstream"
	"github.com/vertical-labs/firehose/cli/internal/seeder"
	"github.com/vertical-labs/firehose/cli/pkg/output"
	"github.com/vertical-labs/firehose/common/logging"
	"github.com/vertical-labs/firehose/common/messaging"
	natsclient "github.com/vertical-labs/firehose/common/messaging/nats"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish generated records to the queue",
	Long: `Publish generated records straight to the records stream, bypassing
the streamer. A share of publishes can repeat earlier records under new
message ids to exercise the processor's duplicate handling.

Example:
  fhctl seed --count 500 --interval 10ms --duplicates 0.1`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().Int("count", 100, "number of records to publish")
	seedCmd.Flags().Duration("interval", 0, "delay between publishes")
	seedCmd.Flags().Float64("duplicates", 0, "share of publishes that repeat an earlier record (0-1)")
	seedCmd.Flags().String("subject", messaging.SubjectRecordsIngested, "subject to publish on")
	seedCmd.Flags().String("nats-url", "", "NATS URL (default: profile or "+natsclient.DefaultConfig().URL+")")
	seedCmd.Flags().Int64("seed", 0, "random seed (0 = random)")
	seedCmd.Flags().Float64("geo-ratio", 8.0/21.0, "share of records carrying coordinates")
	seedCmd.Flags().Bool("create-stream", true, "create or update the records stream before publishing")
	seedCmd.Flags().String("log-level", "warn", "log level")
}

func runSeed(cmd *cobra.Command, args []string) error {
	count, _ := cmd.Flags().GetInt("count")
	interval, _ := cmd.Flags().GetDuration("interval")
	dupRatio, _ := cmd.Flags().GetFloat64("duplicates")
	subject, _ := cmd.Flags().GetString("subject")
	natsURL, _ := cmd.Flags().GetString("nats-url")
	seed, _ := cmd.Flags().GetInt64("seed")
	geoRatio, _ := cmd.Flags().GetFloat64("geo-ratio")
	createStream, _ := cmd.Flags().GetBool("create-stream")
	level, _ := cmd.Flags().GetString("log-level")

	if count <= 0 {
		return fmt.Errorf("count must be positive, got %d", count)
	}
	if dupRatio < 0 || dupRatio > 1 {
		return fmt.Errorf("duplicates must be between 0 and 1, got %v", dupRatio)
	}
	if natsURL == "" {
		natsURL = settings(cmd).NATSURL
	}

	logger := logging.NewWithWriter(os.Stderr, logging.ParseLevel(level), "text").With(logging.Service("fhctl-seed"))

	natsCfg := natsclient.DefaultConfig()
	natsCfg.URL = natsURL
	natsCfg.Name = "fhctl-seed"
	natsCfg.MaxReconnects = 3
	natsCfg.Logger = logger.Logger

	js, err := natsclient.NewJetStreamClient(natsCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", natsURL, err)
	}
	defer func() { _ = js.Drain() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if createStream {
		setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := js.CreateOrUpdateStream(setupCtx, natsclient.RecordsStream())
		cancel()
		if err != nil {
			return fmt.Errorf("failed to ensure records stream: %w", err)
		}
	}

	runner := seeder.NewRunner(js, mockstream.NewGenerator(seed, geoRatio), seeder.Config{
		Subject:        subject,
		Count:          count,
		Interval:       interval,
		DuplicateRatio: dupRatio,
	}, logger.Logger)

	start := time.Now()
	stats, err := runner.Run(ctx)
	elapsed := time.Since(start)

	output.Info("Published %d records (%d duplicates, %d failed) in %s",
		stats.Published, stats.Duplicates, stats.Failed, elapsed.Round(time.Millisecond))
	if err != nil {
		return fmt.Errorf("seeding interrupted: %w", err)
	}
	if stats.Failed > 0 {
		output.Warn("%d publishes failed", stats.Failed)
	} else {
		output.Success("Seeding complete")
	}
	return nil
}
