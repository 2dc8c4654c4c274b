package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vertical-labs/firehose/cli/internal/mockstream"
	"github.com/vertical-labs/firehose/common/logging"
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Run a local mock upstream",
	Long: `Serve a local stand-in for the upstream API.

The mock exposes the filtered stream, the rules endpoint and a country
lookup so the streamer and processor can run without external accounts.

Example:
  fhctl mock --addr :3001 --base-path /mock --interval 1s
  STREAMER_UPSTREAM_URL=http://localhost:3001/mock streamer`,
	RunE: runMock,
}

func init() {
	rootCmd.AddCommand(mockCmd)

	mockCmd.Flags().String("addr", ":3001", "listen address")
	mockCmd.Flags().String("base-path", "/mock", "path prefix for every route")
	mockCmd.Flags().Duration("interval", 3*time.Second, "time between generated records")
	mockCmd.Flags().String("token", "", "require this bearer token (empty = no auth)")
	mockCmd.Flags().Int64("seed", 0, "random seed (0 = random)")
	mockCmd.Flags().Float64("geo-ratio", 8.0/21.0, "share of records carrying coordinates")
	mockCmd.Flags().String("log-level", "info", "log level")
}

func runMock(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	basePath, _ := cmd.Flags().GetString("base-path")
	interval, _ := cmd.Flags().GetDuration("interval")
	token, _ := cmd.Flags().GetString("token")
	seed, _ := cmd.Flags().GetInt64("seed")
	geoRatio, _ := cmd.Flags().GetFloat64("geo-ratio")
	level, _ := cmd.Flags().GetString("log-level")

	if geoRatio < 0 || geoRatio > 1 {
		return fmt.Errorf("geo-ratio must be between 0 and 1, got %v", geoRatio)
	}

	logger := logging.NewWithWriter(os.Stderr, logging.ParseLevel(level), "text").With(logging.Service("mockstream"))
	mock := mockstream.NewServer(mockstream.NewGenerator(seed, geoRatio), mockstream.Config{
		BasePath: basePath,
		Interval: interval,
		Token:    token,
	}, logger.Logger)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mock.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mock upstream listening", "addr", addr, "base_path", basePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("mock server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down mock upstream")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Open streams never finish on their own.
		_ = srv.Close()
	}
	return nil
}
