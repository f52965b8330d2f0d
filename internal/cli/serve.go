package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"localdocs/internal/mcpserver"
)

var serveMetricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the search tools over MCP stdio",
	Long: `Run an MCP server on stdin/stdout exposing semantic_search, hybrid_search,
document_retrieval, search_with_metadata_filter and get_collection_info.
Logs go to stderr.

Examples:
  localdocs serve -d ~/notes
  localdocs serve --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (overrides metrics.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if serveMetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = serveMetricsAddr
	}

	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := searchService(a)
	if err != nil {
		return err
	}
	logger, err := a.Logger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		m, err := a.Metrics()
		if err != nil {
			return err
		}
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux(m.Handler()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	server := mcpserver.New(svc, logger, Version)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func metricsMux(h http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	return mux
}
