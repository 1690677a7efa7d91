package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oriys/quasar/internal/backend"
	quasargrpc "github.com/oriys/quasar/internal/grpc"
	"github.com/oriys/quasar/internal/logging"
	"github.com/oriys/quasar/internal/metrics"
	"github.com/oriys/quasar/internal/observability"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		grpcAddr    string
		httpAddr    string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the task daemon",
		Long:  "Run a daemon that executes submitted tasks in-process and serves them over gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("grpc") {
				cfg.GRPC.Addr = grpcAddr
			}
			if cmd.Flags().Changed("http") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.Daemon.Concurrency = concurrency
			}

			ctx := context.Background()
			flush, err := setupObservability(ctx, cfg)
			if err != nil {
				return err
			}
			defer flush()

			table, closeTable, err := openFunctionTable(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open function table: %w", err)
			}
			defer closeTable()
			logging.Op().Info("function table ready", "table", cfg.Export.Table)

			local := backend.NewLocal(
				backend.WithConcurrency(cfg.Daemon.Concurrency),
				backend.WithRetryBackoff(cfg.Daemon.RetryBackoff),
				backend.WithObjectTTL(cfg.Daemon.ObjectTTL),
			)
			defer local.Close()

			srv := quasargrpc.NewServer(local, builtinCatalog(), []quasargrpc.ServerOption{
				quasargrpc.WithFunctionTable(metrics.ObserveExport(metrics.Global(), table)),
			})
			if err := srv.Start(cfg.GRPC.Addr); err != nil {
				return fmt.Errorf("start gRPC server: %w", err)
			}
			defer srv.Stop()

			var httpServer *http.Server
			if cfg.Daemon.HTTPAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.PrometheusHandler())
				mux.Handle("/stats", metrics.Global().JSONHandler())
				mux.HandleFunc("/functions", func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					json.NewEncoder(w).Encode(local.Functions())
				})
				mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
					w.Write([]byte("ok"))
				})
				httpServer = &http.Server{
					Addr:              cfg.Daemon.HTTPAddr,
					Handler:           observability.HTTPMiddleware(mux),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logging.Op().Error("HTTP server error", "error", err)
					}
				}()
				logging.Op().Info("HTTP server started", "addr", cfg.Daemon.HTTPAddr)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			logging.Op().Info("shutting down", "signal", sig.String())

			if httpServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpServer.Shutdown(shutdownCtx)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&grpcAddr, "grpc", ":9090", "gRPC listen address")
	cmd.Flags().StringVar(&httpAddr, "http", ":9091", "HTTP address for /metrics, /stats, /functions and /health (empty disables)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 64, "Maximum tasks running at once")

	return cmd
}
