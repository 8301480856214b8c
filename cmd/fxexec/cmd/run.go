package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/fxexec/engine"
	"github.com/rustyeddy/fxexec/internal/schedule"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run execution cycles on the poll interval",
	Long: `Run the engine continuously, one cycle per engine.poll_interval.

A cycle still running when the next one is due is skipped. The loop stops
and the process exits with status 2 on the first halt. When metrics.addr is
set, Prometheus metrics are served at /metrics.

Example:
  fxexec run -c fxexec.yaml`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := a.gateway(ctx)
	if err != nil {
		return err
	}
	eng := a.engine(gw)

	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			a.log.Info("metrics listening", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	runner := schedule.New(a.log, a.cfg.Engine.PollInterval, engine.IsHalt)
	return runner.Run(ctx, func(ctx context.Context) error {
		_, err := eng.RunCycle(ctx)
		if errors.Is(err, engine.ErrCycleInProgress) {
			a.log.Info("cycle skipped, another cycle holds the broker")
			return nil
		}
		return err
	})
}
