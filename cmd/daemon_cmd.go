package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kebairia/b2backup/internal/logger"
	"github.com/kebairia/b2backup/internal/operations"
	"github.com/kebairia/b2backup/internal/progress"
)

const shutdownTimeout = 30 * time.Second

var metricsAddr string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled backups until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		log := logger.Global().With("component", "daemon")

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics, err := progress.NewMetrics(reg)
		if err != nil {
			return err
		}

		om, err := operations.NewOperationManager(ctx, ConfigFile, operations.WithSinks(metrics))
		if err != nil {
			return err
		}
		sched, err := om.NewScheduler()
		if err != nil {
			return err
		}
		if st := sched.State(); st.Configured {
			log.Info("daemon started", "frequency", st.Config.Frequency, "next", st.NextFire)
		} else {
			log.Warn("schedule is disabled; no backups will run until `b2backup schedule set`")
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			err := sched.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})

		if metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
			srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			g.Go(func() error {
				log.Info("serving metrics", "addr", metricsAddr)
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}

		err = g.Wait()
		drain(om.Coordinator(), log)
		return err
	},
}

// drain cancels an active run and waits for it to release the lock.
func drain(c *operations.Coordinator, log logger.Logger) {
	run := c.Current()
	if run == nil || !run.Cancel() {
		return
	}
	log.Info("waiting for the active backup to stop", "run", run.ID())
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	snap, err := run.Wait(ctx)
	if err != nil {
		log.Warn("backup still running at exit", "run", run.ID())
		return
	}
	log.Info("backup stopped", "run", run.ID(), "status", snap.Status)
}

func init() {
	daemonCmd.Flags().
		StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
}
