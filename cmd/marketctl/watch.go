package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Xzeius/decentralised-marketspace/internal/catalog"
	"github.com/Xzeius/decentralised-marketspace/internal/session"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the catalog in sync with the ledger and the wallet session",
	Long: `watch polls the wallet for account and chain changes, resyncs the
catalog whenever the session changes or the refresh interval elapses, and
prints each new snapshot. Sync metrics are served on metrics.listen.`,
	RunE: runWatch,
}

var (
	watchRefresh time.Duration
	metricsAddr  string
)

func init() {
	watchCmd.Flags().DurationVar(&watchRefresh, "refresh", time.Minute, "periodic catalog refresh interval (0 disables)")
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-listen", "", "override metrics listen address")
	watchCmd.Flags().StringVarP(&searchTerm, "search", "s", "", "filter by name or description")
	watchCmd.Flags().StringVar(&sortKey, "sort", "default", "sort order")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	key, err := catalog.ParseSortKey(sortKey)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		cfg.Metrics.Listen = metricsAddr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(cfg, reg)
	if err != nil {
		return err
	}
	defer a.Close()

	store := catalog.NewStore(a.pipeline, a.metrics)
	reactor := session.NewReactor(a.selector, a.provider(), store, 0)
	poller := session.NewPoller(a.provider(), cfg.Catalog.PollInterval)

	g, ctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error { return reactor.Run(ctx) })
	g.Go(func() error { return poller.Run(ctx, reactor.Notify) })

	if watchRefresh > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(watchRefresh)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if err := store.Resync(ctx, reactor.Current()); err != nil {
						log.Warnf("periodic resync failed: %v", err)
					}
				}
			}
		})
	}

	accessCh, unsubscribe := reactor.Subscribe()
	defer unsubscribe()
	g.Go(func() error {
		out := cmd.OutOrStdout()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ac := <-accessCh:
				log.Infof("session: %s", ac)
			case snap := <-store.Updates():
				items := catalog.View(snap.Items, searchTerm, key)
				fmt.Fprintf(out, "\n== catalog generation %d under %s: %d items, %d skipped ==\n",
					snap.Generation, snap.Access, len(items), snap.Failed)
				if err := printItems(out, items, false); err != nil {
					return err
				}
			}
		}
	})

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Infof("Metrics available at http://%s/metrics", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.Info("Shutting down...")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}
