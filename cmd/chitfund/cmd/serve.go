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
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chitfund/internal/config"
	"chitfund/internal/fund"
	"chitfund/internal/metrics"
	"chitfund/internal/model"
	"chitfund/internal/notifier"
	"chitfund/internal/recorder"
	"chitfund/internal/registry"
	"chitfund/internal/scheduler"
)

var flagSweepOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the settlement daemon: sweeps, notifications and metrics",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&flagSweepOnStart, "sweep-on-start", os.Getenv("RUN_ON_START") == "true", "run one sweep right after startup")
}

func runServe(*cobra.Command, []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info().Msg("chitfund starting")

	store, err := fund.NewFileStore(cfg.Store.StateDir)
	if err != nil {
		return err
	}

	rec := openRecorder(cfg)
	defer rec.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.NewCollector(promReg)

	reg := registry.New(store, rec, mc)
	n, err := reg.Load(context.Background())
	if err != nil {
		return err
	}
	log.Info().Int("funds", n).Str("dir", cfg.Store.StateDir).Msg("funds loaded")
	seedFunds(reg, cfg.Funds)
	for _, m := range reg.List() {
		st := m.State()
		mc.SetBalances(st.ID, st.PoolBalance, st.CollateralHeld)
	}

	var tn notifier.Notifier = notifier.Noop{}
	var poller *notifier.TelegramNotifier
	if cfg.TelegramEnabled() {
		poller = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		tn = poller
	} else {
		log.Warn().Msg("telegram not configured, notifications disabled")
	}

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.NewScheduler(ctx, reg, tn)
	if err := sched.RegisterAll(cfg.Schedule.SweepCron, cfg.Schedule.DigestCron); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	if flagSweepOnStart {
		log.Info().Msg("sweep on start enabled")
		sched.SweepNow()
	}

	g, gCtx := errgroup.WithContext(ctx)
	if poller != nil {
		g.Go(func() error {
			log.Info().Msg("telegram polling started")
			poller.StartPolling(gCtx, sched.HandleCommand)
			return nil
		})
	}
	if cfg.Metrics.ListenAddr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           metricsMux(promReg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info().Msg("chitfund is running. Press Ctrl+C to stop.")
	<-gCtx.Done()
	log.Info().Msg("shutdown signal received, stopping...")
	stop()
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("chitfund stopped")
	return nil
}

func metricsMux(g prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func openRecorder(cfg *config.Config) recorder.Recorder {
	if cfg.Database.SQLitePath == "" {
		return recorder.NewNoopRecorder()
	}
	sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
	if err != nil {
		log.Warn().Err(err).Msg("init sqlite recorder failed, using noop")
		return recorder.NewNoopRecorder()
	}
	return sr
}

// seedFunds creates the funds declared in the config that do not exist yet.
func seedFunds(reg *registry.Registry, seeds []config.SeedFund) {
	for _, s := range seeds {
		if _, err := reg.Get(s.ID); err == nil {
			continue
		}
		if _, err := reg.CreateWithID(context.Background(), s.ID, s.FundConfig, time.Now()); err != nil {
			log.Error().Err(err).Str("fund", s.ID).Str("code", string(model.CodeOf(err))).Msg("seed fund rejected")
		}
	}
}
