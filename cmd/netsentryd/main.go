package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"netsentry/internal/adapters"
	"netsentry/internal/anomaly"
	"netsentry/internal/blocklist"
	"netsentry/internal/config"
	"netsentry/internal/feedback"
	"netsentry/internal/flowtable"
	"netsentry/internal/profile"
	"netsentry/internal/tcpengine"
	"netsentry/internal/telemetry"
	"netsentry/internal/udpengine"
	"netsentry/internal/vpn"
)

func main() {
	var cfgPath string
	var metricsAddr string
	var logLevel string
	flag.StringVar(&cfgPath, "c", "config.yaml", "config path")
	flag.StringVar(&metricsAddr, "metrics", "", "prometheus metrics listen address, e.g. :9100 (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "log level: debug/info/warn/error (overrides config)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if metricsAddr != "" {
		cfg.Listen.Metrics = metricsAddr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	if lvl, err := log.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(lvl)
	} else {
		log.Warnf("unrecognized log level %q, defaulting to info", cfg.Log.Level)
	}

	tcpengine.IdleTimeout = cfg.Timeouts.TCPSessionIdle
	udpengine.IdleTimeout = cfg.Timeouts.UDPSessionIdle

	metrics := telemetry.New()
	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Listen.Metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Listen.Metrics, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
		log.Infof("prometheus metrics listening on %s", cfg.Listen.Metrics)
	}

	sink := adapters.NewMemorySink(10000)
	alertSink := adapters.NewLogAlertSink()
	owner := adapters.NewProcOwnerResolver()
	names := adapters.NewPackageNameResolver()

	flows := flowtable.NewTable(owner, names, sink)
	flows.SetIdleThreshold(cfg.Timeouts.FlowIdle)
	flows.SetMetrics(metrics)

	block := blocklist.New(adapters.NewMemoryBlocklistStore())
	if err := block.Load(ctx); err != nil {
		log.WithError(err).Warn("blocklist load failed, starting empty")
	}

	profiles := profile.NewStore(sink)
	ledger := feedback.NewLedger(sink)

	ensemble := anomaly.NewEnsemble(ledger).
		WithWeights(anomaly.Weights{
			Temporal:    cfg.Ensemble.WeightTemporal,
			Volume:      cfg.Ensemble.WeightVolume,
			Destination: cfg.Ensemble.WeightDestination,
		}).
		WithThresholds(anomaly.Thresholds{
			Low:    cfg.Ensemble.ThresholdLow,
			Medium: cfg.Ensemble.ThresholdMedium,
			High:   cfg.Ensemble.ThresholdHigh,
		})

	orchestrator := vpn.New(vpn.Config{
		Device:   cfg.Tun.Device,
		Address:  cfg.Tun.Address,
		MTU:      cfg.Tun.MTU,
		OutIface: cfg.Tun.OutIface,
		Mark:     cfg.Tun.Fwmark,
	}, flows, block, profiles, ensemble, ledger, alertSink, nil)
	orchestrator.SetMetrics(metrics)

	if err := orchestrator.Start(ctx); err != nil {
		log.Fatalf("vpn orchestrator: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	log.Info("shutting down...")
	cancel()
	orchestrator.Stop(context.Background())
}
