package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autointelli/unified360-go/internal/config"
	"github.com/autointelli/unified360-go/internal/engine"
	"github.com/autointelli/unified360-go/internal/itam"
	"github.com/autointelli/unified360-go/internal/logging"
	"github.com/autointelli/unified360-go/internal/notify"
	"github.com/autointelli/unified360-go/internal/rules"
	"github.com/autointelli/unified360-go/internal/telemetry"
	"github.com/autointelli/unified360-go/internal/tsdb"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "u360d",
	Short:   "Unified360 - infrastructure monitoring and ITAM daemon",
	Long:    `Unified360 evaluates alert rules against Prometheus and InfluxDB backends, tracks device up/down state, and reconciles discovered assets into a golden ITAM inventory`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(complianceCmd)
	riskCmd.Flags().Int("stale-days", 14, "days without a sighting before an asset counts as stale")
	rootCmd.AddCommand(riskCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Unified360 %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

// sweepCmd runs one ITAM inbox sweep and exits. Useful for cron-driven
// deployments and for replaying a parked batch by hand.
var sweepCmd = &cobra.Command{
	Use:   "sweep [dir]",
	Short: "Ingest ITAM discovery batches from the inbox once and exit",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "u360d"})
		defer logging.Shutdown()

		dir := cfg.ITAMInboxDir
		if len(args) == 1 {
			dir = args[0]
		}

		store, err := itam.OpenStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		resolver := itam.NewResolver(store, telemetry.New())
		summary, err := resolver.SweepInbox(cmd.Context(), dir)
		if err != nil {
			return err
		}
		fmt.Printf("seen=%d created=%d updated=%d skipped=%d errors=%d\n",
			summary.RecordsSeen, summary.AssetsCreated, summary.AssetsUpdated,
			summary.RecordsSkipped, len(summary.Errors))
		return nil
	},
}

// complianceCmd evaluates compliance policies once and exits.
var complianceCmd = &cobra.Command{
	Use:   "compliance [customer-id]",
	Short: "Evaluate compliance policies against the asset inventory and exit",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "u360d"})
		defer logging.Shutdown()

		store, err := itam.OpenStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		var summary *itam.ComplianceSummary
		if len(args) == 1 {
			customerID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid customer id %q", args[0])
			}
			_, summary, err = store.RunCompliance(cmd.Context(), customerID, "cli")
			if err != nil {
				return err
			}
		} else {
			summary, err = store.RunComplianceAll(cmd.Context(), "cli")
			if err != nil {
				return err
			}
		}
		fmt.Printf("evaluations=%d pass=%d fail=%d not_applicable=%d errors=%d\n",
			summary.Evaluations, summary.Pass, summary.Fail, summary.NotApplicable, summary.Errors)
		return nil
	},
}

// riskCmd prints a tenant's asset risk report.
var riskCmd = &cobra.Command{
	Use:   "risk <customer-id>",
	Short: "Score a tenant's assets for data-quality and drift risk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "u360d"})
		defer logging.Shutdown()

		customerID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid customer id %q", args[0])
		}
		staleDays, _ := cmd.Flags().GetInt("stale-days")

		store, err := itam.OpenStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		report, err := store.RiskReport(cmd.Context(), customerID, staleDays)
		if err != nil {
			return err
		}
		s := report.Summary
		fmt.Printf("assets=%d avg_quality=%.2f high=%d medium=%d low=%d drift=%d stale=%d\n",
			s.TotalAssets, s.AvgQualityScore, s.HighRiskAssets, s.MediumRiskAssets,
			s.LowRiskAssets, s.DriftAlertAssets, s.StaleAssets)
		for i, row := range report.TopRisks {
			if i == 10 || row.RiskScore == 0 {
				break
			}
			fmt.Printf("%6d  %-30s  risk=%-3d quality=%-3d %-6s %s\n",
				row.AssetID, row.AssetName, row.RiskScore, row.QualityScore,
				row.RiskSeverity, strings.Join(row.RiskReasons, ","))
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Baseline logger for early startup; re-initialized once config is in.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "u360d",
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "u360d",
		FilePath:  cfg.LogFile,
	})
	defer logging.Shutdown()

	log.Info().Str("version", Version).Str("data_dir", cfg.DataDir).Msg("Starting Unified360 daemon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ruleStore, err := rules.OpenStore(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open rule store")
	}
	defer ruleStore.Close()

	itamStore, err := itam.OpenStore(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ITAM store")
	}
	defer itamStore.Close()

	metrics := telemetry.New()
	notifier := buildNotifier(cfg)

	prom, err := tsdb.NewPromClient(cfg.PrometheusURL, cfg.QueryTimeout)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.PrometheusURL).Msg("Failed to build Prometheus client")
	}
	influx := tsdb.NewInfluxClient(cfg.InfluxURL, cfg.InfluxDatabase, cfg.QueryTimeout)
	fortigate := tsdb.NewInfluxClient(cfg.FortigateInfluxURL, cfg.FortigateInfluxDB, cfg.QueryTimeout)

	eng := engine.New(ruleStore, prom, influx, fortigate, notifier, metrics, engine.Config{
		Workers:    cfg.Workers,
		StaleAfter: cfg.DeviceStaleAfter,
	})
	resolver := itam.NewResolver(itamStore, metrics)

	scheduler := cron.New()
	mustSchedule(scheduler, cfg.RuleSchedule, "rules", func() {
		if err := eng.RunCycle(ctx); err != nil {
			log.Error().Err(err).Msg("Alert cycle failed")
		}
	})
	mustSchedule(scheduler, cfg.UpDownSchedule, "updown", func() {
		if err := eng.UpDown().RunCycle(ctx); err != nil {
			log.Error().Err(err).Msg("Device up/down cycle failed")
		}
	})
	mustSchedule(scheduler, cfg.ITAMSchedule, "itam", func() {
		if _, err := resolver.SweepInbox(ctx, cfg.ITAMInboxDir); err != nil {
			log.Error().Err(err).Msg("ITAM inbox sweep failed")
		}
	})
	mustSchedule(scheduler, cfg.ComplianceSchedule, "compliance", func() {
		if _, err := itamStore.RunComplianceAll(ctx, "schedule"); err != nil {
			log.Error().Err(err).Msg("Compliance evaluation failed")
		}
	})
	scheduler.Start()

	metricsSrv := startMetricsServer(cfg.MetricsListen, metrics)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("Shutting down")

	cancel()
	stopCtx := scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}

	// Let an in-flight cycle finish before the stores close under it.
	select {
	case <-stopCtx.Done():
	case <-shutdownCtx.Done():
		log.Warn().Msg("Timed out waiting for running jobs")
	}
	log.Info().Msg("Unified360 daemon stopped")
}

// buildNotifier assembles the configured sinks. No sinks configured means
// edges are still recorded in the store, just not delivered anywhere.
func buildNotifier(cfg *config.Config) notify.Notifier {
	var sinks notify.Multi
	if cfg.SMTPHost != "" {
		email, err := notify.NewEmailNotifier(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			Sender:   cfg.SMTPSender,
			Security: cfg.SMTPSecurity,
		})
		if err != nil {
			log.Error().Err(err).Msg("Email notifier misconfigured, skipping")
		} else {
			sinks = append(sinks, email)
			log.Info().Str("host", cfg.SMTPHost).Msg("Email notifications enabled")
		}
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(cfg.WebhookURL, cfg.QueryTimeout))
		log.Info().Msg("Webhook notifications enabled")
	}
	if len(sinks) == 0 {
		log.Warn().Msg("No notification sinks configured, alerts will only be recorded")
		return notify.Nop{}
	}
	return sinks
}

func mustSchedule(c *cron.Cron, spec, name string, fn func()) {
	if _, err := c.AddFunc(spec, fn); err != nil {
		log.Fatal().Err(err).Str("job", name).Str("schedule", spec).Msg("Invalid schedule")
	}
	log.Info().Str("job", name).Str("schedule", spec).Msg("Job scheduled")
}

func startMetricsServer(addr string, metrics *telemetry.Metrics) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}
