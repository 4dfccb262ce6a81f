// Package main provides the entry point for the backtest job worker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/clever-backtest/internal/health"
	"github.com/yourusername/clever-backtest/internal/metrics"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/scheduler"
	"github.com/yourusername/clever-backtest/internal/strategy"
	"github.com/yourusername/clever-backtest/internal/webhook"
)

// Build information - set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const (
	runPath    = "/v1/backtests/run"
	streamPath = "/v1/backtests/stream"
)

var (
	configFile string
	a          *app

	clientID     string
	strategyFile string
	fromDate     string
	toDate       string
	capital      float64
	tracks       []string
	raceTypes    []string
	priority     string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "./config/config.yaml", "Path to configuration file")

	submitCmd.Flags().StringVar(&clientID, "client", "", "Client submitting the backtest")
	submitCmd.Flags().StringVarP(&strategyFile, "strategy", "s", "", "Strategy file (DSL, legacy JSON or canonical JSON)")
	submitCmd.Flags().StringVar(&fromDate, "from", "", "First race day (YYYY-MM-DD)")
	submitCmd.Flags().StringVar(&toDate, "to", "", "Last race day (YYYY-MM-DD)")
	submitCmd.Flags().Float64Var(&capital, "capital", 10000, "Initial capital")
	submitCmd.Flags().StringSliceVar(&tracks, "track", nil, "Only races at these tracks")
	submitCmd.Flags().StringSliceVar(&raceTypes, "race-type", nil, "Only races of these types")
	submitCmd.Flags().StringVar(&priority, "priority", "", "low, normal or high")
	for _, name := range []string{"client", "strategy", "from", "to"} {
		_ = submitCmd.MarkFlagRequired(name)
	}

	rootCmd.AddCommand(serveCmd, submitCmd, statusCmd, resultCmd, cancelCmd, sweepCmd, versionCmd)
}

var rootCmd = &cobra.Command{
	Use:           "worker",
	Short:         "Run backtests as resumable asynchronous jobs",
	Long:          `Serves the signed trigger endpoint that advances backtest jobs, and manages jobs in the durable store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == versionCmd {
			return nil
		}
		cfg, err := loadConfig(cmd.Context(), configFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		a, err = newApp(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("failed to setup dependencies: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if a != nil {
			a.close()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the trigger endpoint, progress stream and lease sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Admit a backtest job and send its first trigger",
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Print the current state of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := a.manager.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(job)
	},
}

var resultCmd = &cobra.Command{
	Use:   "result <job-id>",
	Short: "Print the result of a completed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := a.manager.GetResult(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := a.manager.CancelJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Job %s is %s\n", job.JobID, job.Status)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-dispatch jobs whose lease expired once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		dispatched, err := a.manager.SweepStaleLeases(cmd.Context())
		if err != nil {
			return err
		}
		if a.dispatcher != nil {
			a.dispatcher.Wait()
		}
		fmt.Printf("Re-dispatched %d job(s)\n", dispatched)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("worker %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
	},
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func serve(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	cfg := a.cfg
	a.log.WithFields(logrus.Fields{
		"environment": cfg.App.Environment,
		"version":     Version,
		"source":      cfg.Backtest.Source,
	}).Info("Backtest worker starting")

	trigger, err := webhook.NewHandler(a.manager, a.signer, cfg.IsDevelopment(), a.log)
	if err != nil {
		return err
	}
	poll := time.Duration(cfg.Webhook.StreamPollMS) * time.Millisecond

	mux := http.NewServeMux()
	mux.Handle(runPath, trigger)
	mux.Handle(streamPath, webhook.NewStreamHandler(a.manager, poll, a.log))
	server := &http.Server{
		Addr:              cfg.Webhook.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	checks := map[string]health.Pinger{"redis": a.store}
	if a.db != nil {
		checks["database"] = a.db
	}
	healthServer := health.NewServer(health.Config{
		ServiceName: "backtest-worker",
		Version:     Version,
		Commit:      GitCommit,
		Addr:        ":" + strconv.Itoa(cfg.Metrics.HealthPort),
		Logger:      a.log,
		Checks:      checks,
	})
	if err := healthServer.Start(ctx); err != nil {
		return err
	}
	if cfg.Metrics.GRPCHealthPort > 0 {
		grpcHealth := health.NewGRPCServer(cfg.Metrics.GRPCHealthPort, checks, 10*time.Second, a.log)
		if err := grpcHealth.Start(ctx); err != nil {
			return err
		}
	}
	if cfg.Metrics.Enabled {
		startMetricsServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path)
	}

	sweeper := scheduler.NewScheduler(a.log)
	if _, err := sweeper.ScheduleLeaseSweep(cfg.Jobs.SweepSchedule, a.manager, 30*time.Second); err != nil {
		return err
	}
	if err := sweeper.Start(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", cfg.Webhook.ListenAddr).Info("Trigger endpoint listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	healthServer.SetReady(true)

	select {
	case sig := <-sigChan:
		a.log.WithField("signal", sig.String()).Info("Shutdown signal received")
	case err := <-errCh:
		a.log.WithError(err).Error("Trigger endpoint failed")
	}

	healthServer.SetReady(false)
	if err := sweeper.Stop(); err != nil {
		a.log.WithError(err).Warn("Failed to stop sweeper")
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Jobs.ExecutionBudget()+5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("Trigger endpoint did not shut down cleanly")
	}
	a.log.Info("Backtest worker stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, path string) {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.log.WithField("port", port).Info("Metrics server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.WithError(err).Error("Metrics server error")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

func submit(ctx context.Context) error {
	raw, err := os.ReadFile(strategyFile)
	if err != nil {
		return fmt.Errorf("failed to read strategy: %w", err)
	}
	def, result, err := strategy.Normalize(raw)
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		a.log.WithField("path", w.Path).Warn(w.Message)
	}

	from, err := time.Parse("2006-01-02", fromDate)
	if err != nil {
		return fmt.Errorf("invalid --from date: %w", err)
	}
	to, err := time.Parse("2006-01-02", toDate)
	if err != nil {
		return fmt.Errorf("invalid --to date: %w", err)
	}

	job, err := a.manager.CreateJob(ctx, &models.BacktestRequest{
		Strategy:       *def,
		DateRange:      models.DateRange{From: from, To: to},
		InitialCapital: capital,
		Tracks:         tracks,
		RaceTypes:      raceTypes,
		Priority:       models.JobPriority(priority),
	}, clientID)
	if err != nil {
		return err
	}
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}

	fmt.Printf("Job %s admitted for client %s (tier %s)\n", job.JobID, job.ClientID, job.Tier)
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
