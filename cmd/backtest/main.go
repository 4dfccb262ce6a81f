// Package main provides the entry point for the backtesting CLI tool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/config"
	"github.com/yourusername/clever-backtest/internal/database"
	"github.com/yourusername/clever-backtest/internal/datasource"
	"github.com/yourusername/clever-backtest/internal/logger"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/repository"
	"github.com/yourusername/clever-backtest/internal/strategy"
)

// Build information - set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const dateLayout = "2006-01-02"

var (
	configFile string
	cfg        *config.Config
	appLog     *logrus.Logger

	strategyFile string
	dataFile     string
	fromDate     string
	toDate       string
	capital      float64
	tracks       []string
	raceTypes    []string
	csvOutput    string
	jsonOutput   string
	equityOutput string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "./config/config.yaml", "Path to configuration file")

	runCmd.Flags().StringVarP(&strategyFile, "strategy", "s", "", "Strategy file (DSL, legacy JSON or canonical JSON)")
	runCmd.Flags().StringVarP(&dataFile, "data", "d", "", "Race dataset file (defaults to backtest.data_path)")
	runCmd.Flags().StringVar(&fromDate, "from", "", "First race day (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&toDate, "to", "", "Last race day (YYYY-MM-DD)")
	runCmd.Flags().Float64Var(&capital, "capital", 10000, "Initial capital")
	runCmd.Flags().StringSliceVar(&tracks, "track", nil, "Only races at these tracks")
	runCmd.Flags().StringSliceVar(&raceTypes, "race-type", nil, "Only races of these types")
	runCmd.Flags().StringVar(&csvOutput, "csv", "", "Write the bet ledger as CSV")
	runCmd.Flags().StringVar(&jsonOutput, "json", "", "Write the full result as JSON")
	runCmd.Flags().StringVar(&equityOutput, "equity", "", "Write the equity curve as CSV")
	_ = runCmd.MarkFlagRequired("strategy")
	_ = runCmd.MarkFlagRequired("from")
	_ = runCmd.MarkFlagRequired("to")

	validateCmd.Flags().StringVarP(&strategyFile, "strategy", "s", "", "Strategy file to validate")
	_ = validateCmd.MarkFlagRequired("strategy")

	fmtCmd.Flags().StringVarP(&strategyFile, "strategy", "s", "", "Strategy file to format")
	_ = fmtCmd.MarkFlagRequired("strategy")

	importCmd.Flags().StringVarP(&dataFile, "data", "d", "", "Race dataset file to import")
	_ = importCmd.MarkFlagRequired("data")

	rootCmd.AddCommand(runCmd, validateCmd, fmtCmd, importCmd, versionCmd)
}

var rootCmd = &cobra.Command{
	Use:           "backtest",
	Short:         "Run horse racing strategies against historical races",
	Long:          `Validates, formats and backtests betting strategies locally, and imports race datasets into the race database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Backtest a strategy over a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBacktest(cmd.Context())
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a strategy and list every problem found",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, result, err := readStrategy(strategyFile)
		if err != nil && !strategy.IsValidationError(err) {
			return err
		}
		for _, issue := range result.Errors {
			fmt.Printf("error   %s [%s]\n", issue, issue.Code)
		}
		for _, issue := range result.Warnings {
			fmt.Printf("warning %s [%s]\n", issue, issue.Code)
		}
		if !result.Valid {
			return fmt.Errorf("strategy has %d error(s)", len(result.Errors))
		}
		fmt.Println("Strategy is valid")
		return nil
	},
}

var fmtCmd = &cobra.Command{
	Use:   "fmt",
	Short: "Print a strategy in canonical DSL form",
	RunE: func(cmd *cobra.Command, args []string) error {
		def, _, err := readStrategy(strategyFile)
		if err != nil {
			return err
		}
		fmt.Print(strategy.FormatDSL(def))
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load a race dataset into the race database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return importDataset(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("backtest %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
	},
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func loadConfig() error {
	var err error
	cfg, err = config.LoadWithDefaults(configFile)
	if err != nil {
		return err
	}

	appLog = logger.New(logger.Options{
		Level:       cfg.App.LogLevel,
		Format:      cfg.Logging.Format,
		Environment: cfg.App.Environment,
		FilePath:    cfg.Logging.FilePath,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Compress:    cfg.Logging.Compress,
	})
	return nil
}

func readStrategy(path string) (*models.StrategyDefinition, strategy.ValidationResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, strategy.ValidationResult{}, fmt.Errorf("failed to read strategy: %w", err)
	}
	return strategy.Normalize(raw)
}

func buildRequest(def *models.StrategyDefinition) (*models.BacktestRequest, error) {
	from, err := time.Parse(dateLayout, fromDate)
	if err != nil {
		return nil, fmt.Errorf("invalid --from date: %w", err)
	}
	to, err := time.Parse(dateLayout, toDate)
	if err != nil {
		return nil, fmt.Errorf("invalid --to date: %w", err)
	}
	return &models.BacktestRequest{
		Strategy:       *def,
		DateRange:      models.DateRange{From: from, To: to},
		InitialCapital: capital,
		Tracks:         tracks,
		RaceTypes:      raceTypes,
	}, nil
}

func runBacktest(ctx context.Context) error {
	def, result, err := readStrategy(strategyFile)
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		appLog.WithField("path", w.Path).Warn(w.Message)
	}

	req, err := buildRequest(def)
	if err != nil {
		return err
	}

	path := dataFile
	if path == "" {
		path = cfg.Backtest.DataPath
	}
	source, err := datasource.NewFileSource(path, appLog)
	if err != nil {
		return err
	}

	execCfg, err := backtest.FromConfig(&cfg.Backtest)
	if err != nil {
		return err
	}
	executor, err := backtest.NewExecutor(execCfg, source, appLog)
	if err != nil {
		return err
	}

	start := time.Now()
	outcome, err := executor.Execute(ctx, req, backtest.ExecuteOptions{JobID: uuid.NewString()})
	if err != nil {
		return fmt.Errorf("backtest failed: %w", err)
	}
	if !outcome.Completed {
		return fmt.Errorf("backtest stopped before completion")
	}

	appLog.WithFields(logrus.Fields{
		"strategy": def.ID,
		"bets":     outcome.Result.Summary.TotalBets,
		"duration": time.Since(start).String(),
	}).Info("Backtest finished")
	fmt.Print(backtest.GenerateConsoleReport(outcome.Result))

	if csvOutput != "" {
		if err := backtest.GenerateCSVExport(outcome.Result, csvOutput); err != nil {
			return fmt.Errorf("failed to write csv: %w", err)
		}
	}
	if jsonOutput != "" {
		if err := writeJSON(jsonOutput, outcome.Result); err != nil {
			return fmt.Errorf("failed to write json: %w", err)
		}
	}
	if equityOutput != "" {
		curve := backtest.EquityCurve(outcome.Result.EquityCurve).ToCSV()
		if err := writeFile(equityOutput, []byte(curve)); err != nil {
			return fmt.Errorf("failed to write equity curve: %w", err)
		}
	}
	return nil
}

func importDataset(ctx context.Context) error {
	ds, err := datasource.LoadDataset(dataFile)
	if err != nil {
		return err
	}
	if err := config.LoadSecretsFromAWS(ctx, cfg); err != nil {
		return err
	}

	db, err := database.Initialize(ctx, cfg, appLog)
	if err != nil {
		return err
	}
	defer db.Close()

	repos, err := repository.NewRepositories(db)
	if err != nil {
		return err
	}
	if err := repos.Races.Import(ctx, ds.Races, ds.Results); err != nil {
		return fmt.Errorf("failed to import dataset: %w", err)
	}

	appLog.WithFields(logrus.Fields{
		"races":   len(ds.Races),
		"results": len(ds.Results),
	}).Info("Dataset imported")
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
