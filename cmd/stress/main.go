package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"custody_tracker/internal/app"
	"custody_tracker/internal/config"
	"custody_tracker/internal/evidence"
	"custody_tracker/internal/geo"
	"custody_tracker/internal/logger"
	"custody_tracker/internal/models"
	"custody_tracker/internal/stress"
)

var (
	stressTasks       int
	stressAgents      int
	stressConcurrency int
	stressRacers      int
	stressRetries     uint64
	stressBackoff     time.Duration
	stressSourceLat   float64
	stressSourceLon   float64
	stressDestLat     float64
	stressDestLon     float64
)

var rootCmd = &cobra.Command{
	Use:   "stress",
	Short: "Drive concurrent custody submissions against the configured database",
	Long: `Creates tasks for a pool of seeded field agents and walks each task through
the five-stage custody chain in parallel, racing duplicate first-stage
submissions. Prints a JSON summary of accepted, duplicate and rejected writes.`,
	SilenceUsage: true,
	RunE:         runStress,
}

func init() {
	f := rootCmd.Flags()
	f.IntVar(&stressTasks, "tasks", 50, "number of tasks to create")
	f.IntVar(&stressAgents, "agents", 5, "number of field agents to seed")
	f.IntVar(&stressConcurrency, "concurrency", 8, "tasks walked in parallel")
	f.IntVar(&stressRacers, "racers", 2, "concurrent copies of each first-stage submission")
	f.Uint64Var(&stressRetries, "retries", 5, "max retries for transient failures")
	f.DurationVar(&stressBackoff, "backoff", 50*time.Millisecond, "base exponential backoff")
	f.Float64Var(&stressSourceLat, "source-lat", -1.2921, "source latitude")
	f.Float64Var(&stressSourceLon, "source-lon", 36.8219, "source longitude")
	f.Float64Var(&stressDestLat, "dest-lat", -1.3000, "destination latitude")
	f.Float64Var(&stressDestLon, "dest-lon", 36.8300, "destination longitude")
}

func runStress(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Setup(cfg.Log)

	db, err := config.InitDB(cfg.DB, logger.GormLogger())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, db, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	agents, err := seedAgents(ctx, db, stressAgents)
	if err != nil {
		return fmt.Errorf("seed agents: %w", err)
	}
	hasher, err := evidence.NewHasher(evidence.Algorithm(cfg.Custody.HashAlgorithm))
	if err != nil {
		return err
	}

	runner := stress.NewRunner(a.Scheduler, a.Custody, hasher, stress.Options{
		Tasks:       stressTasks,
		Agents:      agents,
		Concurrency: stressConcurrency,
		Racers:      stressRacers,
		MaxRetries:  stressRetries,
		BaseBackoff: stressBackoff,
		Source:      geo.Coordinate{Lat: stressSourceLat, Lon: stressSourceLon},
		Destination: geo.Coordinate{Lat: stressDestLat, Lon: stressDestLon},
	})
	res, err := runner.Run(ctx)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(res); encErr != nil {
		return encErr
	}
	return err
}

func seedAgents(ctx context.Context, db *gorm.DB, n int) ([]string, error) {
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("stress-agent-%d", i)
		agent := models.FieldAgent{ExternalID: id, Name: fmt.Sprintf("Stress Agent %d", i), Active: true}
		err := db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_id"}}, DoNothing: true}).
			Create(&agent).Error
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logrus.WithError(err).Error("Stress run failed.")
		os.Exit(1)
	}
}
