package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"cpms/internal/config"
	"cpms/internal/db"
	"cpms/internal/logger"
	"cpms/internal/models"
	"cpms/internal/repo"
	"cpms/internal/services"
)

var opts struct {
	configPath string
	id         string
	vendor     string
	model      string
	ocpp       string
	limit      float64
	stackLevel int
	daily      bool
}

var rootCmd = &cobra.Command{
	Use:          "seed",
	Short:        "Seed a charger and a default charging profile",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "configuration file")
	f.StringVar(&opts.id, "id", "CP-123", "chargePointId")
	f.StringVar(&opts.vendor, "vendor", "ABB", "vendor")
	f.StringVar(&opts.model, "model", "Terra54", "model")
	f.StringVar(&opts.ocpp, "ocpp", "1.6", "ocpp version")
	f.Float64Var(&opts.limit, "limit", 32, "TxDefaultProfile limit in amperes")
	f.IntVar(&opts.stackLevel, "stack-level", 0, "stack level of the seeded profile")
	f.BoolVar(&opts.daily, "daily", false, "seed a daily recurring profile instead of an absolute one")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New("seed", logger.Options{Level: cfg.Logging.Level, Format: "console"})

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	d, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DB)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	chargers := repo.NewChargersRepo(d.Pool)
	if err := chargers.Upsert(ctx, models.Charger{
		ChargePointId: opts.id,
		IsActive:      true,
		Vendor:        opts.vendor,
		Model:         opts.model,
		OcppVersion:   opts.ocpp,
	}); err != nil {
		return err
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	draft := models.ProfileDraft{
		ChargePointId: opts.id,
		Purpose:       string(models.PurposeTxDefault),
		Kind:          string(models.KindAbsolute),
		StackLevel:    opts.stackLevel,
		StartSchedule: &midnight,
		RateUnit:      string(models.RateUnitAmperes),
		Periods:       []models.SchedulePeriod{{StartPeriodSeconds: 0, Limit: opts.limit}},
		Description:   "seeded default",
	}
	if opts.daily {
		rk := string(models.RecurrencyDaily)
		draft.Kind = string(models.KindRecurring)
		draft.RecurrencyKind = &rk
		// Evening peak between 17:00 and 21:00 at half the limit.
		draft.Periods = []models.SchedulePeriod{
			{StartPeriodSeconds: 0, Limit: opts.limit},
			{StartPeriodSeconds: 17 * 3600, Limit: opts.limit / 2},
			{StartPeriodSeconds: 21 * 3600, Limit: opts.limit},
		}
	}

	engine := services.NewEngine(repo.NewProfilesRepo(d.Pool), repo.NewSessionsRepo(d.Pool), nil, log, cfg.Schedule.MaxWindow)
	id, err := engine.Submit(ctx, draft)
	if err != nil {
		return err
	}
	fmt.Println("Seeded charger:", opts.id, "profile:", id)
	return nil
}
