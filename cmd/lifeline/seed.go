package main

import (
	"context"
	"fmt"

	"lifeline/internal/db"
	"lifeline/internal/notify"
	"lifeline/internal/registry"
	"lifeline/internal/seed"
	"lifeline/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var seedCommand = &cli.Command{
	Name:  "seed",
	Usage: "Seed the database with approved demo donors",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "migrate",
			Usage: "Apply the embedded schema before seeding",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger := newLogger(cfg, false)
		ctx := context.Background()

		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()

		logger.Info("Connected to database")

		if c.Bool("migrate") {
			logger.Info("Applying schema...")
			if cfg.DatabaseSchema != "" {
				createSchema := "CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{cfg.DatabaseSchema}.Sanitize()
				if _, err := pool.Exec(ctx, createSchema); err != nil {
					return fmt.Errorf("failed to create schema %s: %w", cfg.DatabaseSchema, err)
				}
			}
			if _, err := pool.Exec(ctx, store.Schema); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
		}

		notifications := store.NewNotificationRepository(pool)
		dispatcher := notify.NewSyncDispatcher(logger, notify.NewLogSink(logger), notify.NewStoreSink(notifications))
		svc := registry.New(store.NewDonorRepository(pool), dispatcher, registry.WithLogger(logger))

		logger.Info("Seeding donors...")
		seeded, err := seed.SeedDonors(ctx, logger, svc)
		if err != nil {
			return fmt.Errorf("failed to seed donors: %w", err)
		}

		logger.WithFields(logrus.Fields{"seeded": seeded}).Info("Donors seeded successfully")

		return nil
	},
}
