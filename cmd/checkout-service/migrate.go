package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/fjod/go_checkout/internal/config"
	"github.com/fjod/go_checkout/internal/geo"
	"github.com/fjod/go_checkout/internal/repository"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres and geo database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runMigrations(cfg)
		},
	}
}

func runMigrations(cfg *config.Config) error {
	creds := postgresCredentials(cfg)
	repo, err := repository.NewRepository(creds)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(creds); err != nil {
		return err
	}
	log.Printf("Postgres migrations applied from %s", creds.MigrationsDirPath)

	geoRepo, err := geo.NewRepository(cfg.GeoDBPath)
	if err != nil {
		return fmt.Errorf("open geo database: %w", err)
	}
	defer geoRepo.Close()

	if err := geoRepo.RunMigrations(cfg.GeoMigrationsPath); err != nil {
		return err
	}
	log.Printf("Geo migrations applied to %s", cfg.GeoDBPath)
	return nil
}
