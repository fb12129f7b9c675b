package main

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/cortexflow/cortex/internal/config"
	"github.com/cortexflow/cortex/internal/store"
)

func openMigrationDB(cfg config.Config) (*sql.DB, error) {
	if cfg.Store.URL == "" {
		return nil, fmt.Errorf("store url is required (set STORE_URL or store.url)")
	}
	db, err := sql.Open("postgres", cfg.Store.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func loadMigrationConfig(configPath string) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runMigrateUp(cmd *cobra.Command, configPath string, steps int) error {
	cfg, err := loadMigrationConfig(configPath)
	if err != nil {
		return err
	}
	db, err := openMigrationDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator, err := store.NewMigrator(db)
	if err != nil {
		return err
	}
	applied, err := migrator.Up(cmd.Context(), steps)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(applied) == 0 {
		fmt.Fprintln(out, "No pending migrations.")
		return nil
	}
	fmt.Fprintln(out, "Applied migrations:")
	for _, id := range applied {
		fmt.Fprintf(out, "  - %s\n", id)
	}
	return nil
}

func runMigrateDown(cmd *cobra.Command, configPath string, steps int) error {
	cfg, err := loadMigrationConfig(configPath)
	if err != nil {
		return err
	}
	db, err := openMigrationDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator, err := store.NewMigrator(db)
	if err != nil {
		return err
	}
	rolled, err := migrator.Down(cmd.Context(), steps)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(rolled) == 0 {
		fmt.Fprintln(out, "Nothing to rollback.")
		return nil
	}
	fmt.Fprintln(out, "Rolled back migrations:")
	for _, id := range rolled {
		fmt.Fprintf(out, "  - %s\n", id)
	}
	return nil
}

func runMigrateStatus(cmd *cobra.Command, configPath string) error {
	cfg, err := loadMigrationConfig(configPath)
	if err != nil {
		return err
	}
	db, err := openMigrationDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator, err := store.NewMigrator(db)
	if err != nil {
		return err
	}
	applied, pending, err := migrator.Status(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Applied (%d):\n", len(applied))
	for _, entry := range applied {
		fmt.Fprintf(out, "  - %s (%s)\n", entry.ID, entry.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(out, "Pending (%d):\n", len(pending))
	for _, migration := range pending {
		fmt.Fprintf(out, "  - %s\n", migration.ID)
	}
	return nil
}
