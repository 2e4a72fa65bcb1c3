package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/missionctl/internal/config"
	"github.com/zulandar/missionctl/internal/db"
	"gorm.io/gorm"
)

const defaultConfigPath = "missionctl.yaml"

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBResetCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Mission Control database",
		Long:  "Creates the database (MySQL-compatible servers only) and migrates all tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded config for owner %q from %s\n", cfg.Owner, configPath)

	if cfg.Database.Driver == "mysql" {
		adminDB, err := db.ConnectAdmin(cfg.Database.Host, cfg.Database.Port)
		if err != nil {
			return fmt.Errorf("connect to %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
		}
		if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %s ready\n", cfg.Database.Name)
	}

	gormDB, err := db.Open(cfg)
	if err != nil {
		return err
	}

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	fmt.Fprintln(out, "\nMission Control database initialized successfully.")
	return nil
}

func newDBResetCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and re-initialize the database",
		Long:  "Drops the configured database and re-creates it with fresh tables. MySQL-compatible servers only; for SQLite, delete the file instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, configPath, yes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func runDBReset(cmd *cobra.Command, configPath string, skipConfirm bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Driver != "mysql" {
		return fmt.Errorf("db reset supports the mysql driver only; delete %s instead", cfg.Database.Path)
	}

	if !skipConfirm && !confirmReset(cmd, cfg.Database.Name) {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	adminDB, err := db.ConnectAdmin(cfg.Database.Host, cfg.Database.Port)
	if err != nil {
		return fmt.Errorf("connect to %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
	}

	if err := db.DropDatabase(adminDB, cfg.Database.Name); err != nil {
		return err
	}
	fmt.Fprintf(out, "Dropped database %s\n", cfg.Database.Name)

	if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
		return err
	}

	gormDB, err := db.Open(cfg)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	fmt.Fprintln(out, "\nMission Control database reset successfully.")
	return nil
}

func confirmReset(cmd *cobra.Command, dbName string) bool {
	out := cmd.OutOrStdout()
	in := cmd.InOrStdin()

	fmt.Fprintf(out, "WARNING: This will permanently delete all data in database %q.\n", dbName)
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes"
	}
	return false
}

// connectFromConfig loads config and returns an open GORM DB.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Open(cfg)
	if err != nil {
		return nil, nil, err
	}

	return cfg, gormDB, nil
}
