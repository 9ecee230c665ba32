package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/yourusername/live-trivia/internal/config"
	"github.com/yourusername/live-trivia/pkg/database"
)

func newMigrateCmd() *cobra.Command {
	var configPath string

	open := func() (*gorm.DB, *config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Storage.Driver != config.StorageDriverPostgres {
			return nil, nil, fmt.Errorf("migrations require storage.driver=postgres, got %q", cfg.Storage.Driver)
		}
		db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString(), database.DefaultPoolConfig())
		if err != nil {
			return nil, nil, err
		}
		return db, cfg, nil
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Миграции схемы PostgreSQL",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", envOr("CONFIG_PATH", "config/config.yaml"), "server config file (env: CONFIG_PATH)")

	up := &cobra.Command{
		Use:   "up",
		Short: "Применить все новые миграции",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, cfg, err := open()
			if err != nil {
				return err
			}
			if err := database.MigrateDB(db, cfg.Database.MigrationsPath); err != nil {
				return err
			}
			return printVersion(cmd, db, cfg)
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Текущая версия схемы",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, cfg, err := open()
			if err != nil {
				return err
			}
			return printVersion(cmd, db, cfg)
		},
	}

	force := &cobra.Command{
		Use:   "force <version>",
		Short: "Выставить версию схемы вручную (после сбоя миграции)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			db, cfg, err := open()
			if err != nil {
				return err
			}
			if err := database.ForceMigrationVersion(db, cfg.Database.MigrationsPath, v); err != nil {
				return err
			}
			return printVersion(cmd, db, cfg)
		},
	}

	cmd.AddCommand(up, version, force)
	return cmd
}

func printVersion(cmd *cobra.Command, db *gorm.DB, cfg *config.Config) error {
	v, dirty, err := database.MigrationVersion(db, cfg.Database.MigrationsPath)
	if err != nil {
		return err
	}
	if dirty {
		warnColor.Fprintf(cmd.OutOrStdout(), "Версия схемы %d (dirty)\n", v)
		return nil
	}
	okColor.Fprintf(cmd.OutOrStdout(), "Версия схемы %d\n", v)
	return nil
}

func newHashPasswordCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "bcrypt-хеш пароля оператора для ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
