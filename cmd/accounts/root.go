package main

import (
	"log/slog"

	"github.com/aussiebroadwan/accounts/internal/accounts/app"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the accounts CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Account and session authentication service",
		Long: `accounts registers users, authenticates them with a password and an
optional TOTP second factor, and issues short-lived access tokens backed by
rotating refresh tokens.`,
		SilenceUsage: true,
	}

	// Every subcommand reads the same layered configuration
	app.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadValidConfig(cmd)
			if err != nil {
				return err
			}

			application, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return oops.Code("APP_INIT_FAILED").Wrap(err)
			}
			return application.Run()
		},
	}
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(cmd.Flags())
			if err != nil {
				return oops.Code("CONFIG_INVALID").Wrap(err)
			}

			cmd.Println("Running migrations...")
			db, err := app.OpenStore(cmd.Context(), cfg.Database, slog.Default())
			if err != nil {
				return oops.Code("MIGRATION_FAILED").With("driver", cfg.Database.Driver).Wrap(err)
			}
			defer func() { _ = db.Close() }()

			cmd.Println("Migrations completed successfully")
			return nil
		},
	}
}

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(cmd.Flags())
			if err != nil {
				return oops.Code("CONFIG_INVALID").Wrap(err)
			}
			if err := cfg.WriteYAML(cmd.OutOrStdout()); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				cmd.PrintErrln("config is not valid:", err)
			}
			return nil
		},
	}
}

func loadValidConfig(cmd *cobra.Command) (app.Config, error) {
	cfg, err := app.LoadConfig(cmd.Flags())
	if err != nil {
		return app.Config{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return app.Config{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return cfg, nil
}
