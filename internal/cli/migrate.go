package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/config"
	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/logging"
	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/store"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long: `Apply the embedded Postgres schema to STOREFRONT_DATABASE_URL.

Statements are idempotent, so running migrate twice is harmless.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			if cfg.Store != config.StorePostgres {
				return errors.New("migrate requires STOREFRONT_STORE=postgres")
			}
			log := logging.New(cfg.LogLevel)

			st, err := store.NewPostgresStore(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer st.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Info("database migrations executed successfully")
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}
