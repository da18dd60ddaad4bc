package admin

import (
	"fmt"

	"github.com/cloo-solutions/salesdojo/internal/config"
	"github.com/cloo-solutions/salesdojo/internal/database"
	"github.com/cloo-solutions/salesdojo/internal/logging"
	"github.com/spf13/cobra"
)

func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, cfg.LogFormat)
			version, err := database.Migrate(cfg.DatabaseURL, cfg.MigrationsPath, logger)
			if err != nil {
				return err
			}
			fmt.Printf("Database at migration version %d\n", version)
			return nil
		},
	}
}
