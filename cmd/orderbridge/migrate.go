package main

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"orderbridge/internal/store"
)

func migrateCmd() *cobra.Command {
	var withSeed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema (and optionally the seed file)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("database.url is required for migrate")
			}
			ctx := cmd.Context()
			pg, err := store.NewPostgres(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
			log.Info("schema applied")
			if withSeed && cfg.SeedFile != "" {
				seed, err := store.LoadSeed(cfg.SeedFile)
				if err != nil {
					return err
				}
				if err := seed.ApplyPostgres(ctx, pg); err != nil {
					return err
				}
				log.Info("seed applied", zap.String("file", cfg.SeedFile))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withSeed, "seed", false, "also load seed_file")
	return cmd
}
