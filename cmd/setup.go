package main

import (
	"context"
	"os"

	"github.com/desertthunder/universal/internal/shared"
	"github.com/urfave/cli/v3"
)

// Setup writes the example config when none exists and migrates the database.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	if _, err := os.Stat(r.configPath); os.IsNotExist(err) && r.configPath != "" {
		r.logger.Info("config file not found, creating from template", "path", r.configPath)
		if err := shared.CreateConfigFile(r.configPath); err != nil {
			return err
		}
		if r.config, err = shared.LoadConfig(r.configPath); err != nil {
			return err
		}
		r.config.ApplyEnv()
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)
	if err := r.open(ctx); err != nil {
		return err
	}
	return r.printer.Message("setup complete for database %s", r.config.Database.Path)
}
