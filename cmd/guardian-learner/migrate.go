package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jordanhubbard/guardian/internal/database"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the learning tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := database.New(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema ready\n", db.Dialect())
			return nil
		},
	}
}
