package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/slatedl/slate/internal/batch"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild index.json from the course directories on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir, err := openHome(cfg)
		if err != nil {
			return err
		}

		if err := batch.UpdateIndex(dir.Path(), slog.Default()); err != nil {
			return err
		}
		fmt.Printf("Index written to %s\n", dir.IndexPath())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
}
