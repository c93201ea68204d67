package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var coursesCmd = &cobra.Command{
	Use:   "courses",
	Short: "List the courses visible to your portal account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir, err := openHome(cfg)
		if err != nil {
			return err
		}

		client, err := connectPortal(ctx, cfg, slog.Default())
		if err != nil {
			return err
		}
		defer client.Logout(ctx)

		subjects, err := client.Subjects(ctx)
		if err != nil {
			return err
		}
		if err := writeSubjects(dir.SubjectsPath(), subjects); err != nil {
			slog.Warn("failed to cache subject listing", "error", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"ID", "Code", "Name"})
		for _, subject := range subjects {
			t.AppendRow(table.Row{subject.ID, subject.SubjectCode, subject.SubjectName})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()

		fmt.Printf("%d courses (cached at %s)\n", len(subjects), dir.SubjectsPath())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(coursesCmd)
}
