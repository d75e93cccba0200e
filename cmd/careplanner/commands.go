package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"careplanner/internal/importer"
	"careplanner/internal/model"
)

func materializeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "materialize [date]",
		Short: "Create the checklist rows for a day (default today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				date := a.engine.Today()
				if len(args) == 1 {
					if _, err := model.ParseDate(args[0]); err != nil {
						return err
					}
					date = args[0]
				}
				if err := a.engine.EnsureRecordsForDate(ctx, date); err != nil {
					return fmt.Errorf("materialize %s: %w", date, err)
				}
				completed, total, err := a.records.CountForDate(ctx, date)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d tasks, %d completed\n", date, total, completed)
				return nil
			})
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass with the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.syncAll(ctx)
				fmt.Printf("templates: pulled %d, pushed %d\n", report.TemplatesPulled, report.TemplatesPushed)
				fmt.Printf("records:   pulled %d, pushed %d\n", report.RecordsPulled, report.RecordsPushed)
				fmt.Printf("skipped %d, failed %d\n", report.Skipped, report.Failed)
				return err
			})
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import templates from a YAML care plan",
		Long: `Import templates from a YAML care plan.

Example plan:
  templates:
    - title: Take Metformin
      time: 8:00 AM
      category: MEDICATION
      priority: HIGH

Templates already present with the same title and time are skipped.
Run "careplanner sync" afterwards to push them to the remote store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read care plan: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				count, err := importer.Import(ctx, a.templSvc, data)
				fmt.Printf("Imported %d templates\n", count)
				return err
			})
		},
	}
}

func recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Re-arm every active reminder and print when each fires next",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.recovery.Recover(ctx); err != nil {
					return err
				}
				tpls, err := a.templates.ListActive(ctx)
				if err != nil {
					return err
				}
				for _, tpl := range tpls {
					if at, ok := a.alarms.Next(tpl.ID); ok {
						fmt.Printf("%-8s %-40s next %s\n", tpl.Time, tpl.Title, at.Format(time.RFC1123))
					} else {
						fmt.Printf("%-8s %-40s not armed\n", tpl.Time, tpl.Title)
					}
				}
				return nil
			})
		},
	}
}
