package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/kblog/internal/manage"
)

func newImagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Maintain featured image variants",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "backfill",
			Short: "Generate missing width variants for every original image",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, _, err := managerFrom(cmd)
				if err != nil {
					return err
				}
				report, err := m.BackfillImages(cmd.Context())
				if err != nil {
					return fmt.Errorf("backfill images: %w", err)
				}
				printReport(cmd, "image(s)", report)
				return nil
			},
		},
		&cobra.Command{
			Use:   "rewrite-html",
			Short: "Switch article pages to responsive featured image markup",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, _, err := managerFrom(cmd)
				if err != nil {
					return err
				}
				report, err := m.RewriteHTML()
				if err != nil {
					return fmt.Errorf("rewrite html: %w", err)
				}
				printReport(cmd, "page(s)", report)
				return nil
			},
		},
	)
	return cmd
}

func printReport(cmd *cobra.Command, noun string, r manage.Report) {
	fmt.Fprintf(cmd.OutOrStdout(), "Processed %d %s, skipped %d, failed %d\n", r.Processed, noun, r.Skipped, r.Failed)
}
