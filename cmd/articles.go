package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/kblog/internal/manage"
)

func newArticlesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "articles",
		Short: "List, create, update and export articles",
	}
	cmd.AddCommand(
		newArticlesListCmd(),
		newArticlesCreateCmd(),
		newArticlesUpdateCmd(),
		newArticlesArchiveCmd(),
		newArticlesStatsCmd(),
		newArticlesExportCmd(),
		newArticlesReindexCmd(),
	)
	return cmd
}

// managerFrom resolves the manager from the command context.
func managerFrom(cmd *cobra.Command) (*manage.Manager, App, error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	return appInstance.Manager(), appInstance, nil
}

func newArticlesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List articles, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, _, err := managerFrom(cmd)
			if err != nil {
				return err
			}
			records, err := m.List()
			if err != nil {
				return fmt.Errorf("list articles: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SLUG\tPUBLISHED\tSTATUS\tCATEGORY\tVIEWS\tTITLE")
			for _, md := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					md.Slug, md.Published.Format("2006-01-02"), md.Status, md.Category, md.Stats.Views, md.Title)
			}
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("write list: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d article(s)\n", len(records))
			return nil
		},
	}
}

func newArticlesCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <file.md>",
		Short: "Publish a markdown file with YAML front matter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, appInstance, err := managerFrom(cmd)
			if err != nil {
				return err
			}
			res, err := m.CreateFromMarkdown(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("create article: %w", err)
			}
			appInstance.Logger().Info("article created", zap.String("slug", res.Slug))
			fmt.Fprintf(cmd.OutOrStdout(), "Created %q\n  slug: %s\n  url:  %s\n", res.Title, res.Slug, res.URL)
			return nil
		},
	}
}

func newArticlesUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <slug> <field.path> <value>",
		Short: "Set one metadata field and re-render the page",
		Long: `Set one metadata field, addressed by a dotted path such as
seo.metaDescription or settings.featured. String fields take the value
as-is; other fields parse it as JSON (true, 42, ["a","b"]).`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := managerFrom(cmd)
			if err != nil {
				return err
			}
			md, err := m.Update(args[0], args[1], args[2])
			if err != nil {
				return fmt.Errorf("update article: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s of %s (updated %s)\n",
				args[1], md.Slug, md.Updated.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func newArticlesArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <slug>",
		Short: "Mark an article archived",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := managerFrom(cmd)
			if err != nil {
				return err
			}
			md, err := m.Archive(args[0])
			if err != nil {
				return fmt.Errorf("archive article: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived %s\n", md.Slug)
			return nil
		},
	}
}

func newArticlesStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize engagement counters by category and author",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, _, err := managerFrom(cmd)
			if err != nil {
				return err
			}
			s, err := m.Stats()
			if err != nil {
				return fmt.Errorf("article stats: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Articles: %d\nViews: %d\nLikes: %d\nComments: %d\nShares: %d\n",
				s.Articles, s.Views, s.Likes, s.Comments, s.Shares)
			printCounts(cmd, "Categories", s.Categories)
			printCounts(cmd, "Authors", s.Authors)
			return nil
		},
	}
}

func printCounts(cmd *cobra.Command, title string, counts []manage.Count) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s:\n", title)
	for _, c := range counts {
		fmt.Fprintf(out, "  %s: %d\n", c.Label, c.Articles)
	}
}

func newArticlesExportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a markdown table of every article",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, _, err := managerFrom(cmd)
			if err != nil {
				return err
			}
			path, n, err := m.ExportFile(output)
			if err != nil {
				return fmt.Errorf("export articles: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d article(s) to %s\n", n, path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default "+manage.ExportPath+" under the content root)")
	return cmd
}

func newArticlesReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild data/articles.json from every metadata file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, _, err := managerFrom(cmd)
			if err != nil {
				return err
			}
			n, err := m.Reindex()
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d article(s)\n", n)
			return nil
		},
	}
}
