package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/netflix-shuffle/internal/browser/htmldoc"
	"github.com/xkilldash9x/netflix-shuffle/internal/control"
	"github.com/xkilldash9x/netflix-shuffle/internal/shuffle/resolver"
)

// newInspectCmd runs the selector strategies against a saved page, which
// is how selector drift is diagnosed after the site changes its markup.
func newInspectCmd(c *cli) *cobra.Command {
	var pageURL string
	cmd := &cobra.Command{
		Use:   "inspect <saved-page.html>",
		Short: "Reports which selector strategies match a saved Netflix page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			markup, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read page: %w", err)
			}
			doc, err := htmldoc.New(pageURL, string(markup))
			if err != nil {
				return err
			}
			report, err := resolver.Inspect(cmd.Context(), doc)
			if err != nil {
				return fmt.Errorf("inspection failed: %w", err)
			}
			return writeYAML(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&pageURL, "url", "https://www.netflix.com/title/0", "url the page was saved from")
	return cmd
}

func newConfigCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Prints the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeYAML(cmd.OutOrStdout(), c.cfg.Snapshot())
		},
	}
}

func newTokenCmd(c *cli) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issues a bearer token for the control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := control.IssueToken(c.cfg.Control().JWT, subject, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	return cmd
}
