package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/netflix-shuffle/internal/messenger"
	"github.com/xkilldash9x/netflix-shuffle/internal/store"
)

// withCoordinator opens the configured store and hands fn a coordinator
// over it. The coordinator's message channel is not served; only its flag
// operations are used.
func withCoordinator(c *cli, cmd *cobra.Command, fn func(*messenger.Coordinator, store.Store) error) error {
	logger := c.logger()
	st, err := store.Open(cmd.Context(), c.cfg.Store(), logger)
	if err != nil {
		return err
	}
	defer st.Close()
	coord := messenger.NewCoordinator(st, messenger.LogBadge{Logger: logger}, messenger.NewChannel(0), c.cfg.Reference().BaseURL, logger)
	return fn(coord, st)
}

func newToggleCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle [tab-url]",
		Short: "Flips shuffle on or off, remembering the show of tab-url if given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(c, cmd, func(coord *messenger.Coordinator, st store.Store) error {
				enabled, err := coord.Toggle(cmd.Context(), firstArg(args))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "shuffle %s\n", onOff(enabled))
				return nil
			})
		},
	}
}

func newSetCmd(c *cli, use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [tab-url]",
		Short: fmt.Sprintf("Turns shuffle %s", onOff(enabled)),
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(c, cmd, func(coord *messenger.Coordinator, st store.Store) error {
				if err := coord.SetEnabled(cmd.Context(), enabled, firstArg(args)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "shuffle %s\n", onOff(enabled))
				return nil
			})
		},
	}
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Shows the stored shuffle state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(c, cmd, func(_ *messenger.Coordinator, st store.Store) error {
				values, err := store.Describe(cmd.Context(), st)
				if err != nil {
					return err
				}
				return writeYAML(cmd.OutOrStdout(), map[string]any{
					"backend":             c.cfg.Store().Backend,
					store.KeyEnabled:      store.ParseBool(values[store.KeyEnabled]),
					store.KeyLastTitleURL: values[store.KeyLastTitleURL],
				})
			})
		},
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func onOff(enabled bool) string {
	return map[bool]string{true: "on", false: "off"}[enabled]
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to render yaml: %w", err)
	}
	return enc.Close()
}
