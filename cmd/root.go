// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/netflix-shuffle/internal/config"
	"github.com/xkilldash9x/netflix-shuffle/internal/observability"
)

// cli carries the state shared by the commands of one invocation.
type cli struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
}

// logger returns the global logger once PersistentPreRunE has run.
func (c *cli) logger() *zap.Logger { return observability.GetLogger() }

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "netflix-shuffle",
		Short: "Plays a random episode of the current Netflix show, and keeps doing it.",
		// Version is dynamically set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// This function runs before any command, setting up config and logging.
			if err := c.initializeConfig(); err != nil {
				return err
			}
			// Logs go to stderr so command output on stdout stays clean.
			observability.Initialize(c.cfg.Logger(), zapcore.Lock(os.Stderr))
			c.logger().Debug("Starting netflix-shuffle", zap.String("version", Version), zap.String("command", cmd.Name()))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newWatchCmd(c),
		newToggleCmd(c),
		newSetCmd(c, "enable", true),
		newSetCmd(c, "disable", false),
		newStatusCmd(c),
		newInspectCmd(c),
		newConfigCmd(c),
		newTokenCmd(c),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command with a signal-aware context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		observability.Sync()
		os.Exit(1)
	}
}

// initializeConfig reads in the config file and ENV variables if set.
func (c *cli) initializeConfig() error {
	v := c.v
	config.SetDefaults(v)
	if c.cfgFile != "" {
		v.SetConfigFile(c.cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SHUFFLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}
