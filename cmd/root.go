package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/thindl/thindl/internal/config"
	"github.com/thindl/thindl/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// globalOptions are resolved once per invocation before any subcommand runs.
type globalOptions struct {
	configPath string
	logLevel   string
	settings   *config.Settings
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "thindl",
		Short:         "A small priority-ordered HTTP download manager",
		Long:          `thindl downloads files over HTTP(S) on a pool of workers, highest priority first, with resume and retry on timeouts.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.settings = settings

			level := settings.General.LogLevel
			if opts.logLevel != "" {
				level = opts.logLevel
			}
			utils.InitLogger(level, cmd.ErrOrStderr())
			utils.Debug("thindl %s (%s) starting, config %s", Version, BuildTime, opts.configPath)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "settings file (default: "+config.GetSettingsPath()+")")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override general.log_level")
	cmd.SetVersionTemplate("thindl version {{.Version}}\n")

	cmd.AddCommand(newGetCmd(opts), newConfigCmd(opts))
	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		root.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
