package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/melih/lighthouse-stack/internal/config"
	"github.com/melih/lighthouse-stack/internal/logging"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// state is shared by the commands of one root.
type state struct {
	v        *viper.Viper
	settings config.Settings
	logger   *slog.Logger
	format   string
}

// NewRootCmd builds the stackctl command tree.
func NewRootCmd() *cobra.Command {
	st := &state{v: config.NewViper()}

	cmd := &cobra.Command{
		Use:           "stackctl",
		Short:         "Declare, deploy and verify the cache, API and web stack",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Only the flags of the running command are bound, several
			// commands share a key.
			for _, key := range config.SettingKeys {
				if f := cmd.Flags().Lookup(key); f != nil {
					if err := st.v.BindPFlag(key, f); err != nil {
						return err
					}
				}
			}

			settings, err := config.LoadSettings(st.v)
			if err != nil {
				return err
			}
			st.settings = settings

			if err := config.LoadEnvFile(settings.EnvFile); err != nil {
				return err
			}

			st.logger = logging.New(cmd.ErrOrStderr(), settings.LogLevel)
			cmd.SetContext(logging.WithLogger(cmd.Context(), st.logger))
			st.logger.DebugContext(cmd.Context(), "settings loaded", "config", settings.ConfigFile, "env-file", settings.EnvFile)
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(config.KeyConfigFile, "", "YAML settings file")
	flags.String(config.KeyManifestPath, "", "compose manifest to load instead of the built-in topology")
	flags.String(config.KeyEnvFile, ".env", "dotenv file seeding the deployment variables")
	flags.String(config.KeyOverridesFile, "", "YAML file with per-service overrides")
	flags.String(config.KeyAPISource, "./backend", "build context of the API service, a directory or git URL")
	flags.String(config.KeyWebSource, "./frontend", "build context of the web service, a directory or git URL")
	flags.String(config.KeyLogLevel, "info", "log level (debug, info, warn, error)")
	flags.String(config.KeyProbeHost, "127.0.0.1", "host the published ports are probed on")
	flags.Duration(config.KeyReadinessTimeout, config.DefaultReadinessTimeout, "upper bound of every readiness wait")
	flags.Duration(config.KeyPreflightTimeout, config.DefaultPreflightTimeout, "upper bound of the database ping before up")
	flags.StringVarP(&st.format, "format", "f", "yaml", "output format (yaml, json)")

	cmd.AddCommand(
		newValidateCmd(st),
		newRenderCmd(st),
		newUpCmd(st),
		newDownCmd(st),
		newStatusCmd(st),
		newLogsCmd(st),
		newRecreateCmd(st),
		newVerifyCmd(st),
		newServeCmd(st),
		newWebCmd(st),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		// skip settings and env loading
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

// Execute runs the root command and reports the error on stderr.
func Execute(ctx context.Context, cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
