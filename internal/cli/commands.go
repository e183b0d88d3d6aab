package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/melih/lighthouse-stack/internal/config"
	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/manifest"
	"github.com/melih/lighthouse-stack/internal/orchestrator"
)

func newValidateCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the stack declaration without touching the engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := LoadStack(st.v, st.settings)
			if err != nil {
				return err
			}
			if err := stack.Validate(); err != nil {
				return err
			}
			order, err := stack.StartOrder()
			if err != nil {
				return err
			}
			names := lo.Map(order, func(svc domain.Service, _ int) string { return svc.Name })
			fmt.Fprintf(cmd.OutOrStdout(), "stack %s is valid, start order: %s\n", stack.Project, strings.Join(names, ", "))
			return nil
		},
	}
}

func newRenderCmd(st *state) *cobra.Command {
	var stdout bool
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Write the compose manifest, nginx config and Dockerfiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := LoadStack(st.v, st.settings)
			if err != nil {
				return err
			}
			if stdout {
				out, err := manifest.Render(stack)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			files, err := manifest.WriteBundle(st.settings.OutputDir, stack, manifest.DefaultBundleOptions())
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
	cmd.Flags().String(config.KeyOutputDir, "./deploy", "directory the bundle is written to")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print only the compose manifest")
	return cmd
}

func newUpCmd(st *state) *cobra.Command {
	var opts orchestrator.UpOptions
	var watch bool
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Build, start and wait for every service in dependency order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := LoadStack(st.v, st.settings)
			if err != nil {
				return err
			}
			svcs, err := NewServices(st.settings, nil, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer svcs.Close()

			dep, err := svcs.Orchestrator.Up(cmd.Context(), stack, opts)
			if err != nil {
				return err
			}
			if err := printFormatted(cmd.OutOrStdout(), dep, st.format); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			err = svcs.Orchestrator.Watchdog(stack, st.settings.WatchdogInterval).Run(cmd.Context())
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.SkipBuild, "skip-build", false, "reuse the images already built")
	cmd.Flags().BoolVar(&opts.ForceRecreate, "force-recreate", false, "replace containers that are already running")
	cmd.Flags().Bool(config.KeySkipPreflight, false, "do not ping the database before starting")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and restart services that turn unhealthy")
	cmd.Flags().Duration(config.KeyWatchdogInterval, config.DefaultWatchdogInterval, "how often the watchdog inspects the services")
	return cmd
}

func newDownCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop and remove the services, uploads stay on the host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := LoadStack(st.v, st.settings)
			if err != nil {
				return err
			}
			svcs, err := NewServices(st.settings, nil, io.Discard)
			if err != nil {
				return err
			}
			defer svcs.Close()
			return svcs.Orchestrator.Down(cmd.Context(), stack, orchestrator.DownOptions{
				RemoveNetwork: st.settings.RemoveNetwork,
			})
		},
	}
	cmd.Flags().Bool(config.KeyRemoveNetwork, false, "remove the stack network as well")
	return cmd
}

func newStatusCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show state and health of every service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := LoadStack(st.v, st.settings)
			if err != nil {
				return err
			}
			svcs, err := NewServices(st.settings, nil, io.Discard)
			if err != nil {
				return err
			}
			defer svcs.Close()
			statuses, err := svcs.Orchestrator.Status(cmd.Context(), stack)
			if err != nil {
				return err
			}
			return printFormatted(cmd.OutOrStdout(), statuses, st.format)
		},
	}
}

func newLogsCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "logs SERVICE",
		Short: "Print the recent output of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := LoadStack(st.v, st.settings)
			if err != nil {
				return err
			}
			svcs, err := NewServices(st.settings, nil, io.Discard)
			if err != nil {
				return err
			}
			defer svcs.Close()
			logs, err := svcs.Orchestrator.Logs(cmd.Context(), stack, args[0])
			if err != nil {
				return err
			}
			defer logs.Close()
			_, err = io.Copy(cmd.OutOrStdout(), logs)
			return err
		},
	}
}

func newRecreateCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "recreate SERVICE",
		Short: "Replace the container of a service and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := LoadStack(st.v, st.settings)
			if err != nil {
				return err
			}
			svcs, err := NewServices(st.settings, nil, io.Discard)
			if err != nil {
				return err
			}
			defer svcs.Close()
			status, err := svcs.Orchestrator.Recreate(cmd.Context(), stack, args[0])
			if err != nil {
				return err
			}
			return printFormatted(cmd.OutOrStdout(), status, st.format)
		},
	}
}

func newVerifyCmd(st *state) *cobra.Command {
	var disruptive bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run the deployment acceptance checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := LoadStack(st.v, st.settings)
			if err != nil {
				return err
			}
			svcs, err := NewServices(st.settings, nil, io.Discard)
			if err != nil {
				return err
			}
			defer svcs.Close()

			report := svcs.Verifier(stack, st.settings, disruptive).Run(cmd.Context())
			if err := printFormatted(cmd.OutOrStdout(), report, st.format); err != nil {
				return err
			}
			return report.Err()
		},
	}
	cmd.Flags().BoolVar(&disruptive, "disruptive", false, "also recreate the API and the network")
	return cmd
}
