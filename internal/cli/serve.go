package cli

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/melih/lighthouse-stack/internal/adapters/http"
	"github.com/melih/lighthouse-stack/internal/config"
	"github.com/melih/lighthouse-stack/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control plane and the health watchdog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Serve(cmd.Context(), st.v, st.settings)
		},
	}
	cmd.Flags().String(config.KeyListenAddr, ":3000", "control plane listen address")
	cmd.Flags().Duration(config.KeyWatchdogInterval, config.DefaultWatchdogInterval, "how often the watchdog inspects the services")
	cmd.Flags().Bool(config.KeySkipPreflight, false, "do not ping the database before starting")
	return cmd
}

func newWebCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "web",
		Short: "Serve the built frontend with SPA fallback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := httpadapter.NewWebServer(httpadapter.WebConfig{
				Root:        st.settings.WebRoot,
				APIUpstream: st.settings.APIUpstream,
			})
			if err != nil {
				return err
			}
			logging.FromContext(cmd.Context()).InfoContext(cmd.Context(), "web server starting",
				"addr", st.settings.WebListenAddr, "root", st.settings.WebRoot, "api", st.settings.APIUpstream)
			return listen(cmd.Context(), app, st.settings.WebListenAddr)
		},
	}
	cmd.Flags().String(config.KeyWebRoot, "./frontend/dist", "directory with the built frontend")
	cmd.Flags().String(config.KeyWebListenAddr, ":8080", "web server listen address")
	cmd.Flags().String(config.KeyAPIUpstream, "", "proxy /api to this URL, e.g. http://localhost:5000")
	return cmd
}

// Serve runs the control plane and the watchdog for the configured stack
// until ctx is done.
func Serve(ctx context.Context, v *viper.Viper, settings config.Settings) error {
	logger := logging.FromContext(ctx)

	stack, err := LoadStack(v, settings)
	if err != nil {
		return err
	}

	// 1. Metrics Registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 2. Adapters and Orchestrator
	svcs, err := NewServices(settings, reg, io.Discard)
	if err != nil {
		return err
	}
	defer svcs.Close()

	// 3. Handlers & Routes
	handler := httpadapter.NewStackHandler(svcs.Orchestrator, stack, svcs.Verifier(stack, settings, false))
	app := httpadapter.NewControlPlane(handler, reg, logger)

	// 4. Watchdog and Server
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := svcs.Orchestrator.Watchdog(stack, settings.WatchdogInterval).Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		logger.InfoContext(gctx, "control plane starting", "addr", settings.ListenAddr, "project", stack.Project)
		return listen(gctx, app, settings.ListenAddr)
	})
	return g.Wait()
}

// listen serves app until ctx is done, then shuts it down gracefully.
func listen(ctx context.Context, app *fiber.App, addr string) error {
	errCh := make(chan error, 1)
	go func() { errCh <- app.Listen(addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return app.ShutdownWithTimeout(shutdownTimeout)
	}
}
