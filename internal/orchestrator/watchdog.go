package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/errdefs"
	"github.com/melih/lighthouse-stack/internal/logging"
)

// Watchdog restarts containers that turned unhealthy. The engine only
// restarts containers that exit, so an unhealthy but running process would
// otherwise stay up forever.
type Watchdog struct {
	orch     *Orchestrator
	stack    *domain.Stack
	interval time.Duration
}

func (o *Orchestrator) Watchdog(stack *domain.Stack, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Watchdog{orch: o, stack: stack, interval: interval}
}

// Run sweeps every interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx).With("project", w.stack.Project)
	logger.InfoContext(ctx, "watchdog started", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "watchdog stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				logger.WarnContext(ctx, "watchdog sweep failed", "error", err)
			}
		}
	}
}

// Heal runs a single watchdog sweep over stack.
func (o *Orchestrator) Heal(ctx context.Context, stack *domain.Stack) ([]string, error) {
	return o.Watchdog(stack, 0).Sweep(ctx)
}

// Sweep inspects every service once and returns the services it restarted.
func (w *Watchdog) Sweep(ctx context.Context) ([]string, error) {
	logger := logging.FromContext(ctx)
	var restarted []string
	var errs []error

	for _, svc := range w.stack.Services {
		name := w.stack.ContainerName(svc.Name)
		c, err := w.orch.runtime.InspectContainer(ctx, name)
		if errors.Is(err, errdefs.ErrContainerNotFound) {
			w.orch.opts.Metrics.setUp(svc.Name, false)
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}

		state := c.Lifecycle()
		w.orch.opts.Metrics.setUp(svc.Name, c.Ready())
		if state != domain.StateUnhealthy {
			continue
		}

		explicit := w.orch.explicitlyStopped(name)
		if !domain.StateStopped.CanTransition(domain.StateStarting, svc.Restart, explicit) {
			logger.WarnContext(ctx, "unhealthy service left alone", "service", svc.Name, "restart", svc.Restart, "explicit_stop", explicit)
			continue
		}

		logger.WarnContext(ctx, "restarting unhealthy service", "service", svc.Name, "container", name)
		if err := w.orch.runtime.RestartContainer(ctx, name); err != nil {
			errs = append(errs, err)
			continue
		}
		w.orch.opts.Metrics.observeRestart(svc.Name)
		restarted = append(restarted, svc.Name)
	}
	return restarted, errors.Join(errs...)
}
