package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"

	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/errdefs"
	"github.com/melih/lighthouse-stack/internal/logging"
)

var errStillStarting = errors.New("still starting")

// ReadinessDeadline is how long a service may take to become ready: its
// grace period plus the retry budget of its probe, capped by the
// configured readiness timeout.
func (o *Orchestrator) ReadinessDeadline(svc domain.Service) time.Duration {
	if svc.Health == nil {
		return o.opts.ReadinessTimeout
	}
	return min(svc.Health.Budget(), o.opts.ReadinessTimeout)
}

// WaitReady polls a service with exponential backoff until it reports ready,
// fails for good, or runs out of its deadline.
func (o *Orchestrator) WaitReady(ctx context.Context, stack *domain.Stack, svc domain.Service) error {
	logger := logging.FromContext(ctx).With("service", svc.Name)
	start := time.Now()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.opts.PollInterval
	b.MaxInterval = o.opts.MaxPollInterval
	b.MaxElapsedTime = o.ReadinessDeadline(svc)

	check := func() error {
		err := o.checkReady(ctx, stack, svc)
		switch {
		case err == nil:
			o.opts.Metrics.observeProbe(svc.Name, "ready")
		case errors.Is(err, errStillStarting):
			o.opts.Metrics.observeProbe(svc.Name, "not_ready")
		default:
			o.opts.Metrics.observeProbe(svc.Name, "failed")
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.DebugContext(ctx, "waiting for service", "reason", err, "retry_in", next)
	}

	if err := backoff.RetryNotify(check, backoff.WithContext(b, ctx), notify); err != nil {
		o.opts.Metrics.setUp(svc.Name, false)
		return fmt.Errorf("%w: %s after %s: %w", errdefs.ErrNotReady, svc.Name, time.Since(start).Round(time.Millisecond), err)
	}

	o.opts.Metrics.setUp(svc.Name, true)
	o.opts.Metrics.observeReady(svc.Name, time.Since(start).Seconds())
	logger.InfoContext(ctx, "service ready", "took", time.Since(start).Round(time.Millisecond))
	return nil
}

// checkReady returns nil once the service is ready, errStillStarting while it
// may still become ready, and a permanent error when it cannot.
func (o *Orchestrator) checkReady(ctx context.Context, stack *domain.Stack, svc domain.Service) error {
	name := stack.ContainerName(svc.Name)
	c, err := o.runtime.InspectContainer(ctx, name)
	if errors.Is(err, errdefs.ErrContainerNotFound) {
		return backoff.Permanent(err)
	}
	if err != nil {
		return err
	}

	switch c.Lifecycle() {
	case domain.StateHealthy, domain.StateRunning:
		if !c.Ready() {
			return errStillStarting
		}
	case domain.StateUnhealthy:
		return backoff.Permanent(fmt.Errorf("%w: %s reported unhealthy", errdefs.ErrProbeFailed, name))
	case domain.StateStopped:
		if !svc.Restart.Restarts(false) {
			return backoff.Permanent(fmt.Errorf("%w: %s exited", errdefs.ErrProbeFailed, name))
		}
		return errStillStarting
	default:
		return errStillStarting
	}

	// The engine says ready; confirm from the host when the probe port is published.
	if o.prober == nil || svc.Health == nil {
		return nil
	}
	published := lo.ContainsBy(svc.Ports, func(p domain.PortBinding) bool {
		return p.Container == svc.Health.Port && p.Proto() == "tcp"
	})
	if !published {
		return nil
	}
	return o.prober.Probe(ctx, o.opts.ProbeHost, svc)
}
