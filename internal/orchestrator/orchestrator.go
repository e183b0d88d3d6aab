package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/core/ports"
	"github.com/melih/lighthouse-stack/internal/errdefs"
	"github.com/melih/lighthouse-stack/internal/logging"
)

// DatabaseChecker verifies an external database connection string.
type DatabaseChecker interface {
	Ping(ctx context.Context, uri string) error
}

// DatabaseURIKey is the service environment key checked before startup.
const DatabaseURIKey = "MONGODB_URI"

// Options tune the orchestrator. Zero values fall back to defaults.
type Options struct {
	// ProbeHost is where published ports are probed from the host side.
	ProbeHost string
	// ReadinessTimeout caps every readiness wait.
	ReadinessTimeout time.Duration
	// PollInterval and MaxPollInterval bound the readiness backoff.
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	// Database runs the preflight; nil skips it.
	Database DatabaseChecker
	Metrics  *Metrics
}

// UpOptions change a single Up run.
type UpOptions struct {
	SkipBuild     bool
	SkipPreflight bool
	// ForceRecreate replaces containers that are already running.
	ForceRecreate bool
}

// DownOptions change a single Down run.
type DownOptions struct {
	RemoveNetwork bool
}

// Deployment records one Up run.
type Deployment struct {
	ID         string          `json:"id"`
	Project    string          `json:"project"`
	NetworkID  string          `json:"network_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Services   []ServiceStatus `json:"services"`
}

// ServiceStatus is the observed state of one service container.
type ServiceStatus struct {
	Service   string               `json:"service"`
	Container string               `json:"container"`
	ID        string               `json:"id,omitempty"`
	Exists    bool                 `json:"exists"`
	State     domain.State         `json:"state,omitempty"`
	Health    string               `json:"health,omitempty"`
	Ready     bool                 `json:"ready"`
	Ports     []domain.PortBinding `json:"ports,omitempty"`
	StartedAt time.Time            `json:"started_at"`
	HealthyAt time.Time            `json:"healthy_at"`
}

// Orchestrator drives a stack through the container runtime.
type Orchestrator struct {
	runtime ports.Runtime
	builder ports.BuilderService
	prober  ports.Prober
	opts    Options

	mu sync.Mutex
	// stopped holds containers stopped on purpose; they are never restarted.
	stopped map[string]bool
}

// New creates an orchestrator. builder and prober may be nil.
func New(runtime ports.Runtime, builder ports.BuilderService, prober ports.Prober, opts Options) *Orchestrator {
	if opts.ProbeHost == "" {
		opts.ProbeHost = "127.0.0.1"
	}
	if opts.ReadinessTimeout <= 0 {
		opts.ReadinessTimeout = 5 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.MaxPollInterval < opts.PollInterval {
		opts.MaxPollInterval = max(5*time.Second, opts.PollInterval)
	}
	return &Orchestrator{
		runtime: runtime,
		builder: builder,
		prober:  prober,
		opts:    opts,
		stopped: make(map[string]bool),
	}
}

// Up brings the stack up. A service is only started once every service it
// depends on reports ready.
func (o *Orchestrator) Up(ctx context.Context, stack *domain.Stack, opts UpOptions) (dep *Deployment, err error) {
	dep = &Deployment{ID: uuid.NewString(), Project: stack.Project, StartedAt: time.Now().UTC()}
	logger := logging.FromContext(ctx).With("project", stack.Project, "deployment", dep.ID)
	ctx = logging.WithLogger(ctx, logger)
	defer func() { o.opts.Metrics.observeDeployment(err) }()

	// 1. Validation
	if err := stack.Validate(); err != nil {
		return nil, err
	}
	order, err := stack.StartOrder()
	if err != nil {
		return nil, err
	}

	// 2. Database Preflight
	if o.opts.Database != nil && !opts.SkipPreflight {
		if err := o.preflight(ctx, stack); err != nil {
			return nil, err
		}
	}

	// 3. Network
	dep.NetworkID, err = o.runtime.EnsureNetwork(ctx, stack)
	if err != nil {
		return nil, err
	}

	// 4. Build from Source
	if !opts.SkipBuild {
		for _, svc := range order {
			if svc.Build == nil {
				continue
			}
			if o.builder == nil {
				return nil, fmt.Errorf("%w: %s needs a build but no builder is configured", errdefs.ErrBuildFailed, svc.Name)
			}
			image := svc.ImageName(stack.Project)
			logger.InfoContext(ctx, "building image", "service", svc.Name, "image", image)
			if _, err := o.builder.BuildImage(ctx, image, *svc.Build); err != nil {
				return nil, fmt.Errorf("build %s: %w", svc.Name, err)
			}
		}
	}

	// 5. Readiness-gated start
	ready := make(map[string]bool, len(order))
	for _, svc := range order {
		for _, name := range svc.DependsOn {
			if ready[name] {
				continue
			}
			dependency, _ := stack.Service(name)
			if err := o.WaitReady(ctx, stack, dependency); err != nil {
				return nil, fmt.Errorf("dependency of %s: %w", svc.Name, err)
			}
			ready[name] = true
		}
		if _, err := o.startService(ctx, stack, svc, opts.ForceRecreate); err != nil {
			return nil, err
		}
	}
	for _, svc := range order {
		if ready[svc.Name] {
			continue
		}
		if err := o.WaitReady(ctx, stack, svc); err != nil {
			return nil, err
		}
		ready[svc.Name] = true
	}

	dep.Services, err = o.Status(ctx, stack)
	if err != nil {
		return nil, err
	}
	dep.FinishedAt = time.Now().UTC()
	logger.InfoContext(ctx, "stack is up", "services", len(order), "took", dep.FinishedAt.Sub(dep.StartedAt).Round(time.Millisecond))
	return dep, nil
}

// preflight pings every distinct database connection string the services use.
func (o *Orchestrator) preflight(ctx context.Context, stack *domain.Stack) error {
	uris := lo.Uniq(lo.FilterMap(stack.Services, func(svc domain.Service, _ int) (string, bool) {
		uri, ok := svc.Environment[DatabaseURIKey]
		return uri, ok && uri != ""
	}))
	for _, uri := range uris {
		if err := o.opts.Database.Ping(ctx, uri); err != nil {
			return err
		}
	}
	logging.FromContext(ctx).DebugContext(ctx, "database preflight passed", "targets", len(uris))
	return nil
}

func (o *Orchestrator) startService(ctx context.Context, stack *domain.Stack, svc domain.Service, force bool) (string, error) {
	logger := logging.FromContext(ctx).With("service", svc.Name)
	name := stack.ContainerName(svc.Name)

	existing, err := o.runtime.InspectContainer(ctx, name)
	switch {
	case err == nil && existing.State == "running" && !force:
		logger.InfoContext(ctx, "container already running", "container", name)
		o.markStopped(name, false)
		return existing.ID, nil
	case err == nil:
		if err := o.runtime.RemoveContainer(ctx, name); err != nil {
			return "", err
		}
	case !errors.Is(err, errdefs.ErrContainerNotFound):
		return "", err
	}

	id, err := o.runtime.RunService(ctx, stack, svc)
	if err != nil {
		return "", err
	}
	o.markStopped(name, false)
	return id, nil
}

// Down stops and removes the services in reverse start order. Host
// directories bound into the containers are left untouched.
func (o *Orchestrator) Down(ctx context.Context, stack *domain.Stack, opts DownOptions) error {
	logger := logging.FromContext(ctx).With("project", stack.Project)
	order, err := stack.StopOrder()
	if err != nil {
		return err
	}

	var errs []error
	for _, svc := range order {
		name := stack.ContainerName(svc.Name)
		o.markStopped(name, true)
		if err := o.runtime.StopContainer(ctx, name); err != nil && !errors.Is(err, errdefs.ErrContainerNotFound) {
			errs = append(errs, err)
			continue
		}
		if err := o.runtime.RemoveContainer(ctx, name); err != nil {
			errs = append(errs, err)
			continue
		}
		o.opts.Metrics.setUp(svc.Name, false)
		logger.InfoContext(ctx, "service removed", "service", svc.Name)
	}

	if opts.RemoveNetwork && len(errs) == 0 {
		if err := o.runtime.RemoveNetwork(ctx, stack.Network.Name); err != nil {
			errs = append(errs, err)
		} else {
			logger.InfoContext(ctx, "network removed", "network", stack.Network.Name)
		}
	}
	return errors.Join(errs...)
}

// Status inspects every service container concurrently.
func (o *Orchestrator) Status(ctx context.Context, stack *domain.Stack) ([]ServiceStatus, error) {
	out := make([]ServiceStatus, len(stack.Services))
	g, gctx := errgroup.WithContext(ctx)
	for i, svc := range stack.Services {
		g.Go(func() error {
			st, err := o.serviceStatus(gctx, stack, svc)
			if err != nil {
				return err
			}
			out[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) serviceStatus(ctx context.Context, stack *domain.Stack, svc domain.Service) (ServiceStatus, error) {
	name := stack.ContainerName(svc.Name)
	st := ServiceStatus{Service: svc.Name, Container: name}
	c, err := o.runtime.InspectContainer(ctx, name)
	if errors.Is(err, errdefs.ErrContainerNotFound) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.ID = c.ID
	st.Exists = true
	st.State = c.Lifecycle()
	st.Health = c.Health
	st.Ready = c.Ready()
	st.Ports = c.Ports
	st.StartedAt = c.StartedAt
	st.HealthyAt = c.HealthyAt
	return st, nil
}

// Recreate replaces the container of one service and waits for it to be
// ready again.
func (o *Orchestrator) Recreate(ctx context.Context, stack *domain.Stack, service string) (ServiceStatus, error) {
	svc, err := stack.Service(service)
	if err != nil {
		return ServiceStatus{}, err
	}
	name := stack.ContainerName(svc.Name)
	logger := logging.FromContext(ctx).With("service", svc.Name)

	o.markStopped(name, true)
	if err := o.runtime.StopContainer(ctx, name); err != nil && !errors.Is(err, errdefs.ErrContainerNotFound) {
		return ServiceStatus{}, err
	}
	if err := o.runtime.RemoveContainer(ctx, name); err != nil {
		return ServiceStatus{}, err
	}
	if _, err := o.startService(ctx, stack, svc, true); err != nil {
		return ServiceStatus{}, err
	}
	if err := o.WaitReady(ctx, stack, svc); err != nil {
		return ServiceStatus{}, err
	}
	logger.InfoContext(ctx, "service recreated", "container", name)
	return o.serviceStatus(ctx, stack, svc)
}

// Logs returns the recent output of a service container.
func (o *Orchestrator) Logs(ctx context.Context, stack *domain.Stack, service string) (io.ReadCloser, error) {
	if _, err := stack.Service(service); err != nil {
		return nil, err
	}
	return o.runtime.GetContainerLogs(ctx, stack.ContainerName(service))
}

func (o *Orchestrator) markStopped(name string, stopped bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if stopped {
		o.stopped[name] = true
	} else {
		delete(o.stopped, name)
	}
}

func (o *Orchestrator) explicitlyStopped(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped[name]
}
