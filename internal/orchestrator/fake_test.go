package orchestrator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/errdefs"
)

// fakeRuntime is an in-memory container engine. Started containers report
// health starting and turn healthy after healthyAfter inspections.
type fakeRuntime struct {
	mu           sync.Mutex
	containers   map[string]*domain.Container
	inspections  map[string]int
	healthyAfter int
	unhealthy    map[string]bool
	networks     map[string]bool
	calls        []string
	// violations lists services started before a dependency was ready.
	violations []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		containers:   make(map[string]*domain.Container),
		inspections:  make(map[string]int),
		healthyAfter: 2,
		unhealthy:    make(map[string]bool),
		networks:     make(map[string]bool),
	}
}

func (f *fakeRuntime) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeRuntime) callsWithPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, strings.TrimPrefix(c, prefix))
		}
	}
	return out
}

func (f *fakeRuntime) ListContainers(_ context.Context, _ string) ([]domain.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Container, 0, len(f.containers))
	for _, c := range f.containers {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeRuntime) RunService(_ context.Context, stack *domain.Stack, svc domain.Service) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, dep := range svc.DependsOn {
		c, ok := f.containers[stack.ContainerName(dep)]
		if !ok || !c.Ready() {
			f.violations = append(f.violations, svc.Name)
		}
	}
	name := stack.ContainerName(svc.Name)
	if _, ok := f.containers[name]; ok {
		return "", fmt.Errorf("container name %s already in use", name)
	}
	health := domain.HealthNone
	if svc.Health != nil {
		health = domain.HealthStarting
	}
	id := fmt.Sprintf("%s-%d", svc.Name, len(f.calls))
	f.containers[name] = &domain.Container{
		ID: id, Name: name, Service: svc.Name, Image: svc.ImageName(stack.Project),
		State: "running", Health: health, Ports: svc.Ports,
	}
	f.inspections[name] = 0
	f.record("run:" + svc.Name)
	return id, nil
}

func (f *fakeRuntime) InspectContainer(_ context.Context, name string) (domain.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return domain.Container{}, fmt.Errorf("%w: %s", errdefs.ErrContainerNotFound, name)
	}
	f.inspections[name]++
	if c.Health == domain.HealthStarting && f.inspections[name] >= f.healthyAfter {
		c.Health = domain.HealthHealthy
		if f.unhealthy[c.Service] {
			c.Health = domain.HealthUnhealthy
		}
	}
	return *c, nil
}

func (f *fakeRuntime) StopContainer(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return fmt.Errorf("%w: %s", errdefs.ErrContainerNotFound, name)
	}
	c.State = "exited"
	f.record("stop:" + c.Service)
	return nil
}

func (f *fakeRuntime) RemoveContainer(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[name]; ok {
		f.record("remove:" + c.Service)
		delete(f.containers, name)
	}
	return nil
}

func (f *fakeRuntime) RestartContainer(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return fmt.Errorf("%w: %s", errdefs.ErrContainerNotFound, name)
	}
	c.State = "running"
	c.Health = domain.HealthHealthy
	f.record("restart:" + c.Service)
	return nil
}

func (f *fakeRuntime) GetContainerLogs(_ context.Context, name string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("logs of " + name)), nil
}

func (f *fakeRuntime) EnsureNetwork(_ context.Context, stack *domain.Stack) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks[stack.Network.Name] = true
	f.record("network:" + stack.Network.Name)
	return "net-" + stack.Network.Name, nil
}

func (f *fakeRuntime) RemoveNetwork(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.networks, name)
	f.record("rmnetwork:" + name)
	return nil
}

// setHealth overrides the health of a running service container.
func (f *fakeRuntime) setHealth(name, health string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[name].Health = health
}

type fakeBuilder struct {
	mu    sync.Mutex
	built []string
	err   error
}

func (b *fakeBuilder) BuildImage(_ context.Context, imageName string, _ domain.BuildSpec) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	b.built = append(b.built, imageName)
	return imageName, nil
}

type fakeDatabase struct {
	err  error
	uris []string
}

func (d *fakeDatabase) Ping(_ context.Context, uri string) error {
	d.uris = append(d.uris, uri)
	return d.err
}

type flakyProber struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (p *flakyProber) Probe(context.Context, string, domain.Service) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return fmt.Errorf("%w: connection refused", errdefs.ErrProbeFailed)
	}
	return nil
}

func testStack() *domain.Stack {
	probe := func(kind domain.ProbeKind, port int) *domain.HealthProbe {
		return &domain.HealthProbe{Kind: kind, Path: "/", Port: port, Interval: time.Second, Timeout: time.Second, Retries: 3, StartPeriod: time.Second}
	}
	return &domain.Stack{
		Project: "shop",
		Network: domain.Network{Name: "shop_net", Driver: "bridge", Subnet: "172.28.0.0/16", IPRange: "172.28.5.0/24", Gateway: "172.28.0.1"},
		Services: []domain.Service{
			{
				Name: "cache", Image: "redis:7-alpine", Networks: []string{"shop_net"},
				Ports: []domain.PortBinding{{Host: 6379, Container: 6379}}, Health: probe(domain.ProbeRedis, 6379),
				Restart: domain.RestartUnlessStopped,
			},
			{
				Name: "api", Build: &domain.BuildSpec{Context: "./backend"}, Networks: []string{"shop_net"},
				DependsOn:   []string{"cache"},
				Environment: map[string]string{DatabaseURIKey: "mongodb://db.example.com/shop"},
				Ports:       []domain.PortBinding{{Host: 5000, Container: 5000}},
				Volumes:     []domain.VolumeBinding{{HostPath: "/srv/uploads", ContainerPath: "/app/uploads"}},
				Health:      probe(domain.ProbeHTTP, 5000), Restart: domain.RestartUnlessStopped,
			},
			{
				Name: "web", Build: &domain.BuildSpec{Context: "./frontend"}, Networks: []string{"shop_net"},
				DependsOn: []string{"api"},
				Ports:     []domain.PortBinding{{Host: 8080, Container: 80}},
				Health:    probe(domain.ProbeHTTP, 80), Restart: domain.RestartUnlessStopped,
			},
		},
	}
}

func fastOptions() Options {
	return Options{
		PollInterval:     time.Millisecond,
		MaxPollInterval:  2 * time.Millisecond,
		ReadinessTimeout: 2 * time.Second,
	}
}
