package domain

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/melih/lighthouse-stack/internal/errdefs"
)

// Role identifies what part a service plays in the stack.
type Role string

const (
	RoleCache Role = "cache"
	RoleAPI   Role = "api"
	RoleWeb   Role = "web"
)

// Service is the declaration of one containerized process of the stack.
type Service struct {
	Name        string            `json:"name"`
	Role        Role              `json:"role"`
	Image       string            `json:"image"`
	Build       *BuildSpec        `json:"build,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Ports       []PortBinding     `json:"ports,omitempty"`
	Volumes     []VolumeBinding   `json:"volumes,omitempty"`
	Health      *HealthProbe      `json:"health,omitempty"`
	Restart     RestartPolicy     `json:"restart"`
	Networks    []string          `json:"networks"`
	DependsOn   []string          `json:"depends_on,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	User        string            `json:"user,omitempty"`
}

// BuildSpec describes how to produce the service image from source.
// Exactly one of Context and Repository is set.
type BuildSpec struct {
	Context    string            `json:"context,omitempty"`
	Repository string            `json:"repository,omitempty"`
	Dockerfile string            `json:"dockerfile"`
	Target     string            `json:"target,omitempty"`
	Args       map[string]string `json:"args,omitempty"`
	// Inline, when set, is the recipe itself. It is added to the build
	// context under the Dockerfile name, replacing a file of that name.
	Inline []byte `json:"-"`
}

// PortBinding publishes a container port on the host.
type PortBinding struct {
	Host      int    `json:"host"`
	Container int    `json:"container"`
	Protocol  string `json:"protocol,omitempty"`
}

// Proto returns the binding protocol, tcp when unset.
func (p PortBinding) Proto() string {
	if p.Protocol == "" {
		return "tcp"
	}
	return p.Protocol
}

func (p PortBinding) String() string {
	return strconv.Itoa(p.Host) + ":" + strconv.Itoa(p.Container) + "/" + p.Proto()
}

// VolumeBinding is a host directory bind-mounted into the container.
type VolumeBinding struct {
	HostPath      string `json:"host_path"`
	ContainerPath string `json:"container_path"`
	ReadOnly      bool   `json:"read_only,omitempty"`
}

// ProbeKind selects how a service is probed.
type ProbeKind string

const (
	ProbeHTTP  ProbeKind = "http"
	ProbeRedis ProbeKind = "redis"
)

// HealthProbe is the liveness contract of a service.
type HealthProbe struct {
	Kind        ProbeKind     `json:"kind"`
	Path        string        `json:"path,omitempty"`
	Port        int           `json:"port"`
	Interval    time.Duration `json:"interval"`
	Timeout     time.Duration `json:"timeout"`
	Retries     int           `json:"retries"`
	StartPeriod time.Duration `json:"start_period"`
}

// Budget is the longest a service may take to turn healthy:
// the start period plus every retry at the probe interval.
func (h HealthProbe) Budget() time.Duration {
	return h.StartPeriod + time.Duration(h.Retries)*(h.Interval+h.Timeout)
}

// Command is the probe as run inside the container by the engine.
func (h HealthProbe) Command() []string {
	switch h.Kind {
	case ProbeRedis:
		return []string{"CMD", "redis-cli", "-p", strconv.Itoa(h.Port), "ping"}
	default:
		return []string{"CMD-SHELL", fmt.Sprintf("wget -qO- http://localhost:%d%s > /dev/null || exit 1", h.Port, h.Path)}
	}
}

// RestartPolicy decides whether the engine restarts a stopped service.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// Restarts reports whether the policy re-enters starting after a stop.
func (r RestartPolicy) Restarts(explicitStop bool) bool {
	switch r {
	case RestartAlways:
		return true
	case RestartOnFailure, RestartUnlessStopped:
		return !explicitStop
	default:
		return false
	}
}

// Validate checks the declaration of a single service.
func (s Service) Validate() error {
	if s.Name == "" {
		return errdefs.ErrServiceNameRequired
	}
	if s.Image == "" && s.Build == nil {
		return fmt.Errorf("%w: %s has neither image nor build", errdefs.ErrInvalidStack, s.Name)
	}
	if s.Build != nil && (s.Build.Context == "") == (s.Build.Repository == "") {
		return fmt.Errorf("%w: %s build needs exactly one of context or repository", errdefs.ErrInvalidStack, s.Name)
	}
	for _, p := range s.Ports {
		if !validPort(p.Host) || !validPort(p.Container) {
			return fmt.Errorf("%w: %s %d:%d", errdefs.ErrInvalidPort, s.Name, p.Host, p.Container)
		}
		if proto := p.Proto(); proto != "tcp" && proto != "udp" {
			return fmt.Errorf("%w: %s protocol %q", errdefs.ErrInvalidPort, s.Name, proto)
		}
	}
	for _, v := range s.Volumes {
		if !filepath.IsAbs(v.HostPath) || !filepath.IsAbs(v.ContainerPath) {
			return fmt.Errorf("%w: %s %s:%s must be absolute", errdefs.ErrInvalidVolume, s.Name, v.HostPath, v.ContainerPath)
		}
	}
	if h := s.Health; h != nil {
		if h.Kind != ProbeHTTP && h.Kind != ProbeRedis {
			return fmt.Errorf("%w: %s kind %q", errdefs.ErrInvalidProbe, s.Name, h.Kind)
		}
		if !validPort(h.Port) || h.Interval <= 0 || h.Timeout <= 0 || h.Retries < 1 {
			return fmt.Errorf("%w: %s", errdefs.ErrInvalidProbe, s.Name)
		}
	}
	switch s.Restart {
	case "", RestartNo, RestartAlways, RestartOnFailure, RestartUnlessStopped:
	default:
		return fmt.Errorf("%w: %s restart policy %q", errdefs.ErrInvalidStack, s.Name, s.Restart)
	}
	return nil
}

// ImageName is the reference the service runs, the built tag when it has a build.
func (s Service) ImageName(project string) string {
	if s.Image != "" {
		return s.Image
	}
	return project + "-" + s.Name + ":latest"
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
