package docker

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	"github.com/samber/lo"

	"github.com/melih/lighthouse-stack/internal/core/domain"
)

// containerConfig builds the engine-side config of a service.
func containerConfig(stack *domain.Stack, svc domain.Service) *container.Config {
	cfg := &container.Config{
		Image:        svc.ImageName(stack.Project),
		Env:          envList(svc.Environment),
		ExposedPorts: nat.PortSet{},
		Labels:       stack.ServiceLabels(svc),
		User:         svc.User,
	}
	for _, p := range svc.Ports {
		cfg.ExposedPorts[nat.Port(strconv.Itoa(p.Container)+"/"+p.Proto())] = struct{}{}
	}
	if h := svc.Health; h != nil {
		cfg.Healthcheck = &container.HealthConfig{
			Test:        h.Command(),
			Interval:    h.Interval,
			Timeout:     h.Timeout,
			StartPeriod: h.StartPeriod,
			Retries:     h.Retries,
		}
	}
	return cfg
}

// hostConfig publishes ports, binds volumes and sets the restart policy.
func hostConfig(svc domain.Service) *container.HostConfig {
	hc := &container.HostConfig{
		PortBindings: nat.PortMap{},
	}
	for _, p := range svc.Ports {
		port := nat.Port(strconv.Itoa(p.Container) + "/" + p.Proto())
		hc.PortBindings[port] = append(hc.PortBindings[port], nat.PortBinding{HostPort: strconv.Itoa(p.Host)})
	}
	for _, v := range svc.Volumes {
		hc.Mounts = append(hc.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   v.HostPath,
			Target:   v.ContainerPath,
			ReadOnly: v.ReadOnly,
		})
	}
	switch svc.Restart {
	case domain.RestartAlways:
		hc.RestartPolicy.Name = "always"
	case domain.RestartOnFailure:
		hc.RestartPolicy.Name = "on-failure"
	case domain.RestartUnlessStopped:
		hc.RestartPolicy.Name = "unless-stopped"
	default:
		hc.RestartPolicy.Name = "no"
	}
	return hc
}

// networkingConfig attaches the service to the stack network under its
// service name, which makes it resolvable by that name from its peers.
func networkingConfig(stack *domain.Stack, svc domain.Service) *network.NetworkingConfig {
	return &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			stack.Network.Name: {Aliases: []string{svc.Name}},
		},
	}
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// healthFromStatus reads the health suffix of a container list status,
// e.g. "Up 3 minutes (healthy)".
func healthFromStatus(status string) string {
	switch {
	case strings.Contains(status, "(health: starting)"):
		return domain.HealthStarting
	case strings.Contains(status, "(unhealthy)"):
		return domain.HealthUnhealthy
	case strings.Contains(status, "(healthy)"):
		return domain.HealthHealthy
	}
	return domain.HealthNone
}

func containerFromSummary(c types.Container) domain.Container {
	// Use the first name if available, remove slash
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}
	out := domain.Container{
		ID:      shortID(c.ID),
		Name:    name,
		Service: c.Labels[domain.LabelService],
		Image:   c.Image,
		Status:  c.Status,
		State:   c.State,
		Health:  healthFromStatus(c.Status),
	}
	for _, p := range c.Ports {
		if p.PublicPort == 0 {
			continue
		}
		out.Ports = append(out.Ports, domain.PortBinding{Host: int(p.PublicPort), Container: int(p.PrivatePort), Protocol: p.Type})
	}
	out.Ports = sortPorts(out.Ports)
	if c.NetworkSettings != nil {
		for _, ep := range c.NetworkSettings.Networks {
			if ep != nil && ep.IPAddress != "" {
				out.IPAddress = ep.IPAddress
				break
			}
		}
	}
	return out
}

func containerFromInspect(c types.ContainerJSON) domain.Container {
	if c.ContainerJSONBase == nil {
		return domain.Container{}
	}
	out := domain.Container{
		ID:   shortID(c.ID),
		Name: strings.TrimPrefix(c.Name, "/"),
	}
	if c.Config != nil {
		out.Image = c.Config.Image
		out.Service = c.Config.Labels[domain.LabelService]
	}
	if c.State != nil {
		out.State = c.State.Status
		out.Status = c.State.Status
		if c.State.Health != nil {
			out.Health = c.State.Health.Status
		}
		if started, err := time.Parse(time.RFC3339Nano, c.State.StartedAt); err == nil && !started.IsZero() {
			out.StartedAt = started
			out.HealthyAt = healthyAt(started, c.State.Health)
		}
	}
	if c.NetworkSettings != nil {
		out.Ports = portsFromMap(c.NetworkSettings.Ports)
		for _, ep := range c.NetworkSettings.Networks {
			if ep != nil && ep.IPAddress != "" {
				out.IPAddress = ep.IPAddress
				break
			}
		}
	}
	return out
}

// maxHealthLog is how many health check results the engine keeps.
const maxHealthLog = 5

// healthyAt finds the first passing health check since started. When the
// log is full and starts with a pass, earlier results were dropped and the
// first pass is unknown.
func healthyAt(started time.Time, h *types.Health) time.Time {
	if h == nil {
		return time.Time{}
	}
	results := lo.Filter(h.Log, func(r *types.HealthcheckResult, _ int) bool {
		return r != nil && !r.Start.Before(started)
	})
	for i, r := range results {
		if r.ExitCode != 0 {
			continue
		}
		if i == 0 && len(h.Log) >= maxHealthLog {
			return time.Time{}
		}
		return r.End
	}
	return time.Time{}
}

func portsFromMap(m nat.PortMap) []domain.PortBinding {
	var out []domain.PortBinding
	for port, bindings := range m {
		for _, b := range bindings {
			host, err := strconv.Atoi(b.HostPort)
			if err != nil {
				continue
			}
			out = append(out, domain.PortBinding{Host: host, Container: port.Int(), Protocol: port.Proto()})
		}
	}
	return sortPorts(out)
}

// sortPorts drops the duplicate IPv4/IPv6 entries and orders by host port.
func sortPorts(ports []domain.PortBinding) []domain.PortBinding {
	if len(ports) == 0 {
		return nil
	}
	ports = lo.Uniq(ports)
	sort.Slice(ports, func(i, j int) bool {
		if ports[i].Host != ports[j].Host {
			return ports[i].Host < ports[j].Host
		}
		return ports[i].Proto() < ports[j].Proto()
	})
	return ports
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
