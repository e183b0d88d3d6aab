package docker

import (
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-stack/internal/core/domain"
)

func apiStack() (*domain.Stack, domain.Service) {
	svc := domain.Service{
		Name:        "api",
		Build:       &domain.BuildSpec{Context: "./backend", Dockerfile: "Dockerfile"},
		Environment: map[string]string{"PORT": "5000", "NODE_ENV": "production"},
		Ports:       []domain.PortBinding{{Host: 5050, Container: 5000}},
		Volumes:     []domain.VolumeBinding{{HostPath: "/srv/uploads", ContainerPath: "/app/uploads"}},
		Health: &domain.HealthProbe{
			Kind: domain.ProbeHTTP, Path: "/api/products", Port: 5000,
			Interval: 30 * time.Second, Timeout: 10 * time.Second, Retries: 3, StartPeriod: 40 * time.Second,
		},
		Restart:  domain.RestartUnlessStopped,
		Networks: []string{"shop_net"},
		User:     "node",
	}
	stack := &domain.Stack{
		Project:  "shop",
		Labels:   map[string]string{"com.example.project": "shop"},
		Network:  domain.Network{Name: "shop_net"},
		Services: []domain.Service{svc},
	}
	return stack, svc
}

func TestContainerConfig(t *testing.T) {
	stack, svc := apiStack()
	cfg := containerConfig(stack, svc)

	assert.Equal(t, "shop-api:latest", cfg.Image)
	assert.Equal(t, []string{"NODE_ENV=production", "PORT=5000"}, cfg.Env)
	assert.Contains(t, cfg.ExposedPorts, nat.Port("5000/tcp"))
	assert.Equal(t, "node", cfg.User)
	assert.Equal(t, "shop", cfg.Labels[domain.LabelProject])
	assert.Equal(t, "api", cfg.Labels[domain.LabelService])
	assert.Equal(t, "shop", cfg.Labels["com.example.project"])

	require.NotNil(t, cfg.Healthcheck)
	assert.Equal(t, "CMD-SHELL", cfg.Healthcheck.Test[0])
	assert.Equal(t, 3, cfg.Healthcheck.Retries)
	assert.Equal(t, 40*time.Second, cfg.Healthcheck.StartPeriod)
}

func TestHostConfig(t *testing.T) {
	_, svc := apiStack()
	hc := hostConfig(svc)

	assert.Equal(t, []nat.PortBinding{{HostPort: "5050"}}, hc.PortBindings[nat.Port("5000/tcp")])
	assert.Equal(t, []mount.Mount{{Type: mount.TypeBind, Source: "/srv/uploads", Target: "/app/uploads"}}, hc.Mounts)
	assert.EqualValues(t, "unless-stopped", hc.RestartPolicy.Name)

	svc.Restart = ""
	assert.EqualValues(t, "no", hostConfig(svc).RestartPolicy.Name)
}

func TestNetworkingConfig_AliasIsServiceName(t *testing.T) {
	stack, svc := apiStack()
	nc := networkingConfig(stack, svc)
	require.Contains(t, nc.EndpointsConfig, "shop_net")
	assert.Equal(t, []string{"api"}, nc.EndpointsConfig["shop_net"].Aliases)
}

func TestHealthFromStatus(t *testing.T) {
	assert.Equal(t, domain.HealthHealthy, healthFromStatus("Up 2 minutes (healthy)"))
	assert.Equal(t, domain.HealthUnhealthy, healthFromStatus("Up 2 minutes (unhealthy)"))
	assert.Equal(t, domain.HealthStarting, healthFromStatus("Up 2 seconds (health: starting)"))
	assert.Equal(t, domain.HealthNone, healthFromStatus("Exited (1) 3 seconds ago"))
}

func TestContainerFromSummary(t *testing.T) {
	c := containerFromSummary(types.Container{
		ID:     "0123456789abcdef",
		Names:  []string{"/shop-api"},
		Image:  "shop-api:latest",
		State:  "running",
		Status: "Up 1 minute (healthy)",
		Labels: map[string]string{domain.LabelService: "api"},
		Ports: []types.Port{
			{IP: "0.0.0.0", PrivatePort: 5000, PublicPort: 5050, Type: "tcp"},
			{IP: "::", PrivatePort: 5000, PublicPort: 5050, Type: "tcp"},
			{PrivatePort: 9229, Type: "tcp"},
		},
		NetworkSettings: &types.SummaryNetworkSettings{
			Networks: map[string]*network.EndpointSettings{"shop_net": {IPAddress: "172.28.5.3"}},
		},
	})
	assert.Equal(t, "0123456789ab", c.ID)
	assert.Equal(t, "shop-api", c.Name)
	assert.Equal(t, "api", c.Service)
	assert.Equal(t, domain.HealthHealthy, c.Health)
	assert.Equal(t, "172.28.5.3", c.IPAddress)
	assert.Equal(t, []domain.PortBinding{{Host: 5050, Container: 5000, Protocol: "tcp"}}, c.Ports)
	assert.True(t, c.Ready())
}

func TestContainerFromInspect(t *testing.T) {
	c := containerFromInspect(types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    "abc",
			Name:  "/shop-cache",
			State: &types.ContainerState{Status: "running", Health: &types.Health{Status: "starting"}},
		},
		Config: &container.Config{Image: "redis:7-alpine", Labels: map[string]string{domain.LabelService: "cache"}},
		NetworkSettings: &types.NetworkSettings{
			NetworkSettingsBase: types.NetworkSettingsBase{
				Ports: nat.PortMap{"6379/tcp": {{HostIP: "0.0.0.0", HostPort: "6379"}, {HostIP: "::", HostPort: "6379"}}},
			},
		},
	})
	assert.Equal(t, "shop-cache", c.Name)
	assert.Equal(t, []domain.PortBinding{{Host: 6379, Container: 6379, Protocol: "tcp"}}, c.Ports)
	assert.Equal(t, "cache", c.Service)
	assert.Equal(t, domain.StateStarting, c.Lifecycle())

	assert.Equal(t, domain.Container{}, containerFromInspect(types.ContainerJSON{}))
}

func TestContainerFromInspect_HealthyAt(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	result := func(offset time.Duration, code int) *types.HealthcheckResult {
		return &types.HealthcheckResult{Start: started.Add(offset), End: started.Add(offset + time.Second), ExitCode: code}
	}
	c := containerFromInspect(types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			Name: "/shop-api",
			State: &types.ContainerState{
				Status:    "running",
				StartedAt: started.Format(time.RFC3339Nano),
				Health: &types.Health{Status: "healthy", Log: []*types.HealthcheckResult{
					result(10*time.Second, 1),
					result(40*time.Second, 0),
					result(70*time.Second, 0),
				}},
			},
		},
	})
	assert.Equal(t, started, c.StartedAt)
	assert.Equal(t, started.Add(41*time.Second), c.HealthyAt)
}

func TestHealthyAt(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pass := func(offset time.Duration) *types.HealthcheckResult {
		return &types.HealthcheckResult{Start: started.Add(offset), End: started.Add(offset)}
	}

	// complete log, first result passed
	assert.Equal(t, started.Add(time.Second), healthyAt(started, &types.Health{Log: []*types.HealthcheckResult{pass(time.Second)}}))

	// full log starting with a pass: the first pass has rotated out
	full := &types.Health{}
	for i := range maxHealthLog {
		full.Log = append(full.Log, pass(time.Duration(i+1)*time.Minute))
	}
	assert.True(t, healthyAt(started, full).IsZero())

	// results from before the start do not count
	stale := &types.Health{Log: []*types.HealthcheckResult{pass(-time.Minute)}}
	assert.True(t, healthyAt(started, stale).IsZero())
	assert.True(t, healthyAt(started, nil).IsZero())
}
