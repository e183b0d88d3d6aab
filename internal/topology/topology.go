package topology

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/melih/lighthouse-stack/internal/config"
	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/errdefs"
	"github.com/melih/lighthouse-stack/internal/manifest"
)

// Service names of the default stack. They double as hostnames on the
// stack network.
const (
	CacheService = "cache"
	APIService   = "api"
	WebService   = "web"
)

const (
	CacheImage   = "redis:7-alpine"
	CachePort    = 6379
	APIPort      = 5000
	WebPort      = 80
	UploadsPath  = "/app/uploads"
	APIHealthURL = "/api/products"
	APIUser      = "app"
)

// Sources locates the build contexts of the custom services. Recipes, when
// rendered, replace the Dockerfiles found in those contexts.
type Sources struct {
	API     string
	Web     string
	Recipes manifest.Recipes
}

// Default declares the cache, API and static web services wired the way the
// deployment expects: cache first, then the API, then the web server.
func Default(env config.Environment, src Sources) (*domain.Stack, error) {
	labels, err := ParseLabels(env.ProjectLabel)
	if err != nil {
		return nil, err
	}

	netName := env.ProjectName + "_net"
	networks := []string{netName}

	cache := domain.Service{
		Name:  CacheService,
		Role:  domain.RoleCache,
		Image: CacheImage,
		Ports: []domain.PortBinding{{Host: CachePort, Container: CachePort}},
		Health: &domain.HealthProbe{
			Kind:        domain.ProbeRedis,
			Port:        CachePort,
			Interval:    10 * time.Second,
			Timeout:     5 * time.Second,
			Retries:     5,
			StartPeriod: 5 * time.Second,
		},
		Restart:  domain.RestartUnlessStopped,
		Networks: networks,
	}

	api := domain.Service{
		Name: APIService,
		Role: domain.RoleAPI,
		Build: &domain.BuildSpec{
			Context:    src.API,
			Dockerfile: "Dockerfile",
			Inline:     src.Recipes.API,
		},
		Environment: map[string]string{
			config.EnvNodeEnv:  env.NodeEnv,
			config.EnvMongoURI: env.MongoURI,
			config.EnvRedisURL: env.RedisURL,
			"PORT":             strconv.Itoa(APIPort),
		},
		Ports:   []domain.PortBinding{{Host: env.BackendPort, Container: APIPort}},
		Volumes: []domain.VolumeBinding{{HostPath: env.UploadsDir, ContainerPath: UploadsPath}},
		Health: &domain.HealthProbe{
			Kind:        domain.ProbeHTTP,
			Path:        APIHealthURL,
			Port:        APIPort,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			Retries:     3,
			StartPeriod: 40 * time.Second,
		},
		Restart:   domain.RestartUnlessStopped,
		Networks:  networks,
		DependsOn: []string{CacheService},
		User:      APIUser,
	}

	web := domain.Service{
		Name: WebService,
		Role: domain.RoleWeb,
		Build: &domain.BuildSpec{
			Context:    src.Web,
			Dockerfile: "Dockerfile",
			Inline:     src.Recipes.Web,
		},
		Ports: []domain.PortBinding{{Host: env.FrontendPort, Container: WebPort}},
		Health: &domain.HealthProbe{
			Kind:        domain.ProbeHTTP,
			Path:        "/",
			Port:        WebPort,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			Retries:     3,
			StartPeriod: 10 * time.Second,
		},
		Restart:   domain.RestartUnlessStopped,
		Networks:  networks,
		DependsOn: []string{APIService},
	}

	stack := &domain.Stack{
		Project: env.ProjectName,
		Labels:  labels,
		Network: domain.Network{
			Name:    netName,
			Driver:  "bridge",
			Subnet:  env.NetworkSubnet,
			IPRange: env.NetworkIPRange,
			Gateway: env.NetworkGateway,
		},
		Services: []domain.Service{cache, api, web},
	}
	if err := stack.Validate(); err != nil {
		return nil, err
	}
	return stack, nil
}

// ParseLabels reads a comma separated list of key=value pairs.
func ParseLabels(raw string) (map[string]string, error) {
	labels := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, val, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: label %q is not key=value", errdefs.ErrInvalidStack, pair)
		}
		labels[key] = strings.TrimSpace(val)
	}
	return labels, nil
}
