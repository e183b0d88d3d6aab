package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"github.com/spf13/viper"

	"github.com/melih/lighthouse-stack/internal/adapters/builder"
	"github.com/melih/lighthouse-stack/internal/adapters/docker"
	"github.com/melih/lighthouse-stack/internal/adapters/probe"
	"github.com/melih/lighthouse-stack/internal/config"
	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/manifest"
	"github.com/melih/lighthouse-stack/internal/orchestrator"
	"github.com/melih/lighthouse-stack/internal/topology"
	"github.com/melih/lighthouse-stack/internal/verify"
)

// LoadStack returns the stack selected by the settings: a compose manifest
// when one is given, the built-in topology otherwise. Overrides are applied
// on top of either.
func LoadStack(v *viper.Viper, s config.Settings) (*domain.Stack, error) {
	var stack *domain.Stack
	if s.ManifestPath != "" {
		var err error
		stack, err = manifest.LoadFile(s.ManifestPath, os.LookupEnv)
		if err != nil {
			return nil, err
		}
	} else {
		env, err := config.LoadEnvironment(v)
		if err != nil {
			return nil, err
		}
		recipes, err := manifest.RenderRecipes(manifest.DefaultBundleOptions())
		if err != nil {
			return nil, err
		}
		stack, err = topology.Default(env, topology.Sources{API: s.APISource, Web: s.WebSource, Recipes: recipes})
		if err != nil {
			return nil, err
		}
	}

	if s.OverridesFile == "" {
		return stack, nil
	}
	f, err := os.Open(s.OverridesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open overrides: %w", err)
	}
	defer f.Close()
	overrides, err := topology.ReadOverrides(f)
	if err != nil {
		return nil, err
	}
	if err := topology.ApplyOverrides(stack, overrides); err != nil {
		return nil, err
	}
	return stack, nil
}

// Services are the adapters and the orchestrator built from the settings.
type Services struct {
	Docker       *docker.Adapter
	Database     *probe.MongoProber
	Metrics      *orchestrator.Metrics
	Orchestrator *orchestrator.Orchestrator
}

// NewServices connects to the engine and wires the orchestrator. Metrics are
// registered on reg when it is not nil; build output goes to buildOutput.
func NewServices(s config.Settings, reg prometheus.Registerer, buildOutput io.Writer) (*Services, error) {
	// 1. Initialize Adapters (Infrastructure)
	dockerAdapter, err := docker.NewAdapter()
	if err != nil {
		return nil, err
	}
	builderAdapter := builder.NewBuilderAdapterWithClient(dockerAdapter.Client()).WithOutput(buildOutput)
	database := newDatabaseChecker(s)

	// 2. Orchestration (Use Cases)
	metrics := orchestrator.NewMetrics(reg)
	opts := orchestrator.Options{
		ProbeHost:        s.ProbeHost,
		ReadinessTimeout: s.ReadinessTimeout,
		Metrics:          metrics,
	}
	if !s.SkipPreflight {
		opts.Database = database
	}
	orch := orchestrator.New(dockerAdapter, builderAdapter, probe.NewRegistry(), opts)

	return &Services{
		Docker:       dockerAdapter,
		Database:     database,
		Metrics:      metrics,
		Orchestrator: orch,
	}, nil
}

// newDatabaseChecker bounds the preflight ping by its own timeout, far
// shorter than a readiness wait.
func newDatabaseChecker(s config.Settings) *probe.MongoProber {
	return probe.NewMongoProber(s.PreflightTimeout)
}

func (s *Services) Close() error {
	return s.Docker.Close()
}

// Verifier builds the acceptance checks for stack.
func (s *Services) Verifier(stack *domain.Stack, settings config.Settings, disruptive bool) *verify.Verifier {
	return verify.New(s.Orchestrator, stack, verify.Config{
		WebURL:     WebURL(stack, settings.ProbeHost),
		Disruptive: disruptive,
		Database:   s.Database,
	})
}

// WebURL is the host side address of the static web service, or empty when
// it publishes no port.
func WebURL(stack *domain.Stack, host string) string {
	web, ok := lo.Find(stack.Services, func(svc domain.Service) bool { return svc.Role == domain.RoleWeb })
	if !ok {
		return ""
	}
	port, ok := lo.Find(web.Ports, func(p domain.PortBinding) bool { return p.Container == topology.WebPort })
	if !ok {
		return ""
	}
	return "http://" + host + ":" + strconv.Itoa(port.Host)
}
