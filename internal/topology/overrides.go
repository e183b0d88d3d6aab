package topology

import (
	"fmt"
	"io"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/errdefs"
)

// Override adjusts a declared service. Zero fields leave the declaration
// untouched; map entries are merged key by key.
type Override struct {
	Image       string            `yaml:"image,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty"`
	User        string            `yaml:"user,omitempty"`
	Restart     string            `yaml:"restart,omitempty"`
	Dockerfile  string            `yaml:"dockerfile,omitempty"`
	Target      string            `yaml:"target,omitempty"`
	BuildArgs   map[string]string `yaml:"build_args,omitempty"`
}

// Overrides are keyed by service name.
type Overrides map[string]Override

// ReadOverrides decodes an overrides YAML document.
func ReadOverrides(r io.Reader) (Overrides, error) {
	var o Overrides
	if err := yaml.NewDecoder(r).Decode(&o); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode overrides: %w", err)
	}
	return o, nil
}

// ApplyOverrides merges overrides onto the matching services and
// re-validates the stack.
func ApplyOverrides(stack *domain.Stack, overrides Overrides) error {
	for name, o := range overrides {
		idx := -1
		for i := range stack.Services {
			if stack.Services[i].Name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: override for %s", errdefs.ErrServiceNotFound, name)
		}

		patch := domain.Service{
			Image:       o.Image,
			Environment: o.Environment,
			Labels:      o.Labels,
			User:        o.User,
			Restart:     domain.RestartPolicy(o.Restart),
		}
		svc := &stack.Services[idx]
		if err := mergo.Merge(svc, patch, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge override for %s: %w", name, err)
		}

		if svc.Build != nil && (o.Dockerfile != "" || o.Target != "" || len(o.BuildArgs) > 0) {
			build := *svc.Build
			if err := mergo.Merge(&build, domain.BuildSpec{Dockerfile: o.Dockerfile, Target: o.Target, Args: o.BuildArgs}, mergo.WithOverride); err != nil {
				return fmt.Errorf("failed to merge build override for %s: %w", name, err)
			}
			// a named Dockerfile wins over the rendered recipe
			if o.Dockerfile != "" {
				build.Inline = nil
			}
			svc.Build = &build
		}
	}
	return stack.Validate()
}
