package domain

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/melih/lighthouse-stack/internal/errdefs"
)

// LabelProject and LabelService are set on every container and network the
// stack owns, so they can be found again without local state.
const (
	LabelProject = "io.lighthouse.stack.project"
	LabelService = "io.lighthouse.stack.service"
)

// Stack is a deployment: a set of services sharing one network.
type Stack struct {
	Project  string            `json:"project"`
	Labels   map[string]string `json:"labels,omitempty"`
	Network  Network           `json:"network"`
	Services []Service         `json:"services"`
}

// Service returns the named service.
func (s *Stack) Service(name string) (Service, error) {
	svc, ok := lo.Find(s.Services, func(svc Service) bool { return svc.Name == name })
	if !ok {
		return Service{}, fmt.Errorf("%w: %s", errdefs.ErrServiceNotFound, name)
	}
	return svc, nil
}

// ContainerName is the engine-side name of a service container.
func (s *Stack) ContainerName(service string) string {
	return s.Project + "-" + service
}

// HostPorts maps every bound host port to the service owning it.
func (s *Stack) HostPorts() map[string]string {
	owners := make(map[string]string)
	for _, svc := range s.Services {
		for _, p := range svc.Ports {
			owners[fmt.Sprintf("%d/%s", p.Host, p.Proto())] = svc.Name
		}
	}
	return owners
}

// ServiceLabels returns the labels applied to a service container.
func (s *Stack) ServiceLabels(svc Service) map[string]string {
	labels := lo.Assign(s.Labels, svc.Labels)
	labels[LabelProject] = s.Project
	labels[LabelService] = svc.Name
	return labels
}

// Validate checks the whole stack: every service on its own, unique names,
// known acyclic dependencies, shared network membership and host ports
// that no two services bind.
func (s *Stack) Validate() error {
	if s.Project == "" {
		return errdefs.ErrProjectNameRequired
	}
	if err := s.Network.Validate(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(s.Services))
	for _, svc := range s.Services {
		if err := svc.Validate(); err != nil {
			return err
		}
		if seen[svc.Name] {
			return fmt.Errorf("%w: %s", errdefs.ErrDuplicateService, svc.Name)
		}
		seen[svc.Name] = true
		if !lo.Contains(svc.Networks, s.Network.Name) {
			return fmt.Errorf("%w: %s", errdefs.ErrNotOnNetwork, svc.Name)
		}
	}

	for _, svc := range s.Services {
		for _, dep := range svc.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("%w: %s depends on %s", errdefs.ErrUnknownDependency, svc.Name, dep)
			}
		}
	}

	owners := make(map[string]string)
	for _, svc := range s.Services {
		for _, p := range svc.Ports {
			key := fmt.Sprintf("%d/%s", p.Host, p.Proto())
			if owner, ok := owners[key]; ok {
				return fmt.Errorf("%w: %s is claimed by %s and %s", errdefs.ErrPortCollision, key, owner, svc.Name)
			}
			owners[key] = svc.Name
		}
	}

	_, err := s.StartOrder()
	return err
}

// StartOrder returns the services so that every service comes after its
// dependencies. Services that become startable together keep their
// declaration order.
func (s *Stack) StartOrder() ([]Service, error) {
	indegree := make(map[string]int, len(s.Services))
	dependents := make(map[string][]string)
	for _, svc := range s.Services {
		indegree[svc.Name] += 0
		for _, dep := range lo.Uniq(svc.DependsOn) {
			indegree[svc.Name]++
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	order := make([]Service, 0, len(s.Services))
	done := make(map[string]bool, len(s.Services))
	for len(order) < len(s.Services) {
		progressed := false
		for _, svc := range s.Services {
			if done[svc.Name] || indegree[svc.Name] > 0 {
				continue
			}
			done[svc.Name] = true
			order = append(order, svc)
			for _, d := range dependents[svc.Name] {
				indegree[d]--
			}
			progressed = true
			break
		}
		if !progressed {
			blocked := lo.FilterMap(s.Services, func(svc Service, _ int) (string, bool) {
				return svc.Name, !done[svc.Name]
			})
			return nil, fmt.Errorf("%w: %s", errdefs.ErrDependencyCycle, strings.Join(blocked, ", "))
		}
	}
	return order, nil
}

// StopOrder is StartOrder reversed: dependents go down first.
func (s *Stack) StopOrder() ([]Service, error) {
	order, err := s.StartOrder()
	if err != nil {
		return nil, err
	}
	return lo.Reverse(order), nil
}
