package manifest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
	"gopkg.in/yaml.v3"

	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/errdefs"
)

// LabelRole records the service role in the manifest so it survives a
// render/load round trip.
const LabelRole = "io.lighthouse.stack.role"

var probeURL = regexp.MustCompile(`http://localhost:(\d+)(/\S*)?`)

// ComposeFile is the subset of the Compose specification the stack uses.
type ComposeFile struct {
	Name     string                    `yaml:"name"`
	Services ComposeServices           `yaml:"services"`
	Networks map[string]ComposeNetwork `yaml:"networks,omitempty"`
}

// ComposeServices keeps the services in declaration order.
type ComposeServices []NamedService

// NamedService is one entry of the services mapping.
type NamedService struct {
	Name    string
	Service ComposeService
}

type ComposeService struct {
	Image         string              `yaml:"image,omitempty"`
	Build         *ComposeBuild       `yaml:"build,omitempty"`
	ContainerName string              `yaml:"container_name,omitempty"`
	User          string              `yaml:"user,omitempty"`
	Environment   map[string]string   `yaml:"environment,omitempty"`
	Ports         []string            `yaml:"ports,omitempty"`
	Volumes       []string            `yaml:"volumes,omitempty"`
	Networks      []string            `yaml:"networks,omitempty"`
	DependsOn     []string            `yaml:"depends_on,omitempty"`
	Restart       string              `yaml:"restart,omitempty"`
	HealthCheck   *ComposeHealthCheck `yaml:"healthcheck,omitempty"`
	Labels        map[string]string   `yaml:"labels,omitempty"`
}

type ComposeBuild struct {
	Context          string            `yaml:"context"`
	Dockerfile       string            `yaml:"dockerfile,omitempty"`
	DockerfileInline string            `yaml:"dockerfile_inline,omitempty"`
	Target           string            `yaml:"target,omitempty"`
	Args             map[string]string `yaml:"args,omitempty"`
}

type ComposeHealthCheck struct {
	Test        []string `yaml:"test"`
	Interval    string   `yaml:"interval,omitempty"`
	Timeout     string   `yaml:"timeout,omitempty"`
	Retries     int      `yaml:"retries,omitempty"`
	StartPeriod string   `yaml:"start_period,omitempty"`
}

type ComposeNetwork struct {
	Name   string            `yaml:"name,omitempty"`
	Driver string            `yaml:"driver,omitempty"`
	IPAM   *ComposeIPAM      `yaml:"ipam,omitempty"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

type ComposeIPAM struct {
	Driver string              `yaml:"driver,omitempty"`
	Config []ComposeIPAMConfig `yaml:"config,omitempty"`
}

type ComposeIPAMConfig struct {
	Subnet  string `yaml:"subnet,omitempty"`
	IPRange string `yaml:"ip_range,omitempty"`
	Gateway string `yaml:"gateway,omitempty"`
}

// MarshalYAML writes the services as a mapping in declaration order.
func (s ComposeServices) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, ns := range s {
		var val yaml.Node
		if err := val.Encode(ns.Service); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: ns.Name}, &val)
	}
	return node, nil
}

// UnmarshalYAML reads the services mapping, keeping its order.
func (s *ComposeServices) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: services must be a mapping", errdefs.ErrInvalidManifest)
	}
	out := make(ComposeServices, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var svc ComposeService
		if err := value.Content[i+1].Decode(&svc); err != nil {
			return fmt.Errorf("%w: service %s: %w", errdefs.ErrInvalidManifest, value.Content[i].Value, err)
		}
		out = append(out, NamedService{Name: value.Content[i].Value, Service: svc})
	}
	*s = out
	return nil
}

// FromStack converts a stack into its Compose representation.
func FromStack(stack *domain.Stack) (*ComposeFile, error) {
	order, err := stack.StartOrder()
	if err != nil {
		return nil, err
	}

	cf := &ComposeFile{
		Name: stack.Project,
		Networks: map[string]ComposeNetwork{
			stack.Network.Name: {
				Name:   stack.Network.Name,
				Driver: stack.Network.Driver,
				IPAM: &ComposeIPAM{
					Config: []ComposeIPAMConfig{{
						Subnet:  stack.Network.Subnet,
						IPRange: stack.Network.IPRange,
						Gateway: stack.Network.Gateway,
					}},
				},
				Labels: stack.Labels,
			},
		},
	}

	for _, svc := range order {
		cs := ComposeService{
			ContainerName: stack.ContainerName(svc.Name),
			User:          svc.User,
			Environment:   svc.Environment,
			Networks:      svc.Networks,
			DependsOn:     svc.DependsOn,
			Restart:       string(svc.Restart),
			Labels:        mergeLabels(stack.Labels, svc.Labels, svc.Role),
		}
		if svc.Build != nil {
			cs.Build = &ComposeBuild{
				Context:    buildContext(*svc.Build),
				Dockerfile: svc.Build.Dockerfile,
				Target:     svc.Build.Target,
				Args:       svc.Build.Args,
			}
			if len(svc.Build.Inline) > 0 {
				cs.Build.Dockerfile = ""
				cs.Build.DockerfileInline = string(svc.Build.Inline)
			}
		}
		cs.Image = svc.Image
		for _, p := range svc.Ports {
			spec := fmt.Sprintf("%d:%d", p.Host, p.Container)
			if p.Proto() != "tcp" {
				spec += "/" + p.Proto()
			}
			cs.Ports = append(cs.Ports, spec)
		}
		for _, v := range svc.Volumes {
			spec := v.HostPath + ":" + v.ContainerPath
			if v.ReadOnly {
				spec += ":ro"
			}
			cs.Volumes = append(cs.Volumes, spec)
		}
		if h := svc.Health; h != nil {
			cs.HealthCheck = &ComposeHealthCheck{
				Test:        h.Command(),
				Interval:    h.Interval.String(),
				Timeout:     h.Timeout.String(),
				Retries:     h.Retries,
				StartPeriod: h.StartPeriod.String(),
			}
		}
		cf.Services = append(cf.Services, NamedService{Name: svc.Name, Service: cs})
	}
	return cf, nil
}

// Render validates the stack and returns its Compose YAML.
func Render(stack *domain.Stack) ([]byte, error) {
	if err := stack.Validate(); err != nil {
		return nil, err
	}
	cf, err := FromStack(stack)
	if err != nil {
		return nil, err
	}
	return encode(cf)
}

// encode writes cf as YAML with every "$" doubled, so values such as
// passwords and recipes come back unchanged through interpolation.
func encode(cf *ComposeFile) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(cf); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	escapeDollars(&doc)

	var sb strings.Builder
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func escapeDollars(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		n.Value = strings.ReplaceAll(n.Value, "$", "$$")
	}
	for _, child := range n.Content {
		escapeDollars(child)
	}
}

// ToStack converts a Compose file back into a stack. The file must declare
// exactly one network, shared by its services.
func (cf *ComposeFile) ToStack() (*domain.Stack, error) {
	if len(cf.Networks) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one network, found %d", errdefs.ErrInvalidManifest, len(cf.Networks))
	}

	stack := &domain.Stack{Project: cf.Name}
	var netKey string
	for key, n := range cf.Networks {
		netKey = key
		name := n.Name
		if name == "" {
			name = key
		}
		stack.Network = domain.Network{Name: name, Driver: n.Driver}
		stack.Labels = n.Labels
		if n.IPAM != nil && len(n.IPAM.Config) > 0 {
			stack.Network.Subnet = n.IPAM.Config[0].Subnet
			stack.Network.IPRange = n.IPAM.Config[0].IPRange
			stack.Network.Gateway = n.IPAM.Config[0].Gateway
		}
	}

	for _, ns := range cf.Services {
		svc, err := toService(ns.Name, ns.Service, stack.Labels)
		if err != nil {
			return nil, err
		}
		stack.Services = append(stack.Services, svc)
	}
	// services refer to the network by its key, the stack by its name
	if netKey != stack.Network.Name {
		renameNetwork(stack, netKey, stack.Network.Name)
	}
	return stack, nil
}

func renameNetwork(stack *domain.Stack, from, to string) {
	for i := range stack.Services {
		for j, n := range stack.Services[i].Networks {
			if n == from {
				stack.Services[i].Networks[j] = to
			}
		}
	}
}

func toService(name string, cs ComposeService, stackLabels map[string]string) (domain.Service, error) {
	svc := domain.Service{
		Name:        name,
		Image:       cs.Image,
		User:        cs.User,
		Environment: cs.Environment,
		Networks:    cs.Networks,
		DependsOn:   cs.DependsOn,
		Restart:     domain.RestartPolicy(cs.Restart),
	}

	if len(cs.Labels) > 0 {
		svc.Labels = make(map[string]string)
		for k, v := range cs.Labels {
			switch {
			case k == LabelRole:
				svc.Role = domain.Role(v)
			default:
				if sv, ok := stackLabels[k]; ok && sv == v {
					continue
				}
				svc.Labels[k] = v
			}
		}
		if len(svc.Labels) == 0 {
			svc.Labels = nil
		}
	}

	if cs.Build != nil {
		svc.Build = &domain.BuildSpec{
			Dockerfile: cs.Build.Dockerfile,
			Target:     cs.Build.Target,
			Args:       cs.Build.Args,
		}
		if isRemoteContext(cs.Build.Context) {
			svc.Build.Repository = cs.Build.Context
		} else {
			svc.Build.Context = cs.Build.Context
		}
		if cs.Build.DockerfileInline != "" {
			svc.Build.Inline = []byte(cs.Build.DockerfileInline)
		}
		if svc.Build.Dockerfile == "" {
			svc.Build.Dockerfile = "Dockerfile"
		}
	}

	for _, raw := range cs.Ports {
		p, err := parsePort(raw)
		if err != nil {
			return domain.Service{}, fmt.Errorf("%w: service %s: %w", errdefs.ErrInvalidManifest, name, err)
		}
		svc.Ports = append(svc.Ports, p)
	}

	for _, raw := range cs.Volumes {
		parts := strings.Split(raw, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return domain.Service{}, fmt.Errorf("%w: service %s volume %q", errdefs.ErrInvalidVolume, name, raw)
		}
		svc.Volumes = append(svc.Volumes, domain.VolumeBinding{
			HostPath:      parts[0],
			ContainerPath: parts[1],
			ReadOnly:      len(parts) == 3 && parts[2] == "ro",
		})
	}

	if hc := cs.HealthCheck; hc != nil {
		probe, err := parseHealthCheck(hc)
		if err != nil {
			return domain.Service{}, fmt.Errorf("%w: service %s: %w", errdefs.ErrInvalidProbe, name, err)
		}
		svc.Health = probe
	}
	return svc, nil
}

func parseHealthCheck(hc *ComposeHealthCheck) (*domain.HealthProbe, error) {
	probe := &domain.HealthProbe{Retries: hc.Retries}
	var err error
	if probe.Interval, err = parseDuration(hc.Interval); err != nil {
		return nil, err
	}
	if probe.Timeout, err = parseDuration(hc.Timeout); err != nil {
		return nil, err
	}
	if probe.StartPeriod, err = parseDuration(hc.StartPeriod); err != nil {
		return nil, err
	}

	test := strings.Join(hc.Test, " ")
	switch {
	case strings.Contains(test, "redis-cli"):
		probe.Kind = domain.ProbeRedis
		probe.Port = 6379
		for i, arg := range hc.Test {
			if arg == "-p" && i+1 < len(hc.Test) {
				if probe.Port, err = strconv.Atoi(hc.Test[i+1]); err != nil {
					return nil, fmt.Errorf("redis probe port %q", hc.Test[i+1])
				}
			}
		}
	case strings.Contains(test, "http://"):
		probe.Kind = domain.ProbeHTTP
		m := probeURL.FindStringSubmatch(test)
		if m == nil {
			return nil, fmt.Errorf("http probe %q has no localhost url", test)
		}
		probe.Port, _ = strconv.Atoi(m[1])
		probe.Path = m[2]
		if probe.Path == "" {
			probe.Path = "/"
		}
	default:
		return nil, fmt.Errorf("%w: %q", errdefs.ErrUnsupportedProbe, test)
	}
	return probe, nil
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

func mergeLabels(stackLabels, svcLabels map[string]string, role domain.Role) map[string]string {
	out := make(map[string]string, len(stackLabels)+len(svcLabels)+1)
	for k, v := range stackLabels {
		out[k] = v
	}
	for k, v := range svcLabels {
		out[k] = v
	}
	if role != "" {
		out[LabelRole] = string(role)
	}
	return out
}

func buildContext(b domain.BuildSpec) string {
	if b.Repository != "" {
		return b.Repository
	}
	return b.Context
}

func isRemoteContext(ctx string) bool {
	for _, prefix := range []string{"https://", "http://", "git@", "git://", "ssh://"} {
		if strings.HasPrefix(ctx, prefix) {
			return true
		}
	}
	return false
}

// parsePort reads the short port syntax, host:container[/proto].
func parsePort(raw string) (domain.PortBinding, error) {
	mappings, err := nat.ParsePortSpec(raw)
	if err != nil {
		return domain.PortBinding{}, err
	}
	if len(mappings) != 1 {
		return domain.PortBinding{}, fmt.Errorf("%w: %q must map a single port", errdefs.ErrInvalidPort, raw)
	}
	m := mappings[0]
	if m.Binding.HostPort == "" {
		return domain.PortBinding{}, fmt.Errorf("%w: %q has no host port", errdefs.ErrInvalidPort, raw)
	}
	host, err := strconv.Atoi(m.Binding.HostPort)
	if err != nil {
		return domain.PortBinding{}, fmt.Errorf("%w: %q", errdefs.ErrInvalidPort, raw)
	}
	p := domain.PortBinding{Host: host, Container: m.Port.Int()}
	if proto := m.Port.Proto(); proto != "tcp" {
		p.Protocol = proto
	}
	return p, nil
}
